package types

// ---- Common service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "up", "degraded", "error"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// Link is the state of a link or device.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

// ---- Application payloads ----

// Phase is the user-visible stage of the measurement cycle.
type Phase string

const (
	PhaseWarming   Phase = "warming"
	PhaseReady     Phase = "ready"
	PhaseMeasuring Phase = "measuring"
)

// AppState is published retained on app/state whenever the phase changes.
type AppState struct {
	Phase    Phase  `json:"phase"`
	Baseline uint16 `json:"baseline"`
	TS       int64  `json:"ts_ms"`
}

// Result is one finished measurement, published on app/result.
type Result struct {
	Sample   uint16 `json:"sample"`
	Baseline uint16 `json:"baseline"`
	Percent  uint32 `json:"percent"`
	Severity string `json:"severity"`
	Remote   bool   `json:"remote"`
	TS       int64  `json:"ts_ms"`
}

// SensorRaw is the periodic raw sample, published retained on sensor/raw.
type SensorRaw struct {
	Value uint16 `json:"value"`
	TS    int64  `json:"ts_ms"`
}

// RadioReport is published on app/radio for every packet sent.
type RadioReport struct {
	ID      uint16 `json:"id"`
	Channel uint8  `json:"channel"`
	Data    uint32 `json:"data"`
	TS      int64  `json:"ts_ms"`
}

// Health is the periodic telemetry snapshot published on sched/stats.
type Health struct {
	UptimeMs int64  `json:"uptime_ms"`
	Stats    any    `json:"stats"`
	Dropped  uint32 `json:"dropped"`
	BusDrops uint32 `json:"bus_drops"`
	LogDrops uint32 `json:"log_drops"`
	TS       int64  `json:"ts_ms"`
}
