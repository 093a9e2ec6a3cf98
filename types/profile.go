package types

import "time"

// Profile is the complete device configuration. Profiles are embedded YAML
// documents keyed by device name; any field left out keeps its default.
type Profile struct {
	Device    string           `yaml:"device" json:"device"`
	Address   uint16           `yaml:"address" json:"address"`
	Radio     RadioProfile     `yaml:"radio" json:"radio"`
	Timers    TimerProfile     `yaml:"timers" json:"timers"`
	Sensor    SensorProfile    `yaml:"sensor" json:"sensor"`
	Alarm     AlarmProfile     `yaml:"alarm" json:"alarm"`
	Button    ButtonProfile    `yaml:"button" json:"button"`
	Sched     SchedProfile     `yaml:"sched" json:"sched"`
	Telemetry TelemetryProfile `yaml:"telemetry" json:"telemetry"`
	Bridge    BridgeProfile    `yaml:"bridge" json:"bridge"`
	Log       LogProfile       `yaml:"log" json:"log"`
}

type RadioProfile struct {
	Frequency       uint32 `yaml:"frequency" json:"frequency"`
	SpreadingFactor uint8  `yaml:"spreading_factor" json:"spreading_factor"`
	TxPower         int8   `yaml:"tx_power" json:"tx_power"`
	BufferSize      int    `yaml:"buffer_size" json:"buffer_size"`
}

// TimerProfile holds every periodic tick. A zero Ping disables the uplink ping.
type TimerProfile struct {
	Tone     time.Duration `yaml:"tone" json:"tone"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Warmup   time.Duration `yaml:"warmup" json:"warmup"`
	Measure  time.Duration `yaml:"measure" json:"measure"`
	Poll     time.Duration `yaml:"poll" json:"poll"`
	Ping     time.Duration `yaml:"ping" json:"ping"`
}

type SensorProfile struct {
	WarmupTicks     int      `yaml:"warmup_ticks" json:"warmup_ticks"`
	MeasureTicks    int      `yaml:"measure_ticks" json:"measure_ticks"`
	BaselineSamples int      `yaml:"baseline_samples" json:"baseline_samples"`
	Ladder          []uint16 `yaml:"ladder" json:"ladder"`
	HeaterActiveLow bool     `yaml:"heater_active_low" json:"heater_active_low"`
}

type AlarmProfile struct {
	// Level is the lowest severity name that sounds the alarm.
	Level  string `yaml:"level" json:"level"`
	Cycles int    `yaml:"cycles" json:"cycles"`
}

type ButtonProfile struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

type SchedProfile struct {
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
}

type TelemetryProfile struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

type BridgeProfile struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Baud    int  `yaml:"baud" json:"baud"`
	TxPin   int  `yaml:"tx_pin" json:"tx_pin"`
	RxPin   int  `yaml:"rx_pin" json:"rx_pin"`

	// Port is the host serial device used as the uplink, e.g. /dev/ttyUSB0.
	Port string `yaml:"port" json:"port"`
}

type LogProfile struct {
	Level    string `yaml:"level" json:"level"`
	RingSize int    `yaml:"ring_size" json:"ring_size"`
}
