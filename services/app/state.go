package app

import (
	"time"

	"alcosense-go/types"
)

// Request is the payload of the button task.
type Request uint8

const (
	Press         Request = iota // local button edge
	RemoteMeasure                // measurement asked for over the radio or uplink
	MeasureDone                  // measurement window elapsed
)

func (r Request) String() string {
	switch r {
	case Press:
		return "press"
	case RemoteMeasure:
		return "remote"
	case MeasureDone:
		return "measure_done"
	}
	return "unknown"
}

// State is the application cell shared by the sequencer tasks.
type State struct {
	Ready     bool
	WarmCount int

	Measuring    bool
	MeasureCount int
	Remote       bool // current measurement was requested remotely

	LastPress time.Time

	Last      types.Result
	HasResult bool

	// Accum holds the running per-channel totals of the counter application.
	Accum [2]uint32

	// Alarming is set while an alarm pattern owns the buzzer timers.
	// AlarmLeft counts its remaining interval ticks.
	Alarming  bool
	AlarmLeft int

	RxAccepted  uint32
	RxDiscarded uint32
	RxMalformed uint32
}
