// Package breathalyzer drives a heated metal-oxide alcohol sensor: one
// output pin for the heater and one ADC channel for the sense element.
//
//	d.On()                  // start heating; readings settle after warm-up
//	base, _ := d.CaptureBaseline(8)
//	d.BeginMeasure()
//	r, err := d.Read()      // sample + classify against the baseline
//	d.EndMeasure()
//
// Classification is integer-only: percent = sample*100/baseline, compared
// against a ladder of per-severity lower bounds scanned from the top.
package breathalyzer

import (
	"strconv"

	"github.com/pkg/errors"

	"alcosense-go/errcode"
	"alcosense-go/x/mathx"
)

// ADC is one analog channel.
type ADC interface {
	Read() (uint16, error)
}

// Pin is a push-pull output.
type Pin interface {
	Set(level bool)
}

// Severity is the ordered classification scale.
type Severity uint8

const (
	None Severity = iota
	Low
	Medium
	High
	VeryHigh
	Death
)

var severityNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "VERY_HIGH", "DEATH"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "severity(" + strconv.Itoa(int(s)) + ")"
}

// ParseSeverity accepts the names produced by String.
func ParseSeverity(s string) (Severity, bool) {
	for i, n := range severityNames {
		if n == s {
			return Severity(i), true
		}
	}
	return None, false
}

// Ladder holds the percent lower bound for Low..Death. Bounds must be
// non-decreasing.
type Ladder [5]uint16

// MaxPercent caps Reading.Percent so it fits the 16-bit ladder domain.
const MaxPercent = 0xFFFF

// DefaultLadder is used when Config.Ladder is zero.
var DefaultLadder = Ladder{110, 125, 150, 200, 300}

// Valid reports whether the bounds are non-decreasing and the lowest is set.
func (l Ladder) Valid() bool {
	if l[0] == 0 {
		return false
	}
	for i := 1; i < len(l); i++ {
		if l[i] < l[i-1] {
			return false
		}
	}
	return true
}

// Classify maps a percentage onto the ladder.
func (l Ladder) Classify(percent uint32) Severity {
	for i := len(l) - 1; i >= 0; i-- {
		if percent >= uint32(l[i]) {
			return Severity(i + 1)
		}
	}
	return None
}

// State of the sensor.
type State uint8

const (
	Off State = iota
	Warming
	Measuring
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Warming:
		return "warming"
	case Measuring:
		return "measuring"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Reading is one classified sample.
type Reading struct {
	Sample   uint16
	Baseline uint16
	Percent  uint32
	Severity Severity
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	Ladder Ladder
	// HeaterActiveLow energises the heater with a low level.
	HeaterActiveLow bool
}

// Device is a breathalyzer sensor.
type Device struct {
	adc    ADC
	heater Pin
	cfg    Config

	state    State
	baseline uint16
	last     uint16
}

// New returns a device with the heater off. It drives the heater pin to its
// inactive level.
func New(adc ADC, heater Pin, cfg Config) *Device {
	if cfg.Ladder == (Ladder{}) {
		cfg.Ladder = DefaultLadder
	}
	d := &Device{adc: adc, heater: heater, cfg: cfg}
	d.setHeater(false)
	return d
}

func (d *Device) setHeater(on bool) {
	d.heater.Set(on != d.cfg.HeaterActiveLow)
}

// On starts heating. A sensor already on keeps its state.
func (d *Device) On() {
	if d.state != Off {
		return
	}
	d.setHeater(true)
	d.state = Warming
}

// Off stops heating and forgets the baseline.
func (d *Device) Off() {
	d.setHeater(false)
	d.state = Off
	d.baseline = 0
}

// BeginMeasure moves Warming to Measuring.
func (d *Device) BeginMeasure() error {
	switch d.state {
	case Off:
		return errcode.SensorOff
	case Measuring:
		return errcode.Busy
	}
	d.state = Measuring
	return nil
}

// EndMeasure moves Measuring back to Warming. It is a no-op otherwise.
func (d *Device) EndMeasure() {
	if d.state == Measuring {
		d.state = Warming
	}
}

func (d *Device) State() State     { return d.state }
func (d *Device) Baseline() uint16 { return d.baseline }
func (d *Device) Last() uint16     { return d.last }
func (d *Device) Ladder() Ladder   { return d.cfg.Ladder }

// SetBaseline overrides the captured baseline.
func (d *Device) SetBaseline(b uint16) { d.baseline = b }

// ReadCurr takes one raw sample without interpretation.
func (d *Device) ReadCurr() (uint16, error) {
	if d.state == Off {
		return 0, errcode.SensorOff
	}
	v, err := d.adc.Read()
	if err != nil {
		return 0, errors.Wrap(err, "breathalyzer: adc")
	}
	d.last = v
	return v, nil
}

// CaptureBaseline averages n samples (rounded) and stores the result as the baseline.
func (d *Device) CaptureBaseline(n int) (uint16, error) {
	if n <= 0 {
		n = 1
	}
	var sum uint32
	for i := 0; i < n; i++ {
		v, err := d.ReadCurr()
		if err != nil {
			return 0, err
		}
		sum += uint32(v)
	}
	d.baseline = uint16(mathx.RoundDiv(sum, uint32(n)))
	return d.baseline, nil
}

// Read samples and classifies. With no baseline the reading is None and the
// error is errcode.NoBaseline; the sample is still returned.
func (d *Device) Read() (Reading, error) {
	v, err := d.ReadCurr()
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Sample: v, Baseline: d.baseline}
	if d.baseline == 0 {
		return r, errcode.NoBaseline
	}
	r.Percent = mathx.Min(uint32(v)*100/uint32(d.baseline), MaxPercent)
	r.Severity = d.cfg.Ladder.Classify(r.Percent)
	return r, nil
}
