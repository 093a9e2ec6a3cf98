//go:build tinygo

package hal

import "machine"

// mcuPinFactory maps logical numbers straight to machine.Pin(n).
type mcuPinFactory struct{ max int }

func (f mcuPinFactory) ByNumber(n int) (GPIOPin, bool) {
	if n < 0 || n > f.max {
		return nil, false
	}
	return &mcuPin{p: machine.Pin(n), n: n}, true
}

type mcuPin struct {
	p machine.Pin
	n int
}

func (r *mcuPin) ConfigureInput(pull Pull) error {
	var mode machine.PinMode
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *mcuPin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *mcuPin) Set(level bool) { r.p.Set(level) }
func (r *mcuPin) Get() bool      { return r.p.Get() }
func (r *mcuPin) Toggle()        { r.p.Set(!r.p.Get()) }
func (r *mcuPin) Number() int    { return r.n }

func (r *mcuPin) SetIRQ(edge Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r *mcuPin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e Edge) machine.PinChange {
	switch e {
	case EdgeRising:
		return machine.PinRising
	case EdgeFalling:
		return machine.PinFalling
	case EdgeBoth:
		return machine.PinToggle
	}
	var zero machine.PinChange
	return zero
}

// mcuADC samples one pin. machine.ADC returns a left-aligned 16-bit value.
type mcuADC struct{ a machine.ADC }

func newADC(p machine.Pin) *mcuADC {
	machine.InitADC()
	a := machine.ADC{Pin: p}
	a.Configure(machine.ADCConfig{})
	return &mcuADC{a: a}
}

func (m *mcuADC) Read() (uint16, error) { return m.a.Get(), nil }
