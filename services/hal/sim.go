package hal

import (
	"sync"
	"sync/atomic"

	"alcosense-go/drivers/oled"
	"alcosense-go/drivers/sx1276"
	"alcosense-go/types"
)

// Logical pin numbers of the simulated board.
const (
	SimPinButton = 1
	SimPinHeater = 2
	SimPinBuzzer = 3
	SimPinLED    = 4
	SimPinCS     = 10
	SimPinReset  = 11
	SimPinRxSw   = 12
	SimPinTxSw   = 13
	SimPinTCXO   = 14
	SimPinDIO0   = 15

	simPins = 32
)

// SimPin implements IRQPin for host builds. Drive models an external signal.
type SimPin struct {
	n int

	mu      sync.Mutex
	level   bool
	edge    Edge
	handler func()
	sets    []bool
}

func (p *SimPin) ConfigureInput(pull Pull) error {
	p.mu.Lock()
	p.level = pull == PullUp
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ConfigureOutput(initial bool) error {
	p.Set(initial)
	return nil
}

func (p *SimPin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.sets = append(p.sets, level)
	p.mu.Unlock()
}

func (p *SimPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *SimPin) Toggle()     { p.Set(!p.Get()) }
func (p *SimPin) Number() int { return p.n }

func (p *SimPin) SetIRQ(edge Edge, handler func()) error {
	p.mu.Lock()
	p.edge, p.handler = edge, handler
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ClearIRQ() error { return p.SetIRQ(EdgeNone, nil) }

// Drive changes the input level from outside and runs the handler when the
// transition matches the configured edge.
func (p *SimPin) Drive(level bool) {
	p.mu.Lock()
	prev := p.level
	p.level = level
	h, e := p.handler, p.edge
	p.mu.Unlock()
	if h == nil || prev == level {
		return
	}
	if e == EdgeBoth || (e == EdgeRising && level) || (e == EdgeFalling && !level) {
		h()
	}
}

// History returns every level written with Set, oldest first.
func (p *SimPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.sets...)
}

type simFactory struct {
	pins [simPins]*SimPin
}

func (f *simFactory) ByNumber(n int) (GPIOPin, bool) {
	if n < 0 || n >= simPins {
		return nil, false
	}
	if f.pins[n] == nil {
		f.pins[n] = &SimPin{n: n}
	}
	return f.pins[n], true
}

// SimADC is an analog input whose value is set by the test or the simulation.
type SimADC struct {
	v   atomic.Uint32
	mu  sync.Mutex
	err error
}

func (a *SimADC) Set(v uint16) { a.v.Store(uint32(v)) }

// Fail makes every Read return err until cleared with nil.
func (a *SimADC) Fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *SimADC) Read() (uint16, error) {
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return uint16(a.v.Load()), nil
}

// Sim is a complete board on the host: GPIO, ADC, an SX1276 register model
// behind SPI and a framebuffer panel.
type Sim struct {
	Board  *Board
	Chip   *sx1276.SimChip
	Screen *oled.Framebuffer
	ADC    *SimADC

	f *simFactory
}

// NewSim brings up the simulated board. With manualTimers no timer runs on
// its own and callers step them with Fire.
func NewSim(p types.Profile, manualTimers bool) (*Sim, error) {
	s := &Sim{
		Chip:   sx1276.NewSimChip(),
		Screen: oled.NewFramebuffer(128, 64),
		ADC:    &SimADC{},
		f:      &simFactory{},
	}
	pins := NewPins(s.f)
	b := &Board{
		Name:    "sim",
		Pins:    pins,
		Sensor:  s.ADC,
		Radio:   s.Chip,
		Display: s.Screen,
		Timers:  NewTimers(p.Timers, manualTimers),
	}
	var err error
	if b.Button, err = claimIn(pins, SimPinButton, "button", PullUp); err != nil {
		return nil, err
	}
	if b.DIO0, err = claimIn(pins, SimPinDIO0, "radio.dio0", PullDown); err != nil {
		return nil, err
	}
	if b.Heater, err = claimOut(pins, SimPinHeater, "heater", p.Sensor.HeaterActiveLow); err != nil {
		return nil, err
	}
	if b.Buzzer, err = claimOut(pins, SimPinBuzzer, "buzzer", false); err != nil {
		return nil, err
	}
	if b.LED, err = claimOut(pins, SimPinLED, "led", false); err != nil {
		return nil, err
	}
	rp, err := claimRadioPins(pins, [5]int{SimPinCS, SimPinReset, SimPinRxSw, SimPinTxSw, SimPinTCXO})
	if err != nil {
		return nil, err
	}
	cs := rp.CS
	rp.CS = func(level bool) {
		cs(level)
		s.Chip.Select(level)
	}
	b.RadioPins = rp

	dio0 := s.Pin(SimPinDIO0)
	s.Chip.OnDIO0 = func() {
		dio0.Drive(true)
		dio0.Drive(false)
	}
	s.Board = b
	return s, nil
}

// Pin returns simulated pin n.
func (s *Sim) Pin(n int) *SimPin {
	p, _ := s.f.ByNumber(n)
	sp, _ := p.(*SimPin)
	return sp
}

// Press models a button press and release.
func (s *Sim) Press() {
	btn := s.Pin(SimPinButton)
	btn.Drive(false)
	btn.Drive(true)
}

// claimRadioPins claims CS, reset, RX switch, TX switch and TCXO in that
// order. CS idles high, everything else low.
func claimRadioPins(p *Pins, n [5]int) (sx1276.Pins, error) {
	names := [5]string{"radio.cs", "radio.reset", "radio.rxsw", "radio.txsw", "radio.tcxo"}
	var fns [5]func(bool)
	for i := range n {
		pin, err := claimOut(p, n[i], names[i], i == 0 || i == 1)
		if err != nil {
			return sx1276.Pins{}, err
		}
		fns[i] = pin.Set
	}
	return sx1276.Pins{CS: fns[0], Reset: fns[1], RxSwitch: fns[2], TxSwitch: fns[3], TCXO: fns[4]}, nil
}
