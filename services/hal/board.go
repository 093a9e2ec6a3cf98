package hal

import (
	"io"
	"time"

	"tinygo.org/x/drivers"

	"alcosense-go/drivers/oled"
	"alcosense-go/drivers/sx1276"
	"alcosense-go/types"
)

// Timers are the periodic update sources the application arms and disarms.
type Timers struct {
	Tone     *TickTimer
	Interval *TickTimer
	Warmup   *TickTimer
	Measure  *TickTimer
	Poll     *TickTimer
	Ping     *TickTimer // nil when the profile disables pings
}

// NewTimers builds one timer per configured period. With manual set every
// timer has a zero period and only moves when fired by hand.
func NewTimers(p types.TimerProfile, manual bool) Timers {
	per := func(d time.Duration) time.Duration {
		if manual {
			return 0
		}
		return d
	}
	t := Timers{
		Tone:     NewTickTimer("tone", per(p.Tone)),
		Interval: NewTickTimer("interval", per(p.Interval)),
		Warmup:   NewTickTimer("warmup", per(p.Warmup)),
		Measure:  NewTickTimer("measure", per(p.Measure)),
		Poll:     NewTickTimer("poll", per(p.Poll)),
	}
	if p.Ping > 0 {
		t.Ping = NewTickTimer("ping", per(p.Ping))
	}
	return t
}

// All lists the timers that exist.
func (t Timers) All() []*TickTimer {
	out := []*TickTimer{t.Tone, t.Interval, t.Warmup, t.Measure, t.Poll}
	if t.Ping != nil {
		out = append(out, t.Ping)
	}
	return out
}

// Board is everything bring-up hands to the application: claimed pins,
// analog input, radio bus, display and timers. No field is reachable any
// other way.
type Board struct {
	Name string
	Pins *Pins

	Button IRQPin // active low, falling edge on press
	Heater GPIOPin
	Buzzer GPIOPin
	LED    GPIOPin
	Sensor ADC

	Radio     drivers.SPI
	RadioPins sx1276.Pins
	DIO0      IRQPin // rising edge

	Display       oled.Display
	DisplayReinit func() error

	// Uplink is the telemetry serial link, nil when there is none.
	Uplink io.ReadWriter

	Timers Timers
}

// claimOut claims n as an output driven to initial.
func claimOut(p *Pins, n int, owner string, initial bool) (GPIOPin, error) {
	pin, err := p.Claim(n, owner)
	if err != nil {
		return nil, err
	}
	return pin, pin.ConfigureOutput(initial)
}

// claimIn claims n as an interrupt-capable input.
func claimIn(p *Pins, n int, owner string, pull Pull) (IRQPin, error) {
	pin, err := p.ClaimIRQ(n, owner)
	if err != nil {
		return nil, err
	}
	return pin, pin.ConfigureInput(pull)
}
