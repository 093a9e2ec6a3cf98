// Package buzzer drives a passive piezo from a timer-toggled output pin.
// Each tone tick calls TogglePWM, so the audible frequency is half the tick
// rate. A slower interval tick gates Enable/Disable to produce a beep pattern.
package buzzer

import "time"

// Pin is a push-pull output.
type Pin interface {
	Set(level bool)
}

// Phase is the current pin level while enabled.
type Phase uint8

const (
	PhaseOff Phase = iota
	PhaseOn
)

// Device is a buzzer.
type Device struct {
	pin     Pin
	enabled bool
	on      bool
	toggles uint32
}

// New returns a disabled buzzer with the pin driven low.
func New(pin Pin) *Device {
	pin.Set(false)
	return &Device{pin: pin}
}

// Enable lets TogglePWM drive the pin. The phase is left as is.
func (d *Device) Enable() { d.enabled = true }

// Disable stops the tone and forces the pin low.
func (d *Device) Disable() {
	d.enabled = false
	d.on = false
	d.pin.Set(false)
}

// TogglePWM flips the pin while enabled and does nothing otherwise.
func (d *Device) TogglePWM() {
	if !d.enabled {
		return
	}
	d.on = !d.on
	d.pin.Set(d.on)
	d.toggles++
}

func (d *Device) Enabled() bool { return d.enabled }

func (d *Device) Phase() Phase {
	if d.on {
		return PhaseOn
	}
	return PhaseOff
}

// Toggles counts pin flips since New.
func (d *Device) Toggles() uint32 { return d.toggles }

// ToneFrequency is the audible frequency for a given tone tick period.
func ToneFrequency(tick time.Duration) uint32 {
	if tick <= 0 {
		return 0
	}
	return uint32(time.Second / tick / 2)
}
