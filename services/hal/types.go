// Package hal is the board layer: pin and timer handles, the pin-claim
// registry and the per-target board bring-up that wires them together.
package hal

// Pull selects an input bias.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return "none"
}

type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Toggle()
	Number() int
}

// IRQPin extends GPIOPin with interrupts. The handler runs in interrupt
// context and must not block.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory maps logical pin numbers to platform pins.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

// ADC is one analog input channel.
type ADC interface {
	Read() (uint16, error)
}
