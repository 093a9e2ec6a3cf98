package hal

import (
	"sync/atomic"

	"alcosense-go/errcode"
)

// IRQSource turns an edge interrupt on a pin into a pending flag plus a
// callback, the shape a sched.Line expects. The pending bit models the EXTI
// pending register: the ISR sets it and the line handler clears it.
type IRQSource struct {
	name    string
	pin     IRQPin
	edge    Edge
	raise   func()
	pending atomic.Bool
	count   atomic.Uint32
}

func NewIRQSource(name string, pin IRQPin, edge Edge) *IRQSource {
	return &IRQSource{name: name, pin: pin, edge: edge}
}

// Attach enables the interrupt; raise runs in ISR context after the pending
// bit is set.
func (s *IRQSource) Attach(raise func()) error {
	if s.edge == EdgeNone {
		return &errcode.E{C: errcode.InvalidParams, Op: "irq " + s.name, Msg: "no edge selected"}
	}
	s.raise = raise
	return s.pin.SetIRQ(s.edge, s.isr)
}

// Detach disables the interrupt. A pending cause stays pending.
func (s *IRQSource) Detach() error { return s.pin.ClearIRQ() }

func (s *IRQSource) isr() {
	s.count.Add(1)
	s.pending.Store(true)
	if s.raise != nil {
		s.raise()
	}
}

func (s *IRQSource) Name() string  { return s.name }
func (s *IRQSource) Pending() bool { return s.pending.Load() }
func (s *IRQSource) ClearPending() { s.pending.Store(false) }
func (s *IRQSource) Count() uint32 { return s.count.Load() }
func (s *IRQSource) Pin() IRQPin   { return s.pin }
