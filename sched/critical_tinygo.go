//go:build tinygo

package sched

import "runtime/interrupt"

// critical masks interrupts for the duration of a queue mutation.
type critical struct{}

type csState = interrupt.State

func (c *critical) enter() csState { return interrupt.Disable() }
func (c *critical) exit(s csState) { interrupt.Restore(s) }
