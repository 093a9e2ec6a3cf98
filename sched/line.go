package sched

import (
	"sync/atomic"

	"alcosense-go/errcode"
)

// Source is the hardware side of an interrupt: a cause flag that must be
// cleared before the handler returns.
type Source interface {
	Pending() bool
	ClearPending()
}

// LineConfig binds a handler to one interrupt source.
type LineConfig struct {
	Name     string
	Priority Priority
	Source   Source // nil for a software-only line
	Handler  func(cx *Context)
}

// Line is an interrupt front-end. Hardware calls Raise; the dispatcher runs
// Handler at the line's priority.
type Line struct {
	name    string
	prio    Priority
	src     Source
	handler func(cx *Context)
	d       *Dispatcher

	pending atomic.Bool

	raises atomic.Uint32
	runs   atomic.Uint32
	drops  atomic.Uint32
}

// Line registers an interrupt front-end.
func (d *Dispatcher) Line(cfg LineConfig) *Line {
	if d.started {
		panic(&errcode.E{C: errcode.Frozen, Op: "line " + cfg.Name})
	}
	if cfg.Priority == 0 || cfg.Handler == nil {
		panic(&errcode.E{C: errcode.InvalidParams, Op: "line " + cfg.Name, Msg: "priority must be >= 1 and Handler set"})
	}
	l := &Line{
		name:    cfg.Name,
		prio:    cfg.Priority,
		src:     cfg.Source,
		handler: cfg.Handler,
		d:       d,
	}
	d.lines = append(d.lines, l)
	return l
}

// Raise marks the line pending and wakes the core. Raises that arrive while
// the line is already pending coalesce, like a hardware pending bit.
// Safe from ISR context.
func (l *Line) Raise() {
	l.raises.Add(1)
	l.pending.Store(true)
	l.d.signal()
}

func (l *Line) Name() string       { return l.name }
func (l *Line) Priority() Priority { return l.prio }
func (l *Line) Raises() uint32     { return l.raises.Load() }
func (l *Line) Runs() uint32       { return l.runs.Load() }

// Drops counts events the handler could not post.
func (l *Line) Drops() uint32 { return l.drops.Load() }

// FrontEnd returns the standard top half: clear the cause, then post exactly
// one event for t. payload may be nil. A full queue is dropped and counted on
// the line.
func FrontEnd(t *Task, payload func() any) func(cx *Context) {
	return func(cx *Context) {
		cx.Ack()
		var p any
		if payload != nil {
			p = payload()
		}
		_ = cx.Spawn(t, p)
	}
}
