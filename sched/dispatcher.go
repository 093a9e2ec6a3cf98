// Package sched is a fixed-priority, run-to-completion task dispatcher for
// interrupt-driven firmware.
//
// Work enters the dispatcher in two ways:
//
//	line.Raise()        // a hardware interrupt cause became pending
//	d.Post(task, p)     // a software event, from any goroutine or ISR
//
// The dispatcher always runs the highest-priority ready item next. Lines
// (interrupt front-ends) outrank tasks of equal priority; tasks of equal
// priority run in the order they were posted. A body runs to completion on the
// core goroutine. Preemption is modelled as nesting on that goroutine: every
// preemption point (Spawn, Pend, the end of a Lock) first runs anything that
// became ready above the current system priority.
//
// A Raise or Post from another goroutine is therefore only serviced at the
// running body's next preemption point, or when the body returns. The
// latency of the most urgent source is bounded by the longest stretch of any
// body between two preemption points. A body with no Spawn, Pend or Lock holds
// off everything until it finishes, so such bodies must stay short.
//
// Shared state lives in Resources. Access uses the priority-ceiling
// discipline: Lock raises the system priority to the highest priority of any
// task or line that declares the resource, so no sharer can run inside the
// critical section.
package sched

import (
	"context"
	"log/slog"
	"sync/atomic"

	"alcosense-go/errcode"
)

// Priority orders tasks and lines. Higher is more urgent; 0 is the idle level
// and cannot be assigned.
type Priority uint8

// DefaultCapacity is the per-task queue bound used when TaskConfig.Capacity is
// zero.
const DefaultCapacity = 4

// Options configures a Dispatcher.
type Options struct {
	Logger          *slog.Logger
	DefaultCapacity int
}

type entry struct {
	t       *Task
	payload any
}

// level is the FIFO ready queue for one priority. Its ring is sized to the sum
// of the capacities of the tasks at that priority, so push never overflows
// once per-task accounting has admitted the event.
type level struct {
	buf   []entry
	head  int
	n     int
	lines []*Line
}

func (lv *level) push(e entry) {
	lv.buf[(lv.head+lv.n)%len(lv.buf)] = e
	lv.n++
}

func (lv *level) pop() entry {
	e := lv.buf[lv.head]
	lv.buf[lv.head] = entry{}
	lv.head = (lv.head + 1) % len(lv.buf)
	lv.n--
	return e
}

// Dispatcher owns the task table, the interrupt lines and the resource
// registry. Build it, register everything, call Start, then Run.
type Dispatcher struct {
	cs     critical
	log    *slog.Logger
	defCap int

	tasks []*Task
	lines []*Line
	cells []*cell

	levels  []level
	started bool

	// cur is the current system priority. Only the core goroutine touches it.
	cur Priority

	busy atomic.Bool
	wake chan struct{}
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultCapacity
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:    log.With(slog.String("svc", "sched")),
		defCap: opts.DefaultCapacity,
		wake:   make(chan struct{}, 1),
	}
}

// Start freezes the tables and computes every resource ceiling. No task, line
// or resource may be added afterwards.
func (d *Dispatcher) Start() error {
	if d.started {
		return errcode.Frozen
	}
	var max Priority
	for _, t := range d.tasks {
		if t.prio > max {
			max = t.prio
		}
	}
	for _, l := range d.lines {
		if l.prio > max {
			max = l.prio
		}
	}
	d.levels = make([]level, int(max)+1)
	for _, t := range d.tasks {
		lv := &d.levels[t.prio]
		lv.buf = append(lv.buf, make([]entry, t.cap)...)
		for c := range t.uses {
			c.claim(t.prio, t.name)
		}
	}
	for _, l := range d.lines {
		d.levels[l.prio].lines = append(d.levels[l.prio].lines, l)
	}
	d.started = true

	for _, c := range d.cells {
		d.log.Debug("resource", slog.String("name", c.name), slog.Int("ceiling", int(c.ceiling)), slog.Any("users", c.users))
	}
	d.log.Info("dispatcher started", slog.Int("tasks", len(d.tasks)), slog.Int("lines", len(d.lines)), slog.Int("resources", len(d.cells)))
	return nil
}

// Post queues one event for t. It never blocks and is safe from interrupt
// context. A full queue yields errcode.QueueFull.
func (d *Dispatcher) Post(t *Task, payload any) error {
	return d.enqueue(t, payload)
}

// Run is the core loop. It dispatches ready work until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started {
		return errcode.NotStarted
	}
	if !d.busy.CompareAndSwap(false, true) {
		return errcode.Busy
	}
	defer d.busy.Store(false)
	for {
		d.drain(0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

// RunPending dispatches everything that is ready on the caller's goroutine and
// returns once the system is idle. It must not be used while Run is active.
func (d *Dispatcher) RunPending() error {
	if !d.started {
		return errcode.NotStarted
	}
	if !d.busy.CompareAndSwap(false, true) {
		return errcode.Busy
	}
	defer d.busy.Store(false)
	d.drain(0)
	return nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) enqueue(t *Task, payload any) error {
	if !d.started {
		return errcode.NotStarted
	}
	st := d.cs.enter()
	if t.queued >= t.cap {
		d.cs.exit(st)
		t.full.Add(1)
		return errcode.QueueFull
	}
	d.levels[t.prio].push(entry{t: t, payload: payload})
	t.queued++
	d.cs.exit(st)
	d.signal()
	return nil
}

// next picks the highest-priority ready item strictly above threshold.
func (d *Dispatcher) next(threshold Priority) (*Line, entry, bool) {
	for p := len(d.levels) - 1; p > int(threshold); p-- {
		lv := &d.levels[p]
		for _, l := range lv.lines {
			if l.pending.CompareAndSwap(true, false) {
				return l, entry{}, true
			}
		}
		st := d.cs.enter()
		if lv.n > 0 {
			e := lv.pop()
			e.t.queued--
			d.cs.exit(st)
			return nil, e, true
		}
		d.cs.exit(st)
	}
	return nil, entry{}, false
}

// drain runs ready work above threshold until none is left. Nested calls from
// preemption points pass the current system priority.
func (d *Dispatcher) drain(threshold Priority) {
	for {
		l, e, ok := d.next(threshold)
		if !ok {
			return
		}
		if l != nil {
			d.runLine(l)
		} else {
			d.runTask(e)
		}
	}
}

func (d *Dispatcher) runTask(e entry) {
	prev := d.cur
	d.cur = e.t.prio
	cx := Context{d: d, task: e.t}
	e.t.run(&cx, e.payload)
	e.t.runs.Add(1)
	d.cur = prev
}

func (d *Dispatcher) runLine(l *Line) {
	prev := d.cur
	d.cur = l.prio
	cx := Context{d: d, line: l}
	l.handler(&cx)
	if !cx.acked {
		panic(&errcode.E{C: errcode.Unacknowledged, Op: "irq " + l.name, Msg: "handler returned without clearing its cause"})
	}
	l.runs.Add(1)
	d.cur = prev
}

// preempt runs anything ready above the current system priority.
func (d *Dispatcher) preempt() { d.drain(d.cur) }
