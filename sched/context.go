package sched

import "alcosense-go/errcode"

// Context is handed to a running task body or line handler. It is only valid
// for the duration of that call.
type Context struct {
	d     *Dispatcher
	task  *Task
	line  *Line
	acked bool
}

// Name of the running task or line.
func (cx *Context) Name() string {
	if cx.line != nil {
		return cx.line.name
	}
	return cx.task.name
}

// Priority is the static priority of the running task or line.
func (cx *Context) Priority() Priority {
	if cx.line != nil {
		return cx.line.prio
	}
	return cx.task.prio
}

// Spawn posts an event for t. If t outranks the current system priority it
// runs before Spawn returns. From a line handler a failure is also counted as
// a drop on the line.
func (cx *Context) Spawn(t *Task, payload any) error {
	if err := cx.d.enqueue(t, payload); err != nil {
		if cx.line != nil {
			cx.line.drops.Add(1)
		}
		return err
	}
	cx.d.preempt()
	return nil
}

// Pend sets l pending from software, the equivalent of writing the NVIC
// set-pending register. A line that outranks the current system priority runs
// before Pend returns.
func (cx *Context) Pend(l *Line) {
	l.raises.Add(1)
	l.pending.Store(true)
	cx.d.preempt()
}

// Ack clears the cause of the running line. Every line handler must call it.
func (cx *Context) Ack() {
	if cx.line == nil {
		panic(&errcode.E{C: errcode.InvalidParams, Op: "ack", Msg: cx.Name() + " is not an interrupt line"})
	}
	if cx.line.src != nil {
		cx.line.src.ClearPending()
	}
	cx.acked = true
}

func (cx *Context) declares(c *cell) bool {
	if cx.task == nil {
		return false
	}
	_, ok := cx.task.uses[c]
	return ok
}
