package sched

import (
	"sync/atomic"

	"alcosense-go/errcode"
)

// TaskConfig declares a software task.
type TaskConfig struct {
	Name     string
	Priority Priority
	// Capacity bounds the number of queued events; 0 selects the dispatcher
	// default.
	Capacity int
	// Uses lists every resource the body may Lock.
	Uses []Ref
	Run  func(cx *Context, payload any)
}

// Task is a statically prioritised, run-to-completion unit of work.
type Task struct {
	name string
	prio Priority
	cap  int
	run  func(cx *Context, payload any)
	uses map[*cell]struct{}

	queued int // guarded by the dispatcher critical section

	runs atomic.Uint32
	full atomic.Uint32
}

// Task registers a software task. It panics on an invalid declaration or when
// called after Start.
func (d *Dispatcher) Task(cfg TaskConfig) *Task {
	if d.started {
		panic(&errcode.E{C: errcode.Frozen, Op: "task " + cfg.Name})
	}
	if cfg.Priority == 0 || cfg.Run == nil {
		panic(&errcode.E{C: errcode.InvalidParams, Op: "task " + cfg.Name, Msg: "priority must be >= 1 and Run set"})
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.defCap
	}
	t := &Task{
		name: cfg.Name,
		prio: cfg.Priority,
		cap:  cfg.Capacity,
		run:  cfg.Run,
		uses: make(map[*cell]struct{}, len(cfg.Uses)),
	}
	for _, r := range cfg.Uses {
		c := r.ref()
		if c.d != d {
			panic(&errcode.E{C: errcode.InvalidParams, Op: "task " + cfg.Name, Msg: "resource " + c.name + " belongs to another dispatcher"})
		}
		t.uses[c] = struct{}{}
	}
	d.tasks = append(d.tasks, t)
	return t
}

func (t *Task) Name() string       { return t.name }
func (t *Task) Priority() Priority { return t.prio }
func (t *Task) Capacity() int      { return t.cap }
func (t *Task) Runs() uint32       { return t.runs.Load() }

// QueueFull counts rejected posts.
func (t *Task) QueueFull() uint32 { return t.full.Load() }
