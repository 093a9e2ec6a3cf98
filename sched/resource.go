package sched

import (
	"alcosense-go/errcode"
)

// cell is the type-erased part of a Resource: identity, ceiling and lock flag.
type cell struct {
	name    string
	d       *Dispatcher
	ceiling Priority
	users   []string
	locked  bool
}

func (c *cell) ref() *cell { return c }

func (c *cell) claim(p Priority, user string) {
	if p > c.ceiling {
		c.ceiling = p
	}
	c.users = append(c.users, user)
}

// Ref is any Resource, used to declare a task's resource set.
type Ref interface{ ref() *cell }

// Resource is a single owned value shared between tasks. It is created once
// during bring-up and lives for the life of the program.
type Resource[T any] struct {
	cell
	v T
}

// NewResource registers v under name. Must be called before Start.
func NewResource[T any](d *Dispatcher, name string, v T) *Resource[T] {
	if d.started {
		panic(&errcode.E{C: errcode.Frozen, Op: "resource " + name})
	}
	r := &Resource[T]{cell: cell{name: name, d: d}, v: v}
	d.cells = append(d.cells, &r.cell)
	return r
}

func (r *Resource[T]) Name() string { return r.name }

// Ceiling is the highest priority of any declaring task. Valid after Start.
func (r *Resource[T]) Ceiling() Priority { return r.ceiling }

// Lock runs fn with exclusive access to the resource value. The system
// priority is raised to the resource ceiling for the duration of fn; anything
// that became ready meanwhile is dispatched when fn returns.
//
// Locking a resource the running task did not declare, or one that is already
// locked, panics.
func Lock[T any](cx *Context, r *Resource[T], fn func(v *T)) {
	c := &r.cell
	if !cx.declares(c) {
		panic(&errcode.E{C: errcode.Undeclared, Op: "lock " + c.name, Msg: cx.Name() + " did not declare it"})
	}
	if c.locked {
		panic(&errcode.E{C: errcode.CeilingViolation, Op: "lock " + c.name, Msg: "already held"})
	}
	d := cx.d
	prev := d.cur
	if c.ceiling > prev {
		d.cur = c.ceiling
	}
	c.locked = true
	fn(&r.v)
	c.locked = false
	d.cur = prev
	d.preempt()
}

// Peek returns a copy of the resource value. Only for use while the
// dispatcher is idle, such as between RunPending calls in tests.
func Peek[T any](r *Resource[T]) T { return r.v }
