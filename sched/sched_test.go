package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alcosense-go/errcode"
)

type trace []string

func (tr *trace) add(s string) { *tr = append(*tr, s) }

type fakeSource struct {
	pending bool
	cleared int
}

func (f *fakeSource) Pending() bool { return f.pending }
func (f *fakeSource) ClearPending() { f.pending = false; f.cleared++ }

func codeOf(t *testing.T, fn func()) (c errcode.Code) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		c = errcode.Of(err)
	}()
	fn()
	return errcode.OK
}

func TestSpawnHigherPriorityRunsBeforeSpawnReturns(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	high := d.Task(TaskConfig{Name: "high", Priority: 3, Run: func(cx *Context, _ any) { tr.add("high") }})
	low := d.Task(TaskConfig{Name: "low", Priority: 1, Run: func(cx *Context, _ any) {
		tr.add("low-begin")
		require.NoError(t, cx.Spawn(high, nil))
		tr.add("low-end")
	}})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(low, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"low-begin", "high", "low-end"}, tr)
}

func TestSpawnLowerPriorityWaitsForCompletion(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	low := d.Task(TaskConfig{Name: "low", Priority: 1, Run: func(cx *Context, _ any) { tr.add("low") }})
	high := d.Task(TaskConfig{Name: "high", Priority: 2, Run: func(cx *Context, _ any) {
		tr.add("high-begin")
		require.NoError(t, cx.Spawn(low, nil))
		tr.add("high-end")
	}})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(high, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"high-begin", "high-end", "low"}, tr)
}

func TestEqualPriorityRunsInPostOrder(t *testing.T) {
	d := NewDispatcher(Options{})
	var got []int
	a := d.Task(TaskConfig{Name: "a", Priority: 2, Run: func(cx *Context, p any) { got = append(got, p.(int)) }})
	b := d.Task(TaskConfig{Name: "b", Priority: 2, Run: func(cx *Context, p any) { got = append(got, 100+p.(int)) }})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(a, 1))
	require.NoError(t, d.Post(b, 1))
	require.NoError(t, d.Post(a, 2))
	require.NoError(t, d.Post(b, 2))
	require.NoError(t, d.RunPending())
	assert.Equal(t, []int{1, 101, 2, 102}, got)
}

func TestQueueFullDoesNotDisturbOtherTasks(t *testing.T) {
	d := NewDispatcher(Options{})
	var aRuns, bRuns int
	a := d.Task(TaskConfig{Name: "a", Priority: 1, Capacity: 2, Run: func(cx *Context, _ any) { aRuns++ }})
	b := d.Task(TaskConfig{Name: "b", Priority: 1, Capacity: 2, Run: func(cx *Context, _ any) { bRuns++ }})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(a, nil))
	require.NoError(t, d.Post(a, nil))
	err := d.Post(a, nil)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.QueueFull))

	require.NoError(t, d.Post(b, nil))
	require.NoError(t, d.Post(b, nil))
	require.NoError(t, d.RunPending())

	assert.Equal(t, 2, aRuns)
	assert.Equal(t, 2, bRuns)
	assert.Equal(t, uint32(1), a.QueueFull())
	assert.Equal(t, uint32(0), b.QueueFull())

	// Capacity is returned once events are consumed.
	require.NoError(t, d.Post(a, nil))
}

func TestLockDefersSharersUntilRelease(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	counter := NewResource(d, "counter", 0)

	high := d.Task(TaskConfig{Name: "high", Priority: 3, Uses: []Ref{counter}, Run: func(cx *Context, _ any) {
		Lock(cx, counter, func(v *int) {
			*v *= 10
			tr.add("high")
		})
	}})
	low := d.Task(TaskConfig{Name: "low", Priority: 1, Uses: []Ref{counter}, Run: func(cx *Context, _ any) {
		Lock(cx, counter, func(v *int) {
			tr.add("lock")
			require.NoError(t, cx.Spawn(high, nil))
			*v += 1
			tr.add("unlock")
		})
		tr.add("low-end")
	}})
	require.NoError(t, d.Start())
	assert.Equal(t, Priority(3), counter.Ceiling())

	require.NoError(t, d.Post(low, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"lock", "unlock", "high", "low-end"}, tr)
	assert.Equal(t, 10, Peek(counter))
}

func TestLockAboveCeilingStillPreempts(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	shared := NewResource(d, "shared", struct{}{})
	urgent := d.Task(TaskConfig{Name: "urgent", Priority: 4, Run: func(cx *Context, _ any) { tr.add("urgent") }})
	d.Task(TaskConfig{Name: "mid", Priority: 2, Uses: []Ref{shared}, Run: func(cx *Context, _ any) {}})
	low := d.Task(TaskConfig{Name: "low", Priority: 1, Uses: []Ref{shared}, Run: func(cx *Context, _ any) {
		Lock(cx, shared, func(*struct{}) {
			require.NoError(t, cx.Spawn(urgent, nil))
			tr.add("locked")
		})
	}})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(low, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"urgent", "locked"}, tr)
}

func TestLockUndeclaredPanics(t *testing.T) {
	d := NewDispatcher(Options{})
	r := NewResource(d, "r", 0)
	var c errcode.Code
	task := d.Task(TaskConfig{Name: "rogue", Priority: 1, Run: func(cx *Context, _ any) {
		c = codeOf(t, func() { Lock(cx, r, func(*int) {}) })
	}})
	require.NoError(t, d.Start())
	require.NoError(t, d.Post(task, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, errcode.Undeclared, c)
}

func TestNestedLockPanics(t *testing.T) {
	d := NewDispatcher(Options{})
	r := NewResource(d, "r", 0)
	var c errcode.Code
	task := d.Task(TaskConfig{Name: "t", Priority: 1, Uses: []Ref{r}, Run: func(cx *Context, _ any) {
		c = codeOf(t, func() {
			Lock(cx, r, func(*int) {
				Lock(cx, r, func(*int) {})
			})
		})
	}})
	require.NoError(t, d.Start())
	require.NoError(t, d.Post(task, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, errcode.CeilingViolation, c)
}

func TestLineMustAcknowledge(t *testing.T) {
	d := NewDispatcher(Options{})
	src := &fakeSource{}
	l := d.Line(LineConfig{Name: "exti0", Priority: 2, Source: src, Handler: func(cx *Context) {}})
	require.NoError(t, d.Start())

	l.Raise()
	c := codeOf(t, func() { _ = d.RunPending() })
	assert.Equal(t, errcode.Unacknowledged, c)
}

func TestFrontEndAcksAndPostsOnce(t *testing.T) {
	d := NewDispatcher(Options{})
	src := &fakeSource{pending: true}
	var got []any
	task := d.Task(TaskConfig{Name: "button", Priority: 1, Run: func(cx *Context, p any) { got = append(got, p) }})
	l := d.Line(LineConfig{Name: "exti0", Priority: 3, Source: src, Handler: FrontEnd(task, func() any { return "press" })})
	require.NoError(t, d.Start())

	l.Raise()
	require.NoError(t, d.RunPending())
	assert.False(t, src.pending)
	assert.Equal(t, 1, src.cleared)
	assert.Equal(t, []any{"press"}, got)
	assert.Equal(t, uint32(1), l.Runs())
}

func TestFrontEndCountsDrops(t *testing.T) {
	d := NewDispatcher(Options{})
	runs := 0
	task := d.Task(TaskConfig{Name: "slow", Priority: 1, Capacity: 1, Run: func(cx *Context, _ any) { runs++ }})
	l := d.Line(LineConfig{Name: "tim2", Priority: 2, Source: &fakeSource{}, Handler: FrontEnd(task, nil)})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(task, nil))
	l.Raise()
	require.NoError(t, d.RunPending())

	assert.Equal(t, 1, runs)
	assert.Equal(t, uint32(1), l.Drops())
	assert.Equal(t, uint32(1), d.Stats().Dropped())
}

func TestPendRunsHigherLineImmediately(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	l := d.Line(LineConfig{Name: "sw", Priority: 4, Handler: func(cx *Context) {
		cx.Ack()
		tr.add("line")
	}})
	task := d.Task(TaskConfig{Name: "t", Priority: 1, Run: func(cx *Context, _ any) {
		tr.add("before")
		cx.Pend(l)
		tr.add("after")
	}})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(task, nil))
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"before", "line", "after"}, tr)
}

func TestLinesOutrankTasksAtEqualPriority(t *testing.T) {
	d := NewDispatcher(Options{})
	var tr trace
	task := d.Task(TaskConfig{Name: "t", Priority: 2, Run: func(cx *Context, _ any) { tr.add("task") }})
	l := d.Line(LineConfig{Name: "l", Priority: 2, Handler: func(cx *Context) { cx.Ack(); tr.add("line") }})
	require.NoError(t, d.Start())

	require.NoError(t, d.Post(task, nil))
	l.Raise()
	require.NoError(t, d.RunPending())
	assert.Equal(t, trace{"line", "task"}, tr)
}

func TestLifecycleErrors(t *testing.T) {
	d := NewDispatcher(Options{})
	task := d.Task(TaskConfig{Name: "t", Priority: 1, Run: func(*Context, any) {}})

	assert.True(t, errcode.Is(d.Post(task, nil), errcode.NotStarted))
	assert.True(t, errcode.Is(d.RunPending(), errcode.NotStarted))
	require.NoError(t, d.Start())
	assert.True(t, errcode.Is(d.Start(), errcode.Frozen))

	assert.Equal(t, errcode.Frozen, codeOf(t, func() {
		d.Task(TaskConfig{Name: "late", Priority: 1, Run: func(*Context, any) {}})
	}))
	assert.Equal(t, errcode.InvalidParams, codeOf(t, func() {
		NewDispatcher(Options{}).Task(TaskConfig{Name: "idle", Priority: 0, Run: func(*Context, any) {}})
	}))
}

func TestRunServicesRaisesFromOtherGoroutines(t *testing.T) {
	d := NewDispatcher(Options{})
	done := make(chan any, 4)
	task := d.Task(TaskConfig{Name: "radio", Priority: 1, Run: func(cx *Context, p any) { done <- p }})
	l := d.Line(LineConfig{Name: "dio0", Priority: 3, Source: &fakeSource{}, Handler: FrontEnd(task, func() any { return 42 })})
	require.NoError(t, d.Start())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	go l.Raise()
	select {
	case p := <-done:
		assert.Equal(t, 42, p)
	case <-time.After(2 * time.Second):
		t.Fatal("line was never serviced")
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatsSnapshot(t *testing.T) {
	d := NewDispatcher(Options{DefaultCapacity: 3})
	task := d.Task(TaskConfig{Name: "t", Priority: 1, Run: func(*Context, any) {}})
	require.NoError(t, d.Start())
	require.NoError(t, d.Post(task, nil))
	require.NoError(t, d.Post(task, nil))

	s := d.Stats()
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, 2, s.Tasks[0].Queued)
	assert.Equal(t, 3, task.Capacity())

	require.NoError(t, d.RunPending())
	s = d.Stats()
	assert.Equal(t, 0, s.Tasks[0].Queued)
	assert.Equal(t, uint32(2), s.Tasks[0].Runs)
}
