package hal

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickTimer is a periodic update-event timer. It models a hardware timer
// with an update interrupt: Enable starts counting, each period end sets the
// pending flag and runs the IRQ callback, Disable stops it.
//
// A timer with a zero period never fires on its own; Fire drives it. Tests and
// the host simulation use that to step time by hand.
type TickTimer struct {
	name   string
	period time.Duration

	mu      sync.Mutex
	irq     func()
	enabled atomic.Bool
	stop    chan struct{}
	reset   chan struct{}

	pending atomic.Bool
	ticks   atomic.Uint32
}

func NewTickTimer(name string, period time.Duration) *TickTimer {
	return &TickTimer{name: name, period: period}
}

func (t *TickTimer) Name() string          { return t.name }
func (t *TickTimer) Period() time.Duration { return t.period }
func (t *TickTimer) Enabled() bool         { return t.enabled.Load() }
func (t *TickTimer) Pending() bool         { return t.pending.Load() }
func (t *TickTimer) ClearPending()         { t.pending.Store(false) }
func (t *TickTimer) Ticks() uint32         { return t.ticks.Load() }

// SetIRQ installs the update callback. It runs in timer context.
func (t *TickTimer) SetIRQ(fn func()) {
	t.mu.Lock()
	t.irq = fn
	t.mu.Unlock()
}

// Enable starts the timer. Enabling a running timer does nothing.
func (t *TickTimer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled.Load() {
		return
	}
	t.enabled.Store(true)
	if t.period <= 0 {
		return
	}
	t.stop = make(chan struct{})
	t.reset = make(chan struct{}, 1)
	go t.loop(t.stop, t.reset)
}

// Disable stops the timer. An update already pending stays pending.
func (t *TickTimer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled.Load() {
		return
	}
	t.enabled.Store(false)
	if t.stop != nil {
		close(t.stop)
		t.stop, t.reset = nil, nil
	}
}

// ResetCount restarts the current period from zero.
func (t *TickTimer) ResetCount() {
	t.mu.Lock()
	r := t.reset
	t.mu.Unlock()
	if r == nil {
		return
	}
	select {
	case r <- struct{}{}:
	default:
	}
}

// Fire raises one update event. It reports false, and does nothing, while the
// timer is disabled.
func (t *TickTimer) Fire() bool {
	if !t.enabled.Load() {
		return false
	}
	t.ticks.Add(1)
	t.pending.Store(true)
	t.mu.Lock()
	fn := t.irq
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

func (t *TickTimer) loop(stop, reset <-chan struct{}) {
	tm := time.NewTimer(t.period)
	defer tm.Stop()
	for {
		select {
		case <-stop:
			return
		case <-reset:
			resetTimer(tm, t.period)
		case <-tm.C:
			t.Fire()
			tm.Reset(t.period)
		}
	}
}

// resetTimer safely stops, drains, and resets a timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		drainTimer(t)
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
