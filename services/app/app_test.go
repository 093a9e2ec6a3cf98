package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alcosense-go/bus"
	"alcosense-go/drivers/breathalyzer"
	"alcosense-go/message"
	"alcosense-go/sched"
	"alcosense-go/services/config"
	"alcosense-go/services/hal"
	"alcosense-go/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type rig struct {
	t     *testing.T
	app   *App
	sim   *hal.Sim
	conn  *bus.Connection
	clock *fakeClock
	prof  types.Profile
}

func newRig(t *testing.T, mut func(p *types.Profile)) *rig {
	t.Helper()
	p := config.Default()
	p.Device = "sim"
	if mut != nil {
		mut(&p)
	}
	sim, err := hal.NewSim(p, true)
	require.NoError(t, err)
	conn := bus.NewBus(32).NewConnection("test")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	a, err := New(p, sim.Board, Options{Conn: conn, Now: clock.Now})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	r := &rig{t: t, app: a, sim: sim, conn: conn, clock: clock, prof: p}
	r.run()
	return r
}

func (r *rig) run() {
	r.t.Helper()
	require.NoError(r.t, r.app.Dispatcher().RunPending())
}

func (r *rig) fire(tm *hal.TickTimer, n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		require.True(r.t, tm.Fire(), "%s disabled after %d ticks", tm.Name(), i)
		r.run()
	}
}

func (r *rig) text() string { return sched.Peek(r.app.screen).Text() }

func (r *rig) timers() hal.Timers { return r.sim.Board.Timers }

func (r *rig) warm(baseline uint16) {
	r.t.Helper()
	r.sim.ADC.Set(baseline)
	r.fire(r.timers().Warmup, r.prof.Sensor.WarmupTicks)
	require.True(r.t, r.app.Snapshot().Ready)
}

func (r *rig) press() {
	r.clock.Advance(time.Second)
	r.sim.Press()
	r.run()
}

func (r *rig) measure(sample uint16) {
	r.t.Helper()
	r.press()
	require.True(r.t, r.app.Snapshot().Measuring)
	r.sim.ADC.Set(sample)
	r.fire(r.timers().Measure, r.prof.Sensor.MeasureTicks)
}

func (r *rig) deliver(m message.Message) {
	r.t.Helper()
	b := m.Bytes()
	require.True(r.t, r.sim.Chip.Deliver(b[:], -60))
	r.run()
}

func (r *rig) lastSent() message.Message {
	r.t.Helper()
	sent := r.sim.Chip.Sent()
	require.NotEmpty(r.t, sent)
	m, ok := message.Decode(sent[len(sent)-1])
	require.True(r.t, ok)
	return m
}

func TestBootStartsWarmup(t *testing.T) {
	r := newRig(t, nil)
	tm := r.timers()

	assert.True(t, tm.Warmup.Enabled())
	assert.True(t, tm.Poll.Enabled())
	assert.False(t, tm.Measure.Enabled())
	assert.True(t, r.sim.Chip.Receiving())
	assert.Equal(t, TextWarming, r.text())
	assert.Equal(t, breathalyzer.Warming, sched.Peek(r.app.breath).State())
	assert.Equal(t, !r.prof.Sensor.HeaterActiveLow, r.sim.Pin(hal.SimPinHeater).Get())
}

func TestPressWhileWarmingThenReady(t *testing.T) {
	r := newRig(t, nil)
	r.sim.ADC.Set(100)
	r.fire(r.timers().Warmup, r.prof.Sensor.WarmupTicks-1)
	assert.Equal(t, r.prof.Sensor.WarmupTicks-1, r.app.Snapshot().WarmCount)

	runs := r.app.button.Runs()
	r.press()
	assert.Equal(t, runs+1, r.app.button.Runs())
	assert.False(t, r.app.Snapshot().Measuring)
	assert.Equal(t, TextWarming, r.text())

	r.fire(r.timers().Warmup, 1)
	s := r.app.Snapshot()
	assert.True(t, s.Ready)
	assert.Zero(t, s.WarmCount)
	assert.False(t, r.timers().Warmup.Enabled())
	assert.False(t, r.timers().Warmup.Fire())
	assert.Equal(t, uint16(100), sched.Peek(r.app.breath).Baseline())
	assert.Equal(t, "Ready", r.text())
}

func TestMeasurementCompletesOnce(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)

	r.press()
	assert.True(t, r.timers().Measure.Enabled())
	assert.True(t, r.timers().Tone.Enabled())
	assert.True(t, sched.Peek(r.app.buzz).Enabled())
	assert.True(t, r.sim.Pin(hal.SimPinLED).Get())
	assert.Equal(t, TextBlow, r.text())

	runs := r.app.button.Runs()
	r.sim.ADC.Set(152)
	r.fire(r.timers().Measure, r.prof.Sensor.MeasureTicks)
	assert.Equal(t, runs+1, r.app.button.Runs(), "exactly one MeasureDone")
	assert.False(t, r.timers().Measure.Enabled())
	assert.False(t, r.timers().Measure.Fire())
	assert.False(t, r.sim.Pin(hal.SimPinLED).Get())

	s := r.app.Snapshot()
	assert.False(t, s.Measuring)
	assert.Zero(t, s.MeasureCount)
	require.True(t, s.HasResult)
	assert.Equal(t, uint32(152), s.Last.Percent)
	assert.Equal(t, "HIGH", s.Last.Severity)
	assert.Equal(t, "HIGH 152%", r.text())
	assert.Equal(t, breathalyzer.Warming, sched.Peek(r.app.breath).State())

	m := r.lastSent()
	assert.Equal(t, r.prof.Address, m.ID)
	assert.Equal(t, message.One, m.Channel)
	assert.Equal(t, uint32(breathalyzer.High)<<16|152, m.Data)
	assert.True(t, r.sim.Chip.Receiving(), "receive re-armed after TxDone")
}

func TestResultPublished(t *testing.T) {
	r := newRig(t, nil)
	sub := r.conn.Subscribe(TopicResult)
	r.warm(100)
	r.measure(320)
	r.app.Flush()

	select {
	case m := <-sub.Channel():
		res, ok := m.Payload.(types.Result)
		require.True(t, ok, "payload %T", m.Payload)
		assert.Equal(t, "DEATH", res.Severity)
		assert.Equal(t, uint16(100), res.Baseline)
		assert.False(t, res.Remote)
	default:
		t.Fatal("no result published")
	}
}

func TestButtonDebounce(t *testing.T) {
	r := newRig(t, func(p *types.Profile) { p.Alarm.Cycles = 0 })
	r.warm(100)
	r.measure(100)
	require.False(t, r.app.Snapshot().Measuring)

	r.clock.Advance(r.prof.Button.Debounce / 4)
	r.sim.Press()
	r.run()
	assert.False(t, r.app.Snapshot().Measuring, "bounce ignored")

	r.press()
	assert.True(t, r.app.Snapshot().Measuring)
}

func TestForeignPacketDiscarded(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)
	runs := r.app.button.Runs()
	rearms := sched.Peek(r.app.radio).rearms

	r.deliver(message.Message{ID: r.prof.Address + 1, Channel: message.One, Data: 1})

	assert.Equal(t, runs, r.app.button.Runs())
	assert.Equal(t, uint32(1), r.app.Snapshot().RxDiscarded)
	assert.Equal(t, rearms+1, sched.Peek(r.app.radio).rearms)
	assert.True(t, r.sim.Chip.Receiving())
}

func TestMalformedPacketCounted(t *testing.T) {
	r := newRig(t, nil)
	require.True(t, r.sim.Chip.Deliver([]byte{1, 2, 3}, -80))
	r.run()
	assert.Equal(t, uint32(1), r.app.Snapshot().RxMalformed)
	assert.True(t, r.sim.Chip.Receiving())
}

func TestRemoteMeasureRequest(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)

	r.deliver(message.Message{ID: r.prof.Address, Channel: message.One})
	s := r.app.Snapshot()
	assert.True(t, s.Measuring)
	assert.True(t, s.Remote)
	assert.Equal(t, uint32(1), s.RxAccepted)

	r.sim.ADC.Set(100)
	r.fire(r.timers().Measure, r.prof.Sensor.MeasureTicks)
	assert.True(t, r.app.Snapshot().Last.Remote)
}

func TestChannelTwoAccumulates(t *testing.T) {
	r := newRig(t, nil)
	r.deliver(message.Message{ID: r.prof.Address, Channel: message.Two, Data: 5})
	r.deliver(message.Message{ID: r.prof.Address, Channel: message.Two, Data: 7})

	assert.Equal(t, uint32(12), r.app.Snapshot().Accum[message.Two])
	m := r.lastSent()
	assert.Equal(t, message.Two, m.Channel)
	assert.Equal(t, uint32(12), m.Data)
	assert.Len(t, r.sim.Chip.Sent(), 2)
}

func TestAlarmPattern(t *testing.T) {
	r := newRig(t, func(p *types.Profile) { p.Alarm.Cycles = 2 })
	r.warm(100)
	r.measure(160)
	require.Equal(t, "HIGH", r.app.Snapshot().Last.Severity)

	tm := r.timers()
	assert.True(t, tm.Interval.Enabled())
	assert.True(t, tm.Tone.Enabled())
	assert.Equal(t, 4, r.app.Snapshot().AlarmLeft)

	r.fire(tm.Interval, 4)
	assert.Zero(t, r.app.Snapshot().AlarmLeft)
	assert.True(t, tm.Interval.Enabled())

	r.fire(tm.Interval, 1)
	assert.False(t, tm.Interval.Enabled())
	assert.False(t, tm.Tone.Enabled())
	assert.False(t, sched.Peek(r.app.buzz).Enabled())
}

func TestAlarmTickDuringNewMeasurementIsIgnored(t *testing.T) {
	r := newRig(t, func(p *types.Profile) { p.Alarm.Cycles = 2 })
	r.warm(100)
	r.measure(160)
	require.True(t, r.app.Snapshot().Alarming)

	r.press()
	require.True(t, r.app.Snapshot().Measuring)
	assert.False(t, r.app.Snapshot().Alarming)
	assert.False(t, r.timers().Interval.Enabled())

	// An interval update raised just before begin disarmed the timer.
	require.NoError(t, r.app.Dispatcher().Post(r.app.alarmT, nil))
	r.run()

	assert.True(t, r.app.Snapshot().Measuring)
	assert.True(t, sched.Peek(r.app.buzz).Enabled(), "buzzer stays on while measuring")
	assert.True(t, r.timers().Tone.Enabled(), "tone stays armed while measuring")
	assert.Equal(t, TextBlow, r.text())
}

type quiet struct {
	state   State
	buzzOn  bool
	toggles uint32
	armed   []bool
	text    string
}

func (r *rig) quiet() quiet {
	q := quiet{
		state:   r.app.Snapshot(),
		buzzOn:  sched.Peek(r.app.buzz).Enabled(),
		toggles: sched.Peek(r.app.buzz).Toggles(),
		text:    r.text(),
	}
	for _, tm := range r.timers().All() {
		q.armed = append(q.armed, tm.Enabled())
	}
	return q
}

func TestStaleTimerEventsAreNoOps(t *testing.T) {
	tests := []struct {
		name   string
		cycles int
		setup  func(r *rig)
		task   func(a *App) *sched.Task
	}{
		{"warmup after ready", 0, func(r *rig) { r.warm(100) },
			func(a *App) *sched.Task { return a.warmup }},
		{"measure after window closed", 0, func(r *rig) { r.warm(100); r.measure(100) },
			func(a *App) *sched.Task { return a.measure }},
		{"tone after result", 0, func(r *rig) { r.warm(100); r.measure(100) },
			func(a *App) *sched.Task { return a.tone }},
		{"interval without alarm", 2, func(r *rig) { r.warm(100); r.measure(130) },
			func(a *App) *sched.Task { return a.alarmT }},
		{"interval after pattern ended", 2, func(r *rig) {
			r.warm(100)
			r.measure(160)
			r.fire(r.timers().Interval, 5)
		}, func(a *App) *sched.Task { return a.alarmT }},
		{"interval during measurement", 2, func(r *rig) {
			r.warm(100)
			r.measure(160)
			r.press()
		}, func(a *App) *sched.Task { return a.alarmT }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, func(p *types.Profile) { p.Alarm.Cycles = tt.cycles })
			tt.setup(r)
			before := r.quiet()

			require.NoError(t, r.app.Dispatcher().Post(tt.task(r.app), nil))
			r.run()

			assert.Equal(t, before, r.quiet())
		})
	}
}

func TestBelowAlarmLevelIsSilent(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)
	r.measure(130)
	assert.Equal(t, "MEDIUM", r.app.Snapshot().Last.Severity)
	assert.False(t, r.timers().Interval.Enabled())
	assert.False(t, r.timers().Tone.Enabled())
}

func TestToneTogglesBuzzer(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)
	r.press()
	before := sched.Peek(r.app.buzz).Toggles()
	r.fire(r.timers().Tone, 3)
	assert.Equal(t, before+3, sched.Peek(r.app.buzz).Toggles())
}

func TestPollPublishesRaw(t *testing.T) {
	r := newRig(t, nil)
	sub := r.conn.Subscribe(TopicRaw)
	r.sim.ADC.Set(321)
	r.fire(r.timers().Poll, 1)
	r.app.Flush()
	select {
	case m := <-sub.Channel():
		assert.Equal(t, uint16(321), m.Payload.(types.SensorRaw).Value)
		assert.True(t, m.Retained)
	default:
		t.Fatal("no raw sample")
	}
}

func TestSensorErrorShown(t *testing.T) {
	r := newRig(t, nil)
	r.warm(100)
	r.press()
	r.sim.ADC.Fail(assert.AnError)
	r.fire(r.timers().Measure, r.prof.Sensor.MeasureTicks)
	assert.Equal(t, TextError, r.text())
	assert.False(t, r.app.Snapshot().HasResult)
}

func TestPingReportsTotal(t *testing.T) {
	r := newRig(t, func(p *types.Profile) { p.Timers.Ping = time.Minute })
	require.NotNil(t, r.timers().Ping)
	require.True(t, r.timers().Ping.Enabled())
	r.deliver(message.Message{ID: r.prof.Address, Channel: message.Two, Data: 3})
	r.fire(r.timers().Ping, 1)
	m := r.lastSent()
	assert.Equal(t, message.Two, m.Channel)
	assert.Equal(t, uint32(3), m.Data)
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "HIGH 152%", ResultText(breathalyzer.Reading{Baseline: 1, Percent: 152, Severity: breathalyzer.High}))
	assert.Equal(t, "NONE", ResultText(breathalyzer.Reading{}))
	assert.Equal(t, uint32(3)<<16|0xFFFF, ResultData(breathalyzer.Reading{Percent: 0x1FFFF, Severity: 3}))
}

func TestStopSilencesSources(t *testing.T) {
	r := newRig(t, nil)
	r.app.Stop()
	for _, tm := range r.timers().All() {
		assert.False(t, tm.Enabled(), tm.Name())
	}
	runs := r.app.button.Runs()
	r.sim.Press()
	r.run()
	assert.Equal(t, runs, r.app.button.Runs())
}
