// Package app is the breathalyzer application: the interrupt lines, the
// task table and the shared resources, wired onto one dispatcher.
//
// Priorities, highest first:
//
//	tone      5  buzzer square wave
//	alarm     4  intermittent alarm pattern
//	radio     3  DIO0 events, receive re-arm
//	button    2  measurement start and result
//	warmup    2  heater warm-up countdown
//	measure   2  measurement window countdown
//	boot      2  one-shot bring-up
//	poll      1  raw sensor sampling
//	ping      1  periodic counter uplink
//	report    1  radio transmit
//
// Each line runs at the priority of the task it feeds.
package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"alcosense-go/bus"
	"alcosense-go/drivers/breathalyzer"
	"alcosense-go/drivers/buzzer"
	"alcosense-go/drivers/oled"
	"alcosense-go/drivers/sx1276"
	"alcosense-go/sched"
	"alcosense-go/services/config"
	"alcosense-go/services/hal"
	"alcosense-go/types"
)

const (
	PrioReport  sched.Priority = 1
	PrioPoll    sched.Priority = 1
	PrioPing    sched.Priority = 1
	PrioButton  sched.Priority = 2
	PrioWarmup  sched.Priority = 2
	PrioMeasure sched.Priority = 2
	PrioBoot    sched.Priority = 2
	PrioRadio   sched.Priority = 3
	PrioAlarm   sched.Priority = 4
	PrioTone    sched.Priority = 5
)

// Bus topics.
var (
	TopicState   = bus.T("app", "state")
	TopicResult  = bus.T("app", "result")
	TopicRadio   = bus.T("app", "radio")
	TopicRaw     = bus.T("sensor", "raw")
	TopicMeasure = bus.T("app", "cmd", "measure")
)

const outboxLen = 16

// radioLink is the radio resource: the driver plus the two receive buffers it
// alternates between.
type radioLink struct {
	dev    *sx1276.Device
	ok     bool
	bufs   [2][]byte
	cur    int
	rearms uint32
}

// Options configures an App. All fields are optional.
type Options struct {
	Logger *slog.Logger
	// Conn receives application events. Without it nothing is published.
	Conn *bus.Connection
	// Now is the clock used for button debounce.
	Now func() time.Time
}

// App owns the dispatcher and everything registered on it.
type App struct {
	d     *sched.Dispatcher
	log   *slog.Logger
	conn  *bus.Connection
	board *hal.Board
	prof  types.Profile
	alarm breathalyzer.Severity
	now   func() time.Time

	breath *sched.Resource[*breathalyzer.Device]
	buzz   *sched.Resource[*buzzer.Device]
	screen *sched.Resource[*oled.Device]
	radio  *sched.Resource[*radioLink]
	state  *sched.Resource[State]
	timers *sched.Resource[*hal.Timers]
	led    *sched.Resource[hal.GPIOPin]

	boot, warmup, measure, button *sched.Task
	tone, alarmT, poll, ping      *sched.Task
	radioT, report                *sched.Task

	irqs []*hal.IRQSource

	outbox   chan *bus.Message
	outDrops atomic.Uint32
}

// New builds the application on board b. Nothing runs until Start.
func New(p types.Profile, b *hal.Board, opts Options) (*App, error) {
	if err := config.Validate(p); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &App{
		d:      sched.NewDispatcher(sched.Options{Logger: log, DefaultCapacity: p.Sched.QueueCapacity}),
		log:    log.With(slog.String("svc", "app")),
		conn:   opts.Conn,
		board:  b,
		prof:   p,
		alarm:  config.AlarmLevel(p),
		now:    now,
		outbox: make(chan *bus.Message, outboxLen),
	}

	breath := breathalyzer.New(b.Sensor, b.Heater, breathalyzer.Config{
		Ladder:          config.Ladder(p),
		HeaterActiveLow: p.Sensor.HeaterActiveLow,
	})
	screen := oled.New(b.Display, oled.Config{Reinit: b.DisplayReinit})

	link := &radioLink{dev: sx1276.New(b.Radio, b.RadioPins)}
	for i := range link.bufs {
		link.bufs[i] = make([]byte, p.Radio.BufferSize)
	}
	err := link.dev.Configure(sx1276.Config{
		Frequency:       p.Radio.Frequency,
		SpreadingFactor: p.Radio.SpreadingFactor,
		TxPower:         p.Radio.TxPower,
	})
	if err != nil {
		a.log.Error("radio disabled", slog.String("err", err.Error()))
	} else {
		link.ok = true
		link.dev.SetBuffer(link.bufs[0])
	}

	d := a.d
	a.breath = sched.NewResource(d, "breath", breath)
	a.buzz = sched.NewResource(d, "buzzer", buzzer.New(b.Buzzer))
	a.screen = sched.NewResource(d, "oled", screen)
	a.radio = sched.NewResource(d, "radio", link)
	a.state = sched.NewResource(d, "state", State{})
	a.timers = sched.NewResource(d, "timers", &b.Timers)
	a.led = sched.NewResource(d, "led", b.LED)

	a.registerTasks()
	if err := a.registerLines(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerTasks() {
	d := a.d
	a.tone = d.Task(sched.TaskConfig{Name: "tone", Priority: PrioTone, Capacity: 1,
		Uses: []sched.Ref{a.buzz}, Run: a.runTone})
	a.alarmT = d.Task(sched.TaskConfig{Name: "alarm", Priority: PrioAlarm, Capacity: 1,
		Uses: []sched.Ref{a.state, a.buzz, a.timers}, Run: a.runAlarm})
	a.radioT = d.Task(sched.TaskConfig{Name: "radio", Priority: PrioRadio,
		Uses: []sched.Ref{a.radio, a.state}, Run: a.runRadio})
	a.button = d.Task(sched.TaskConfig{Name: "button", Priority: PrioButton,
		Uses: []sched.Ref{a.state, a.breath, a.buzz, a.screen, a.timers, a.led}, Run: a.runButton})
	a.warmup = d.Task(sched.TaskConfig{Name: "warmup", Priority: PrioWarmup, Capacity: 1,
		Uses: []sched.Ref{a.state, a.breath, a.screen, a.timers}, Run: a.runWarmup})
	a.measure = d.Task(sched.TaskConfig{Name: "measure", Priority: PrioMeasure, Capacity: 1,
		Uses: []sched.Ref{a.state, a.timers}, Run: a.runMeasure})
	a.boot = d.Task(sched.TaskConfig{Name: "boot", Priority: PrioBoot, Capacity: 1,
		Uses: []sched.Ref{a.breath, a.screen, a.radio, a.timers}, Run: a.runBoot})
	a.poll = d.Task(sched.TaskConfig{Name: "poll", Priority: PrioPoll, Capacity: 1,
		Uses: []sched.Ref{a.breath}, Run: a.runPoll})
	a.ping = d.Task(sched.TaskConfig{Name: "ping", Priority: PrioPing, Capacity: 1,
		Uses: []sched.Ref{a.state}, Run: a.runPing})
	a.report = d.Task(sched.TaskConfig{Name: "report", Priority: PrioReport,
		Uses: []sched.Ref{a.radio}, Run: a.runReport})
}

// registerLines binds every hardware source to a front-end line.
func (a *App) registerLines() error {
	d, b := a.d, a.board

	btn := hal.NewIRQSource("button", b.Button, hal.EdgeFalling)
	btnLine := d.Line(sched.LineConfig{Name: "exti.button", Priority: PrioButton, Source: btn,
		Handler: sched.FrontEnd(a.button, func() any { return Press })})
	dio := hal.NewIRQSource("dio0", b.DIO0, hal.EdgeRising)
	dioLine := d.Line(sched.LineConfig{Name: "exti.dio0", Priority: PrioRadio, Source: dio,
		Handler: sched.FrontEnd(a.radioT, func() any { return sx1276.DIO0 })})
	a.irqs = []*hal.IRQSource{btn, dio}
	if err := btn.Attach(btnLine.Raise); err != nil {
		return errors.Wrap(err, "app: button irq")
	}
	if err := dio.Attach(dioLine.Raise); err != nil {
		return errors.Wrap(err, "app: dio0 irq")
	}

	t := b.Timers
	bind := func(tm *hal.TickTimer, task *sched.Task) {
		if tm == nil {
			return
		}
		l := d.Line(sched.LineConfig{Name: "tim." + tm.Name(), Priority: task.Priority(), Source: tm,
			Handler: sched.FrontEnd(task, nil)})
		tm.SetIRQ(l.Raise)
	}
	bind(t.Tone, a.tone)
	bind(t.Interval, a.alarmT)
	bind(t.Warmup, a.warmup)
	bind(t.Measure, a.measure)
	bind(t.Poll, a.poll)
	bind(t.Ping, a.ping)
	return nil
}

// Start freezes the dispatcher and queues the bring-up task.
func (a *App) Start() error {
	if err := a.d.Start(); err != nil {
		return err
	}
	return a.d.Post(a.boot, nil)
}

// Run dispatches until ctx is cancelled. Application events are published
// from a separate goroutine so task bodies never wait on the bus.
func (a *App) Run(ctx context.Context) error {
	go a.pump(ctx)
	if a.conn != nil {
		go a.commands(ctx)
	}
	return a.d.Run(ctx)
}

// Stop detaches the interrupt sources and stops every timer. Events already
// queued are left alone.
func (a *App) Stop() {
	for _, src := range a.irqs {
		if err := src.Detach(); err != nil {
			a.log.Warn("detach", slog.String("irq", src.Name()), slog.String("err", err.Error()))
		}
	}
	for _, tm := range a.board.Timers.All() {
		tm.Disable()
	}
}

// Dispatcher exposes the scheduler for telemetry.
func (a *App) Dispatcher() *sched.Dispatcher { return a.d }

// Stats snapshots the dispatcher counters.
func (a *App) Stats() sched.Stats { return a.d.Stats() }

// OutboxDrops counts events discarded because the publisher fell behind.
func (a *App) OutboxDrops() uint32 { return a.outDrops.Load() }

// Snapshot returns a copy of the application state. Only valid while the
// dispatcher is idle.
func (a *App) Snapshot() State { return sched.Peek(a.state) }

// RequestMeasure asks for a measurement from outside the dispatcher.
func (a *App) RequestMeasure() error { return a.d.Post(a.button, RemoteMeasure) }

// publish queues an event for the bus. It never blocks.
func (a *App) publish(topic bus.Topic, payload any, retained bool) {
	if a.conn == nil {
		return
	}
	select {
	case a.outbox <- a.conn.NewMessage(topic, payload, retained):
	default:
		a.outDrops.Add(1)
	}
}

// Flush publishes everything queued. Run does this continuously.
func (a *App) Flush() {
	for {
		select {
		case m := <-a.outbox:
			a.conn.Publish(m)
		default:
			return
		}
	}
}

func (a *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.outbox:
			a.conn.Publish(m)
		}
	}
}

// commands turns uplink measurement requests into button events.
func (a *App) commands(ctx context.Context) {
	sub := a.conn.Subscribe(TopicMeasure)
	defer a.conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := a.RequestMeasure(); err != nil {
				a.log.Warn("measure request dropped", slog.String("err", err.Error()))
			}
		}
	}
}
