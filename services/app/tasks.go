package app

import (
	"log/slog"

	"alcosense-go/drivers/breathalyzer"
	"alcosense-go/drivers/buzzer"
	"alcosense-go/drivers/oled"
	"alcosense-go/drivers/sx1276"
	"alcosense-go/errcode"
	"alcosense-go/message"
	"alcosense-go/sched"
	"alcosense-go/services/hal"
	"alcosense-go/types"
	"alcosense-go/x/conv"
	"alcosense-go/x/mathx"
	"alcosense-go/x/timex"
)

// Status lines shown under the title.
const (
	TextWarming = "Warming up"
	TextBlow    = "Blow now"
	TextError   = "Sensor error"
)

func (a *App) show(cx *sched.Context, text string) {
	sched.Lock(cx, a.screen, func(s **oled.Device) {
		if err := (*s).On(text); err != nil {
			a.log.Warn("display", slog.String("err", err.Error()))
		}
	})
}

func (a *App) publishPhase(phase types.Phase, baseline uint16) {
	a.publish(TopicState, types.AppState{Phase: phase, Baseline: baseline, TS: timex.NowMs()}, true)
}

// runBoot heats the sensor, opens the receiver and arms the periodic timers.
func (a *App) runBoot(cx *sched.Context, _ any) {
	sched.Lock(cx, a.breath, func(b **breathalyzer.Device) { (*b).On() })
	a.show(cx, TextWarming)
	sched.Lock(cx, a.radio, func(r **radioLink) {
		if (*r).ok {
			a.rearm(*r)
		}
	})
	sched.Lock(cx, a.timers, func(t **hal.Timers) {
		tm := *t
		tm.Warmup.Enable()
		tm.Poll.Enable()
		if tm.Ping != nil {
			tm.Ping.Enable()
		}
	})
	a.publishPhase(types.PhaseWarming, 0)
	a.log.Info("booted", slog.Int("address", int(a.prof.Address)))
}

// runWarmup counts warm-up ticks. At the threshold the sensor is ready, the
// timer is disarmed and the baseline captured.
func (a *App) runWarmup(cx *sched.Context, _ any) {
	reached := false
	sched.Lock(cx, a.state, func(s *State) {
		if s.Ready {
			return
		}
		s.WarmCount++
		if s.WarmCount < a.prof.Sensor.WarmupTicks {
			return
		}
		s.Ready = true
		s.WarmCount = 0
		reached = true
	})
	if !reached {
		return
	}
	sched.Lock(cx, a.timers, func(t **hal.Timers) { (*t).Warmup.Disable() })

	var base uint16
	sched.Lock(cx, a.breath, func(b **breathalyzer.Device) {
		var err error
		if base, err = (*b).CaptureBaseline(a.prof.Sensor.BaselineSamples); err != nil {
			a.log.Warn("baseline", slog.String("err", err.Error()))
		}
	})
	a.show(cx, "")
	a.publishPhase(types.PhaseReady, base)
	a.log.Info("sensor ready", slog.Int("baseline", int(base)))
}

// runMeasure counts ticks of the measurement window and hands over to the
// button task exactly once when it closes.
func (a *App) runMeasure(cx *sched.Context, _ any) {
	done := false
	sched.Lock(cx, a.state, func(s *State) {
		if !s.Measuring {
			return
		}
		s.MeasureCount++
		if s.MeasureCount < a.prof.Sensor.MeasureTicks {
			return
		}
		s.Measuring = false
		s.MeasureCount = 0
		done = true
	})
	if !done {
		return
	}
	sched.Lock(cx, a.timers, func(t **hal.Timers) { (*t).Measure.Disable() })
	if err := cx.Spawn(a.button, MeasureDone); err != nil {
		a.log.Error("measure result lost", slog.String("err", err.Error()))
	}
}

func (a *App) runButton(cx *sched.Context, payload any) {
	req, _ := payload.(Request)
	if req == MeasureDone {
		a.finish(cx)
		return
	}
	a.begin(cx, req)
}

type action uint8

const (
	ignore action = iota
	notReady
	start
	alarmGate
	alarmStop
)

// begin starts a measurement if the sensor is ready and idle.
func (a *App) begin(cx *sched.Context, req Request) {
	act := ignore
	sched.Lock(cx, a.state, func(s *State) {
		if req == Press {
			now := a.now()
			if !s.LastPress.IsZero() && now.Sub(s.LastPress) < a.prof.Button.Debounce {
				return
			}
			s.LastPress = now
		}
		switch {
		case s.Measuring:
		case !s.Ready:
			act = notReady
		default:
			act = start
			s.Measuring = true
			s.MeasureCount = 0
			s.Remote = req == RemoteMeasure
			s.Alarming = false
			s.AlarmLeft = 0
		}
	})
	switch act {
	case ignore:
		return
	case notReady:
		a.show(cx, TextWarming)
		return
	}

	var err error
	sched.Lock(cx, a.breath, func(b **breathalyzer.Device) { err = (*b).BeginMeasure() })
	if err != nil {
		a.log.Warn("measure refused", slog.String("err", err.Error()))
		sched.Lock(cx, a.state, func(s *State) { s.Measuring = false })
		return
	}
	sched.Lock(cx, a.buzz, func(z **buzzer.Device) { (*z).Enable() })
	sched.Lock(cx, a.timers, func(t **hal.Timers) {
		tm := *t
		tm.Interval.Disable()
		tm.Tone.Enable()
		tm.Measure.ResetCount()
		tm.Measure.Enable()
	})
	sched.Lock(cx, a.led, func(p *hal.GPIOPin) { (*p).Set(true) })
	a.show(cx, TextBlow)
	a.publishPhase(types.PhaseMeasuring, 0)
	a.log.Info("measuring", slog.String("by", req.String()))
}

// finish reads and classifies the sample, shows and reports it and starts the
// alarm pattern when the severity calls for it.
func (a *App) finish(cx *sched.Context) {
	var (
		r   breathalyzer.Reading
		err error
	)
	sched.Lock(cx, a.breath, func(b **breathalyzer.Device) {
		r, err = (*b).Read()
		(*b).EndMeasure()
	})
	sched.Lock(cx, a.buzz, func(z **buzzer.Device) { (*z).Disable() })
	sched.Lock(cx, a.timers, func(t **hal.Timers) { (*t).Tone.Disable() })
	sched.Lock(cx, a.led, func(p *hal.GPIOPin) { (*p).Set(false) })

	if err != nil && !errcode.Is(err, errcode.NoBaseline) {
		a.log.Error("read", slog.String("err", err.Error()))
		a.show(cx, TextError)
		sched.Lock(cx, a.state, func(s *State) { s.Remote = false })
		return
	}

	res := types.Result{
		Sample:   r.Sample,
		Baseline: r.Baseline,
		Percent:  r.Percent,
		Severity: r.Severity.String(),
		TS:       timex.NowMs(),
	}
	sound := r.Severity >= a.alarm && a.prof.Alarm.Cycles > 0
	sched.Lock(cx, a.state, func(s *State) {
		res.Remote = s.Remote
		s.Remote = false
		s.Last = res
		s.HasResult = true
		if sound {
			s.Alarming = true
			s.AlarmLeft = 2 * a.prof.Alarm.Cycles
		}
	})
	a.show(cx, ResultText(r))
	a.publish(TopicResult, res, false)
	a.publishPhase(types.PhaseReady, r.Baseline)
	a.log.Info("result", slog.String("severity", res.Severity), slog.Int("percent", int(r.Percent)), slog.Bool("remote", res.Remote))

	if sound {
		sched.Lock(cx, a.buzz, func(z **buzzer.Device) { (*z).Enable() })
		sched.Lock(cx, a.timers, func(t **hal.Timers) {
			(*t).Tone.Enable()
			(*t).Interval.Enable()
		})
	}
	msg := message.Message{ID: a.prof.Address, Channel: message.One, Data: ResultData(r)}
	if err := cx.Spawn(a.report, msg); err != nil {
		a.log.Warn("report dropped", slog.String("err", err.Error()))
	}
}

// ResultText is the status line for a reading, e.g. "HIGH 152%".
func ResultText(r breathalyzer.Reading) string {
	if r.Baseline == 0 {
		return r.Severity.String()
	}
	var buf [24]byte
	b := append(buf[:0], r.Severity.String()...)
	b = append(b, ' ')
	b = conv.AppendUint(b, uint64(r.Percent))
	return string(append(b, '%'))
}

// ResultData packs a reading for the radio: severity<<16 | percent.
func ResultData(r breathalyzer.Reading) uint32 {
	return uint32(r.Severity)<<16 | mathx.Min(r.Percent, breathalyzer.MaxPercent)
}

// runTone is one half period of the buzzer square wave. A tick queued before
// the buzzer was disabled does nothing.
func (a *App) runTone(cx *sched.Context, _ any) {
	sched.Lock(cx, a.buzz, func(z **buzzer.Device) { (*z).TogglePWM() })
}

// runAlarm gates the tone on and off each interval tick until the pattern is
// used up, then disarms both buzzer timers. A tick that arrives after the
// pattern was cancelled or finished does nothing.
func (a *App) runAlarm(cx *sched.Context, _ any) {
	act := ignore
	sched.Lock(cx, a.state, func(s *State) {
		switch {
		case !s.Alarming || s.Measuring:
		case s.AlarmLeft <= 0:
			s.Alarming = false
			act = alarmStop
		default:
			s.AlarmLeft--
			act = alarmGate
		}
	})
	switch act {
	case alarmStop:
		sched.Lock(cx, a.timers, func(t **hal.Timers) {
			(*t).Interval.Disable()
			(*t).Tone.Disable()
		})
		sched.Lock(cx, a.buzz, func(z **buzzer.Device) { (*z).Disable() })
	case alarmGate:
		sched.Lock(cx, a.buzz, func(z **buzzer.Device) {
			if (*z).Enabled() {
				(*z).Disable()
			} else {
				(*z).Enable()
			}
		})
	}
}

// runPoll publishes one raw sample while the heater is on.
func (a *App) runPoll(cx *sched.Context, _ any) {
	var (
		v   uint16
		err error
		on  bool
	)
	sched.Lock(cx, a.breath, func(b **breathalyzer.Device) {
		if (*b).State() == breathalyzer.Off {
			return
		}
		on = true
		v, err = (*b).ReadCurr()
	})
	if !on {
		return
	}
	if err != nil {
		a.log.Warn("poll", slog.String("err", err.Error()))
		return
	}
	a.publish(TopicRaw, types.SensorRaw{Value: v, TS: timex.NowMs()}, true)
}

// runPing sends the running channel Two total upstream.
func (a *App) runPing(cx *sched.Context, _ any) {
	var total uint32
	sched.Lock(cx, a.state, func(s *State) { total = s.Accum[message.Two] })
	if err := cx.Spawn(a.report, message.Message{ID: a.prof.Address, Channel: message.Two, Data: total}); err != nil {
		a.log.Debug("ping dropped", slog.String("err", err.Error()))
	}
}

type rxOutcome uint8

const (
	rxNone rxOutcome = iota
	rxMalformed
	rxForeign
	rxAccepted
)

// runRadio services DIO0. Receive is always re-armed with the other buffer
// before the body returns.
func (a *App) runRadio(cx *sched.Context, payload any) {
	ev, _ := payload.(sx1276.Event)
	out := rxNone
	var msg message.Message
	sched.Lock(cx, a.radio, func(r **radioLink) {
		link := *r
		if !link.ok {
			return
		}
		ce, err := link.dev.HandleEvent(ev)
		if err != nil {
			a.log.Warn("radio event", slog.String("err", err.Error()))
			a.rearm(link)
			return
		}
		switch ce {
		case sx1276.TxDone:
			a.rearm(link)
		case sx1276.Rx:
			m, ok := message.Decode(link.dev.Received())
			a.rearm(link)
			switch {
			case !ok:
				out = rxMalformed
			case m.ID != a.prof.Address:
				out = rxForeign
			default:
				out, msg = rxAccepted, m
			}
		default:
			if link.dev.State() != sx1276.Receiving {
				a.rearm(link)
			}
		}
	})

	switch out {
	case rxNone:
		return
	case rxMalformed:
		sched.Lock(cx, a.state, func(s *State) { s.RxMalformed++ })
		a.log.Debug("malformed packet dropped")
		return
	case rxForeign:
		sched.Lock(cx, a.state, func(s *State) { s.RxDiscarded++ })
		return
	}

	var total uint32
	sched.Lock(cx, a.state, func(s *State) {
		s.RxAccepted++
		if msg.Channel == message.Two {
			s.Accum[message.Two] += msg.Data
			total = s.Accum[message.Two]
		}
	})
	var err error
	if msg.Channel == message.One {
		err = cx.Spawn(a.button, RemoteMeasure)
	} else {
		err = cx.Spawn(a.report, message.Message{ID: a.prof.Address, Channel: message.Two, Data: total})
	}
	if err != nil {
		a.log.Warn("radio request dropped", slog.String("err", err.Error()))
	}
}

// rearm swaps to the spare receive buffer and re-enters receive.
func (a *App) rearm(link *radioLink) {
	link.cur ^= 1
	link.dev.SetBuffer(link.bufs[link.cur])
	if err := link.dev.Receive(); err != nil {
		a.log.Warn("radio receive", slog.String("err", err.Error()))
	}
	link.rearms++
}

// runReport encodes and transmits one message.
func (a *App) runReport(cx *sched.Context, payload any) {
	m, ok := payload.(message.Message)
	if !ok {
		return
	}
	var buf [message.Size]byte
	pkt := m.Encode(buf[:0])
	var err error
	sent := false
	sched.Lock(cx, a.radio, func(r **radioLink) {
		link := *r
		if !link.ok {
			return
		}
		if err = link.dev.Send(pkt); err == nil {
			sent = true
		}
	})
	if err != nil {
		a.log.Warn("radio send", slog.String("err", err.Error()))
	}
	if !sent {
		return
	}
	a.publish(TopicRadio, types.RadioReport{ID: m.ID, Channel: uint8(m.Channel), Data: m.Data, TS: timex.NowMs()}, false)
}
