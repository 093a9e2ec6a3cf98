// Package telemetry publishes dispatcher health on the bus.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"alcosense-go/bus"
	"alcosense-go/sched"
	"alcosense-go/types"
	"alcosense-go/x/timex"
)

var (
	TopicStats       = bus.T("sched", "stats")
	TopicStatsGet    = bus.T("sched", "stats", "get")
	topicConfigTelem = bus.T("config", "telemetry")
)

// Sources are the counters a snapshot reads. Any may be nil.
type Sources struct {
	Stats    func() sched.Stats
	BusDrops func() uint32
	LogDrops func() uint32
}

type Service struct {
	src   Sources
	log   *slog.Logger
	every time.Duration
	start time.Time
}

func New(src Sources, every time.Duration, log *slog.Logger) *Service {
	if every <= 0 {
		every = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{src: src, every: every, log: log.With(slog.String("svc", "telemetry")), start: timex.Clock()}
}

// Snapshot collects the current counters.
func (s *Service) Snapshot() types.Health {
	h := types.Health{
		UptimeMs: timex.SinceMs(s.start),
		TS:       timex.NowMs(),
	}
	if s.src.Stats != nil {
		st := s.src.Stats()
		h.Stats = st
		h.Dropped = st.Dropped()
	}
	if s.src.BusDrops != nil {
		h.BusDrops = s.src.BusDrops()
	}
	if s.src.LogDrops != nil {
		h.LogDrops = s.src.LogDrops()
	}
	return h
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigTelem)
	defer conn.Unsubscribe(cfgSub)
	getSub := conn.Subscribe(TopicStatsGet)
	defer conn.Unsubscribe(getSub)

	tick := time.NewTicker(s.every)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick, requests and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info("telemetry stopping")
			return
		case <-tick.C:
			h := s.Snapshot()
			conn.Publish(conn.NewMessage(TopicStats, h, true))
			if h.Dropped > 0 || h.BusDrops > 0 || h.LogDrops > 0 {
				s.log.Warn("drops", slog.Any("queue", h.Dropped), slog.Any("bus", h.BusDrops), slog.Any("log", h.LogDrops))
			}
		case req := <-getSub.Channel():
			conn.Reply(req, s.Snapshot(), false)
		case msg := <-cfgSub.Channel():
			if tp, ok := msg.Payload.(types.TelemetryProfile); ok && tp.Interval > 0 && tp.Interval != s.every {
				s.every = tp.Interval
				tick.Reset(s.every)
				s.log.Info("interval set", slog.Duration("every", s.every))
			}
		}
	}
}

// Start the telemetry service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
