// Package bridge mirrors selected bus traffic over a serial uplink and
// accepts commands coming back down it.
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"alcosense-go/bus"
	"alcosense-go/types"
	"alcosense-go/x/timex"
)

var (
	TopicState  = bus.T("bridge", "state")
	topicConfig = bus.T("config", "bridge")
)

// DefaultForward are the filters mirrored upstream.
var DefaultForward = []bus.Topic{
	bus.T("app", "#"),
	bus.T("sensor", "#"),
	bus.T("sched", "#"),
}

// CommandPrefix is the only topic prefix accepted from the uplink.
const CommandPrefix = "app/cmd/"

const pingEvery = 5 * time.Second

// Dialer opens the uplink for a profile. Platform code provides it.
type Dialer func(ctx context.Context, p types.BridgeProfile) (io.ReadWriteCloser, error)

// Service supervises one uplink.
type Service struct {
	conn    *bus.Connection
	dial    Dialer
	log     *slog.Logger
	forward []bus.Topic
	ping    time.Duration

	mu     sync.Mutex
	curRun context.CancelFunc
}

func New(conn *bus.Connection, dial Dialer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conn:    conn,
		dial:    dial,
		log:     log.With(slog.String("svc", "bridge")),
		forward: DefaultForward,
		ping:    pingEvery,
	}
}

// Start runs the service in a goroutine.
func (s *Service) Start(ctx context.Context) { go s.Run(ctx) }

// Run waits for config on config/bridge and (re)configures the link. It
// blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState(types.LinkDown, "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if !cfg.Enabled {
				s.stopCurrent()
				s.publishState(types.LinkDown, "disabled", nil)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.BridgeProfile) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.BridgeProfile) {
	if s.dial == nil {
		s.publishState("error", "transport_init_failed", errors.New("no uplink dialer"))
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := s.dial(ctx, cfg)
		if err != nil {
			delay := backoff()
			s.publishState(types.LinkDegraded, "dial_failed_retrying", errors.Wrapf(err, "retry in %s", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState(types.LinkUp, "link_established", nil)
		if err := s.handleLink(ctx, rwc); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState(types.LinkDegraded, "link_lost_retrying", errors.Wrapf(err, "retry in %s", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		_ = rwc.Close()
		return
	}
}

// handleLink owns the active link lifetime: it forwards matching bus traffic
// up, answers pings and republishes accepted commands locally.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	rd := NewFrameReader(rwc)
	wr := NewFrameWriter(rwc)

	done := make(chan struct{})
	defer close(done)

	// Merge all forward subscriptions into one channel.
	fwd := make(chan *bus.Message, 16)
	subs := make([]*bus.Subscription, 0, len(s.forward))
	for _, f := range s.forward {
		subs = append(subs, s.conn.Subscribe(f))
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()
	for _, sub := range subs {
		go func(ch <-chan *bus.Message) {
			for m := range ch {
				select {
				case fwd <- m:
				case <-done:
					return
				}
			}
		}(sub.Channel())
	}

	errCh := make(chan error, 1)
	pong := make(chan struct{}, 1)
	go func() {
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case FramePing:
				select {
				case pong <- struct{}{}:
				default:
				}
			case FramePub:
				s.inbound(f.Payload)
			case FrameClose:
				errCh <- nil
				return
			}
		}
	}()

	tick := time.NewTicker(s.ping)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(Frame{Type: FrameClose})
			return nil
		case err := <-errCh:
			return err
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: FramePing}); err != nil {
				return err
			}
		case <-pong:
			if err := wr.WriteFrame(Frame{Type: FramePong}); err != nil {
				return err
			}
		case m := <-fwd:
			f, err := EncodeMessage(m)
			if err != nil {
				s.log.Warn("forward skipped", slog.String("topic", m.Topic.String()), slog.String("err", err.Error()))
				continue
			}
			if err := wr.WriteFrame(f); err != nil {
				return err
			}
		}
	}
}

func (s *Service) inbound(p []byte) {
	env, err := DecodeEnvelope(p)
	if err != nil {
		s.log.Warn("bad inbound frame", slog.String("err", err.Error()))
		return
	}
	if !strings.HasPrefix(env.Topic, CommandPrefix) {
		s.log.Warn("inbound topic refused", slog.String("topic", env.Topic))
		return
	}
	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.log.Warn("bad inbound payload", slog.String("topic", env.Topic))
			return
		}
	}
	s.conn.Publish(s.conn.NewMessage(ParseTopic(env.Topic), payload, false))
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (types.BridgeProfile, error) {
	var cfg types.BridgeProfile
	switch v := p.(type) {
	case types.BridgeProfile:
		return v, nil
	case *types.BridgeProfile:
		if v == nil {
			return cfg, errors.New("nil bridge config")
		}
		return *v, nil
	case []byte:
		err := json.Unmarshal(v, &cfg)
		return cfg, errors.Wrap(err, "bridge config")
	case string:
		err := json.Unmarshal([]byte(v), &cfg)
		return cfg, errors.Wrap(err, "bridge config")
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, errors.Wrap(err, "bridge config")
		}
		err = json.Unmarshal(b, &cfg)
		return cfg, errors.Wrap(err, "bridge config")
	}
	return cfg, errors.Errorf("unsupported config payload type: %T", p)
}

func (s *Service) publishState(level types.Link, status string, err error) {
	st := types.ServiceState{Level: string(level), Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
		s.log.Warn("link state", slog.String("level", st.Level), slog.String("status", status), slog.String("err", st.Error))
	} else {
		s.log.Info("link state", slog.String("level", st.Level), slog.String("status", status))
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
