// Command alcosense runs the breathalyzer firmware. TinyGo builds drive the
// real board; host builds run the same application on a simulated board.
package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"alcosense-go/bus"
	"alcosense-go/services/app"
	"alcosense-go/services/bridge"
	"alcosense-go/services/config"
	"alcosense-go/services/hal"
	"alcosense-go/services/telemetry"
	"alcosense-go/types"
	"alcosense-go/x/logx"
)

const busQueueLen = 16

// system is one running device: the bus, its services and the application.
type system struct {
	bus  *bus.Bus
	app  *app.App
	logw *logx.Writer
	log  *slog.Logger
}

// start brings up logging, config, telemetry, the uplink bridge and the
// application on board. Log records drain to sink. The application is started
// but not yet running; call run.
func start(ctx context.Context, p types.Profile, board *hal.Board, dial bridge.Dialer, sink io.Writer) (*system, error) {
	logw := logx.NewWriter(p.Log.RingSize)
	level, err := logx.ParseLevel(p.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logx.New(logw, level).With(slog.String("device", p.Device))
	go logw.Drain(ctx, sink)

	b := bus.NewBus(busQueueLen)
	cfg := config.NewConfigService(log)
	cfg.Profile = &p
	cfg.Start(ctx, b.NewConnection("config"))

	a, err := app.New(p, board, app.Options{Logger: log, Conn: b.NewConnection("app")})
	if err != nil {
		return nil, errors.Wrap(err, "app")
	}
	if err := a.Start(); err != nil {
		return nil, errors.Wrap(err, "app start")
	}

	tel := telemetry.New(telemetry.Sources{
		Stats:    a.Stats,
		BusDrops: b.Drops,
		LogDrops: logw.Dropped,
	}, p.Telemetry.Interval, log)
	if err := tel.Start(ctx, b.NewConnection("telemetry")); err != nil {
		return nil, errors.Wrap(err, "telemetry")
	}
	bridge.New(b.NewConnection("bridge"), dial, log).Start(ctx)

	log.Info("started", slog.String("board", board.Name), slog.Int("address", int(p.Address)))
	return &system{bus: b, app: a, logw: logw, log: log}, nil
}

// run dispatches until ctx is cancelled.
func (s *system) run(ctx context.Context) error {
	err := s.app.Run(ctx)
	s.app.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// rwNopCloser gives a board uplink the Close the bridge expects. The port
// outlives every link.
type rwNopCloser struct{ io.ReadWriter }

func (rwNopCloser) Close() error { return nil }

// boardDialer hands out the board's own uplink, if it has one.
func boardDialer(board *hal.Board) bridge.Dialer {
	return func(_ context.Context, _ types.BridgeProfile) (io.ReadWriteCloser, error) {
		if board.Uplink == nil {
			return nil, errors.New("board has no uplink")
		}
		return rwNopCloser{board.Uplink}, nil
	}
}
