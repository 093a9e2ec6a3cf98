// Package logx routes slog records through an shmring so that logging from a
// task never blocks on the sink. A drain goroutine copies whole records out to
// the real writer (UART, USB CDC, stderr).
package logx

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"alcosense-go/errcode"
	"alcosense-go/x/shmring"
)

// Writer is an io.Writer that stores each Write as one record in a ring.
// A record that does not fit is dropped and counted.
type Writer struct {
	ring    *shmring.Ring
	dropped atomic.Uint32
}

// NewWriter allocates a ring of size bytes, rounded up to a power of two.
func NewWriter(size int) *Writer {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Writer{ring: shmring.New(n)}
}

func (w *Writer) Write(p []byte) (int, error) {
	if !w.ring.TryWrite(p) {
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped counts records lost to a full ring.
func (w *Writer) Dropped() uint32 { return w.dropped.Load() }

// Pending is the number of buffered bytes not yet drained.
func (w *Writer) Pending() int { return w.ring.Available() }

// Flush copies everything buffered to dst.
func (w *Writer) Flush(dst io.Writer) error {
	var buf [128]byte
	for {
		n := w.ring.TryReadInto(buf[:])
		if n == 0 {
			return nil
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// Drain flushes to dst each time the ring becomes readable until ctx ends.
func (w *Writer) Drain(ctx context.Context, dst io.Writer) {
	for {
		_ = w.Flush(dst)
		select {
		case <-ctx.Done():
			_ = w.Flush(dst)
			return
		case <-w.ring.Readable():
		}
	}
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, &errcode.E{C: errcode.InvalidParams, Op: "logx.level", Msg: "unknown level " + s}
}

// New returns a text logger writing into w at the given level.
func New(w *Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard is a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
