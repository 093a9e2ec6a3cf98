package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"alcosense-go/services/bridge"
)

// Monitor prints the frames a device sends and answers its pings.
type Monitor struct {
	Out    io.Writer
	Filter string
	// Send is written once, before reading starts.
	Send []bridge.Envelope
}

// Run reads frames until the device closes the link or rw fails. A clean
// close returns nil.
func (m *Monitor) Run(rw io.ReadWriter) error {
	rd := bridge.NewFrameReader(rw)
	wr := bridge.NewFrameWriter(rw)

	for _, env := range m.Send {
		b, err := json.Marshal(env)
		if err != nil {
			return errors.Wrap(err, "encode command")
		}
		if err := wr.WriteFrame(bridge.Frame{Type: bridge.FramePub, Payload: b}); err != nil {
			return errors.Wrap(err, "send command")
		}
	}

	for {
		f, err := rd.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		switch f.Type {
		case bridge.FramePing:
			if err := wr.WriteFrame(bridge.Frame{Type: bridge.FramePong}); err != nil {
				return errors.Wrap(err, "pong")
			}
		case bridge.FramePub:
			m.print(f.Payload)
		case bridge.FrameClose:
			fmt.Fprintln(m.Out, "-- link closed by device")
			return nil
		}
	}
}

func (m *Monitor) print(p []byte) {
	env, err := bridge.DecodeEnvelope(p)
	if err != nil {
		fmt.Fprintf(m.Out, "!! %v\n", err)
		return
	}
	if m.Filter != "" && !strings.HasPrefix(env.Topic, m.Filter) {
		return
	}
	mark := " "
	if env.Retained {
		mark = "R"
	}
	fmt.Fprintf(m.Out, "%s %-16s %s\n", mark, env.Topic, env.Payload)
}
