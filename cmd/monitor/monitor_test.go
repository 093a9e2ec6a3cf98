package main

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alcosense-go/services/bridge"
)

func pub(t *testing.T, topic string, payload any, retained bool) bridge.Frame {
	t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(bridge.Envelope{Topic: topic, Payload: p, Retained: retained})
	require.NoError(t, err)
	return bridge.Frame{Type: bridge.FramePub, Payload: b}
}

func TestMonitorPrintsAndAnswers(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	var out bytes.Buffer
	m := &Monitor{
		Out:    &out,
		Filter: "app/",
		Send:   []bridge.Envelope{{Topic: bridge.CommandPrefix + "measure"}},
	}
	done := make(chan error, 1)
	go func() { done <- m.Run(host) }()

	rd := bridge.NewFrameReader(dev)
	wr := bridge.NewFrameWriter(dev)

	f, err := rd.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, bridge.FramePub, f.Type)
	env, err := bridge.DecodeEnvelope(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, "app/cmd/measure", env.Topic)

	require.NoError(t, wr.WriteFrame(bridge.Frame{Type: bridge.FramePing}))
	f, err = rd.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, bridge.FramePong, f.Type)

	require.NoError(t, wr.WriteFrame(pub(t, "app/result", map[string]any{"severity": "HIGH"}, false)))
	require.NoError(t, wr.WriteFrame(pub(t, "sched/stats", map[string]any{"dropped": 0}, true)))
	require.NoError(t, wr.WriteFrame(pub(t, "app/state", map[string]any{"phase": "ready"}, true)))
	require.NoError(t, wr.WriteFrame(bridge.Frame{Type: bridge.FrameClose}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	s := out.String()
	assert.Contains(t, s, "app/result")
	assert.Contains(t, s, `"severity":"HIGH"`)
	assert.Contains(t, s, "R app/state")
	assert.NotContains(t, s, "sched/stats")
	assert.Contains(t, s, "link closed")
}

func TestMonitorReportsBadEnvelope(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()

	var out bytes.Buffer
	m := &Monitor{Out: &out}
	done := make(chan error, 1)
	go func() { done <- m.Run(host) }()

	wr := bridge.NewFrameWriter(dev)
	require.NoError(t, wr.WriteFrame(bridge.Frame{Type: bridge.FramePub, Payload: []byte("{")}))
	dev.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Contains(t, out.String(), "!!")
}
