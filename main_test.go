//go:build !tinygo

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alcosense-go/services/config"
	"alcosense-go/services/hal"
)

func newSystem(t *testing.T) (*system, *hal.Sim) {
	t.Helper()
	p, err := config.Lookup("sim")
	require.NoError(t, err)
	sim, err := hal.NewSim(p, true)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sys, err := start(ctx, p, sim.Board, nil, io.Discard)
	require.NoError(t, err)
	return sys, sim
}

func TestConsoleCommands(t *testing.T) {
	sys, sim := newSystem(t)
	var out bytes.Buffer
	console(sys, sim, strings.NewReader("blow 512\nbogus\nstats\nblow\nquit\nblow 7\n"), &out)

	v, err := sim.Board.Sensor.Read()
	require.NoError(t, err)
	assert.Equal(t, uint16(512), v, "commands after quit are not read")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "dropped=0")
	assert.Contains(t, out.String(), "missing argument")
}

func TestConsoleReceive(t *testing.T) {
	sys, sim := newSystem(t)
	var out bytes.Buffer
	console(sys, sim, strings.NewReader("rx 2 1 0\n"), &out)
	assert.Contains(t, out.String(), "not receiving", "boot has not run yet")

	require.NoError(t, sys.app.Dispatcher().RunPending())
	out.Reset()
	console(sys, sim, strings.NewReader("rx 9 1 0\n"), &out)
	assert.Empty(t, out.String())
	require.NoError(t, sys.app.Dispatcher().RunPending())
	assert.Equal(t, uint32(1), sys.app.Snapshot().RxDiscarded)
}

func TestStartRejectsBadLogLevel(t *testing.T) {
	p := config.Default()
	p.Log.Level = "chatty"
	sim, err := hal.NewSim(p, true)
	require.NoError(t, err)
	_, err = start(context.Background(), p, sim.Board, nil, io.Discard)
	assert.Error(t, err)
}

func TestDeliverParsesArguments(t *testing.T) {
	_, sim := newSystem(t)
	assert.Error(t, deliver(sim, []string{"rx", "1", "300", "0"}), "channel must fit a byte")
	assert.Error(t, deliver(sim, []string{"rx", "1"}))
}
