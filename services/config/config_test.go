package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alcosense-go/bus"
	"alcosense-go/drivers/breathalyzer"
	"alcosense-go/errcode"
	"alcosense-go/types"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestEmbeddedProfilesParse(t *testing.T) {
	devs := Devices()
	require.Contains(t, devs, "stm32l0")
	require.Contains(t, devs, "sim")
	for _, d := range devs {
		p, err := Lookup(d)
		require.NoError(t, err, d)
		assert.Equal(t, d, p.Device)
	}
}

func TestStm32l0MatchesBoard(t *testing.T) {
	p, err := Lookup("stm32l0")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), p.Address)
	assert.Equal(t, 10, p.Sensor.WarmupTicks)
	assert.Equal(t, 3, p.Sensor.MeasureTicks)
	assert.True(t, p.Sensor.HeaterActiveLow)
	assert.Equal(t, time.Second, p.Timers.Warmup)
	assert.Zero(t, p.Timers.Ping)
	assert.Equal(t, breathalyzer.High, AlarmLevel(p))
}

func TestPartialProfileKeepsDefaults(t *testing.T) {
	p, err := Parse([]byte("address: 7\ntimers:\n  warmup: 250ms\n"))
	require.NoError(t, err)
	assert.Equal(t, uint16(7), p.Address)
	assert.Equal(t, 250*time.Millisecond, p.Timers.Warmup)
	assert.Equal(t, time.Second, p.Timers.Measure)
	assert.Equal(t, breathalyzer.DefaultLadder, Ladder(p))
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "colour: red\n"},
		{"bad duration", "timers:\n  tone: soon\n"},
		{"zero period", "timers:\n  poll: 0s\n"},
		{"short ladder", "sensor:\n  ladder: [100, 200]\n"},
		{"decreasing ladder", "sensor:\n  ladder: [100, 200, 150, 300, 400]\n"},
		{"unknown alarm", "alarm:\n  level: TIPSY\n"},
		{"tiny buffer", "radio:\n  buffer_size: 3\n"},
		{"bridge without baud", "bridge:\n  enabled: true\n  baud: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
		})
	}
}

func TestLookupMissing(t *testing.T) {
	_, err := Lookup("toaster")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.InvalidParams))
}

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	old := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "bench" {
			return nil, false
		}
		return []byte("address: 9\nbridge:\n  enabled: true\n  baud: 9600\n"), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = old })

	b := bus.NewBus(32)
	conn := b.NewConnection("test-config")
	svc := NewConfigService(nil)

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench")
	svc.Start(ctx, conn)

	sub := conn.Subscribe(bus.T(configPrefix, "bridge"))
	select {
	case m := <-sub.Channel():
		assert.True(t, m.Retained)
		bp, ok := m.Payload.(types.BridgeProfile)
		require.True(t, ok, "payload %T", m.Payload)
		assert.Equal(t, 9600, bp.Baud)
	case <-time.After(time.Second):
		t.Fatal("no retained bridge config")
	}

	addr := conn.Subscribe(bus.T(configPrefix, "address"))
	select {
	case m := <-addr.Channel():
		assert.Equal(t, uint16(9), m.Payload)
	case <-time.After(time.Second):
		t.Fatal("no retained address")
	}
}

func TestConfig_PublishesGivenProfile(t *testing.T) {
	p := Default()
	p.Device = "bench"
	p.Bridge.Port = "/dev/ttyUSB1"

	b := bus.NewBus(32)
	conn := b.NewConnection("test-config")
	svc := NewConfigService(nil)
	svc.Profile = &p
	svc.Start(context.Background(), conn)

	sub := conn.Subscribe(bus.T(configPrefix, "bridge"))
	select {
	case m := <-sub.Channel():
		bp, ok := m.Payload.(types.BridgeProfile)
		require.True(t, ok, "payload %T", m.Payload)
		assert.Equal(t, "/dev/ttyUSB1", bp.Port)
	case <-time.After(time.Second):
		t.Fatal("no retained bridge config")
	}
}
