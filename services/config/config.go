package config

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"alcosense-go/bus"
	"alcosense-go/drivers/breathalyzer"
	"alcosense-go/errcode"
	"alcosense-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

//go:embed profiles/*.yaml
var embedded embed.FS

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, err := embedded.ReadFile(path.Join("profiles", device+".yaml"))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Devices lists the embedded profile names.
func Devices() []string {
	ents, err := fs.ReadDir(embedded, "profiles")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(out)
	return out
}

// Default returns a profile with every field set.
func Default() types.Profile {
	l := breathalyzer.DefaultLadder
	return types.Profile{
		Device:  "default",
		Address: 2,
		Radio: types.RadioProfile{
			Frequency:       915_000_000,
			SpreadingFactor: 9,
			TxPower:         14,
			BufferSize:      255,
		},
		Timers: types.TimerProfile{
			Tone:     time.Millisecond,
			Interval: 500 * time.Millisecond,
			Warmup:   time.Second,
			Measure:  time.Second,
			Poll:     time.Second,
		},
		Sensor: types.SensorProfile{
			WarmupTicks:     10,
			MeasureTicks:    3,
			BaselineSamples: 8,
			Ladder:          l[:],
		},
		Alarm:     types.AlarmProfile{Level: breathalyzer.High.String(), Cycles: 6},
		Button:    types.ButtonProfile{Debounce: 200 * time.Millisecond},
		Sched:     types.SchedProfile{QueueCapacity: 4},
		Telemetry: types.TelemetryProfile{Interval: 10 * time.Second},
		Bridge:    types.BridgeProfile{Baud: 115200},
		Log:       types.LogProfile{Level: "info", RingSize: 2048},
	}
}

// Parse decodes a YAML profile over the defaults and validates it.
func Parse(raw []byte) (types.Profile, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return types.Profile{}, errcode.Wrap(errcode.InvalidParams, "config.parse", err)
	}
	if err := Validate(p); err != nil {
		return types.Profile{}, err
	}
	return p, nil
}

// Lookup parses the embedded profile for device.
func Lookup(device string) (types.Profile, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return types.Profile{}, &errcode.E{C: errcode.InvalidParams, Op: "config.lookup", Msg: "no embedded profile for device " + device}
	}
	p, err := Parse(raw)
	if err != nil {
		return types.Profile{}, errors.WithMessage(err, device)
	}
	if p.Device == "" || p.Device == "default" {
		p.Device = device
	}
	return p, nil
}

// Ladder converts the profile ladder to the driver type.
func Ladder(p types.Profile) breathalyzer.Ladder {
	var l breathalyzer.Ladder
	copy(l[:], p.Sensor.Ladder)
	return l
}

// AlarmLevel parses the configured alarm severity.
func AlarmLevel(p types.Profile) breathalyzer.Severity {
	s, _ := breathalyzer.ParseSeverity(strings.ToUpper(p.Alarm.Level))
	return s
}

// Validate checks ranges and cross-field rules.
func Validate(p types.Profile) error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.validate", Msg: msg}
	}
	t := p.Timers
	switch {
	case t.Tone <= 0, t.Interval <= 0, t.Warmup <= 0, t.Measure <= 0, t.Poll <= 0:
		return bad("timer periods must be positive")
	case t.Ping < 0:
		return bad("ping period must not be negative")
	case p.Sensor.WarmupTicks <= 0 || p.Sensor.MeasureTicks <= 0:
		return bad("tick thresholds must be positive")
	case p.Sensor.BaselineSamples <= 0 || p.Sensor.BaselineSamples > 256:
		return bad("baseline_samples must be 1..256")
	case len(p.Sensor.Ladder) != len(breathalyzer.Ladder{}):
		return bad("ladder needs one bound per severity above NONE")
	case !Ladder(p).Valid():
		return bad("ladder bounds must be non-zero and non-decreasing")
	case p.Sched.QueueCapacity <= 0:
		return bad("queue_capacity must be positive")
	case p.Alarm.Cycles < 0:
		return bad("alarm cycles must not be negative")
	case p.Radio.BufferSize < 7 || p.Radio.BufferSize > 255:
		return bad("radio buffer_size must be 7..255")
	case p.Bridge.Enabled && p.Bridge.Baud <= 0:
		return bad("bridge baud must be positive")
	}
	if _, ok := breathalyzer.ParseSeverity(strings.ToUpper(p.Alarm.Level)); !ok {
		return bad("unknown alarm level " + p.Alarm.Level)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	log  *slog.Logger

	// Profile, when set, is published as is instead of looking up the
	// device named in the context. Hosts use it for command-line overrides.
	Profile *types.Profile
}

func NewConfigService(log *slog.Logger) *ConfigService {
	if log == nil {
		log = slog.Default()
	}
	return &ConfigService{Name: serviceName, log: log.With(slog.String("svc", serviceName))}
}

// Publish sends each profile section as a retained message on
// config/<section>.
func Publish(conn *bus.Connection, p types.Profile) {
	sections := map[string]any{
		"device":    p.Device,
		"address":   p.Address,
		"radio":     p.Radio,
		"timers":    p.Timers,
		"sensor":    p.Sensor,
		"alarm":     p.Alarm,
		"button":    p.Button,
		"sched":     p.Sched,
		"telemetry": p.Telemetry,
		"bridge":    p.Bridge,
		"log":       p.Log,
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}

// publishConfig resolves the device profile named in ctx and publishes it.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) (types.Profile, error) {
	if s.Profile != nil {
		Publish(conn, *s.Profile)
		return *s.Profile, nil
	}
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return types.Profile{}, errors.New("missing device ID in context")
	}
	p, err := Lookup(device)
	if err != nil {
		return types.Profile{}, err
	}
	Publish(conn, p)
	return p, nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		p, err := s.publishConfig(ctx, conn)
		if err != nil {
			s.log.Error("publish failed", slog.String("err", err.Error()))
			return
		}
		s.log.Info("profile published", slog.String("device", p.Device))
	}()
}
