//go:build !tinygo

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"alcosense-go/message"
	"alcosense-go/services/config"
	"alcosense-go/services/hal"
	"alcosense-go/types"
)

var (
	device  = flag.String("device", "sim", "embedded profile name")
	cfgPath = flag.String("config", "", "YAML profile file used instead of the embedded one")
	port    = flag.String("port", "", "serial port for the uplink bridge; overrides the profile")
	idle    = flag.Uint("idle", 400, "sensor reading while nobody blows")
)

func main() {
	flag.Parse()

	if *cfgPath != "" {
		raw, err := os.ReadFile(*cfgPath)
		if err != nil {
			fatal(err)
		}
		name := *device
		config.EmbeddedConfigLookup = func(d string) ([]byte, bool) { return raw, d == name }
	}
	p, err := config.Lookup(*device)
	if err != nil {
		fatal(err)
	}
	if *port != "" {
		p.Bridge.Enabled = true
		p.Bridge.Port = *port
	}

	sim, err := hal.NewSim(p, false)
	if err != nil {
		fatal(err)
	}
	sim.ADC.Set(uint16(*idle))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sys, err := start(ctx, p, sim.Board, hostDialer, os.Stderr)
	if err != nil {
		fatal(err)
	}
	go func() {
		console(sys, sim, os.Stdin, os.Stdout)
		cancel()
	}()
	if err := sys.run(ctx); err != nil {
		fatal(err)
	}
}

func hostDialer(_ context.Context, p types.BridgeProfile) (io.ReadWriteCloser, error) {
	return hal.OpenUplink(p)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "alcosense: %v\n", err)
	os.Exit(1)
}

// console reads simulator commands until EOF or quit.
func console(sys *system, sim *hal.Sim, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp(out)
		case "press", "p":
			sim.Press()
		case "blow", "adc":
			v, err := parseUint(f, 1, 16)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			sim.ADC.Set(uint16(v))
		case "measure":
			if err := sys.app.RequestMeasure(); err != nil {
				fmt.Fprintln(out, err)
			}
		case "rx":
			if err := deliver(sim, f); err != nil {
				fmt.Fprintln(out, err)
			}
		case "sent":
			for _, p := range sim.Chip.Sent() {
				m, ok := message.Decode(p)
				fmt.Fprintf(out, "%x ok=%v %+v\n", p, ok, m)
			}
		case "screen":
			fmt.Fprint(out, sim.Screen.String())
		case "stats":
			s := sys.app.Stats()
			fmt.Fprintf(out, "dropped=%d bus_drops=%d log_drops=%d outbox_drops=%d\n",
				s.Dropped(), sys.bus.Drops(), sys.logw.Dropped(), sys.app.OutboxDrops())
		default:
			fmt.Fprintf(out, "unknown command %q (try help)\n", f[0])
		}
	}
}

// deliver injects "rx <id> <channel> <data>" as a received packet.
func deliver(sim *hal.Sim, f []string) error {
	id, err := parseUint(f, 1, 16)
	if err != nil {
		return err
	}
	ch, err := parseUint(f, 2, 8)
	if err != nil {
		return err
	}
	data, err := parseUint(f, 3, 32)
	if err != nil {
		return err
	}
	b := message.Message{ID: uint16(id), Channel: message.Channel(ch), Data: uint32(data)}.Bytes()
	if !sim.Chip.Deliver(b[:], -50) {
		return errors.New("radio is not receiving")
	}
	return nil
}

func parseUint(f []string, i, bits int) (uint64, error) {
	if i >= len(f) {
		return 0, errors.Errorf("%s: missing argument %d", f[0], i)
	}
	v, err := strconv.ParseUint(f[i], 0, bits)
	return v, errors.Wrap(err, f[0])
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  press              press the button")
	fmt.Fprintln(out, "  blow <n>           set the sensor reading")
	fmt.Fprintln(out, "  measure            request a measurement as the uplink would")
	fmt.Fprintln(out, "  rx <id> <ch> <n>   receive a radio packet")
	fmt.Fprintln(out, "  sent               list transmitted packets")
	fmt.Fprintln(out, "  screen             print the display")
	fmt.Fprintln(out, "  stats              print drop counters")
	fmt.Fprintln(out, "  quit               exit")
}
