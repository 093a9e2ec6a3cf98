// Command monitor prints what a device mirrors over its uplink and can send
// it commands.
//
//	monitor -port /dev/ttyUSB0 -measure
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.bug.st/serial"

	"alcosense-go/services/bridge"
	"alcosense-go/services/hal"
	"alcosense-go/types"
)

var (
	port    = flag.String("port", "/dev/ttyUSB0", "serial device path")
	baud    = flag.Int("baud", 115200, "baud rate")
	list    = flag.Bool("list", false, "list serial ports and exit")
	measure = flag.Bool("measure", false, "request one measurement after connecting")
	filter  = flag.String("filter", "", "only print topics with this prefix")
)

func main() {
	flag.Parse()

	if *list {
		ports, err := serial.GetPortsList()
		if err != nil {
			fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	conn, err := hal.OpenUplink(types.BridgeProfile{Enabled: true, Baud: *baud, Port: *port})
	if err != nil {
		fatal(err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = bridge.NewFrameWriter(conn).WriteFrame(bridge.Frame{Type: bridge.FrameClose})
		conn.Close()
	}()

	m := &Monitor{Out: os.Stdout, Filter: *filter}
	if *measure {
		m.Send = append(m.Send, bridge.Envelope{Topic: bridge.CommandPrefix + "measure"})
	}
	if err := m.Run(conn); err != nil && ctx.Err() == nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
	os.Exit(1)
}
