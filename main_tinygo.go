//go:build tinygo

package main

import (
	"context"
	"machine"
	"time"

	"alcosense-go/services/config"
	"alcosense-go/services/hal"
)

// device selects the embedded profile; override with
// -ldflags "-X main.device=pico".
var device = "stm32l0"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot", device)

	p, err := config.Lookup(device)
	if err != nil {
		halt("config", err)
	}
	board, err := hal.Open(p)
	if err != nil {
		halt("board", err)
	}
	ctx := context.Background()
	sys, err := start(ctx, p, board, boardDialer(board), machine.Serial)
	if err != nil {
		halt("start", err)
	}
	if err := sys.run(ctx); err != nil {
		halt("run", err)
	}
}

func halt(stage string, err error) {
	for {
		println("[main]", stage, "failed:", err.Error())
		time.Sleep(5 * time.Second)
	}
}
