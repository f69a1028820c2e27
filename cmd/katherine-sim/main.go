// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-sim simulates a Katherine readout over UDP.
//
// The simulated readout answers control commands and streams random
// pixels to the data port of the client that started an acquisition.
//
// Usage: katherine-sim [OPTIONS]
//
// Example:
//
//	$> katherine-sim -addr :1555 -pixels 1000 -delay 100ms
//	$> katherine-run -addr 127.0.0.1 -frames 10
package main // import "github.com/go-lpc/katherine/cmd/katherine-sim"

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/go-lpc/katherine/internal/fakedev"
)

func main() {
	msg := log.New(os.Stdout, "katherine-sim: ", 0)

	var (
		addr   = flag.String("addr", ":1555", "[address]:port of the control channel")
		data   = flag.Int("data", 1556, "data port of the client")
		chip   = flag.String("chip", "0x0662", "raw chip identifier")
		pixels = flag.Int("pixels", 100, "number of pixels per frame")
		lost   = flag.Uint64("lost", 0, "number of lost pixels reported per frame")
		delay  = flag.Duration("delay", 0, "simulated acquisition time of a frame (default: configured acquisition time)")
		seed   = flag.Uint64("seed", 1234, "seed of the pixel generator")
	)

	flag.Parse()

	id, err := strconv.ParseUint(*chip, 0, 32)
	if err != nil {
		msg.Fatalf("invalid chip identifier %q: %+v", *chip, err)
	}

	dev, err := fakedev.New(
		*addr,
		fakedev.WithDataPort(*data),
		fakedev.WithChipID(uint32(id)),
		fakedev.WithPixels(*pixels),
		fakedev.WithLostPixels(*lost),
		fakedev.WithFrameDelay(*delay),
		fakedev.WithSeed(*seed),
		fakedev.WithLogger(msg),
	)
	if err != nil {
		msg.Fatalf("could not create simulated readout: %+v", err)
	}
	defer dev.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	msg.Printf("listening on %v...", dev.Addr())
	err = dev.Serve(ctx)
	if err != nil {
		msg.Fatalf("could not serve: %+v", err)
	}
	msg.Printf("bye.")
}
