// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-srv starts a TDAQ server driving a Katherine readout.
//
// The server loads its run file on /config. The run file may also be
// sent as the body of the /config command.
//
// Usage: katherine-srv [TDAQ-OPTIONS] [RUN-FILE]
package main // import "github.com/go-lpc/katherine/cmd/katherine-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/katherine/daq"
)

func main() {
	cmd := flags.New()

	fname := "run.toml"
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}

	dev := daq.NewServer(fname)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/pixels", dev.Pixels)
	srv.OutputHandle("/frames", dev.Frames)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
