// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-shell is an interactive shell to query the status of
// a Katherine readout.
//
// Usage: katherine-shell [OPTIONS]
//
// Example:
//
//	$> katherine-shell -addr 192.168.1.157
//	katherine> chipid
//	H6-W0007
//	katherine> temp
//	readout: 42.50 C
//	sensor:  37.25 C
//	katherine> quit
package main // import "github.com/go-lpc/katherine/cmd/katherine-shell"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"github.com/peterh/liner"
)

const prompt = "katherine> "

var errQuit = errors.New("quit")

func main() {
	log.SetPrefix("katherine-shell: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to run file (TOML or YAML)")
		addr  = flag.String("addr", "", "IPv4 address of the readout (overrides run file)")
	)

	flag.Parse()

	file := config.DefaultFile()
	if *fname != "" {
		v, err := config.Load(*fname)
		if err != nil {
			log.Fatalf("could not load run file: %+v", err)
		}
		file = v
	}
	if *addr != "" {
		file.Device.Addr = *addr
	}

	dev, err := device.Dial(file.Device)
	if err != nil {
		log.Fatalf("could not open readout %q: %+v", file.Device.Addr, err)
	}
	defer dev.Close()

	err = run(dev, os.Stdout)
	if err != nil {
		log.Fatalf("shell error: %+v", err)
	}
}

func run(dev *device.Device, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	hist := histFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	sh := shell{dev: dev, w: w}
	for {
		line, err := term.Prompt(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(w, "error: %+v\n", err)
		}
	}
}

func histFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".katherine_history")
}

type command struct {
	name string
	help string
}

var commands = []command{
	{"chipid", "display the identifier of the detector chip"},
	{"status", "display the hardware status of the readout"},
	{"comm", "display the communication status of the readout"},
	{"temp", "display the readout and sensor temperatures"},
	{"adc", "adc <channel>: display the voltage of an ADC channel"},
	{"dtest", "run the digital test of the detector"},
	{"help", "display this help message"},
	{"quit", "exit the shell"},
}

func complete(line string) []string {
	var out []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd.name, line) {
			out = append(out, cmd.name)
		}
	}
	return out
}

type shell struct {
	dev *device.Device
	w   io.Writer
}

func (sh shell) exec(line string) error {
	toks := strings.Fields(line)
	switch name, args := toks[0], toks[1:]; name {
	case "chipid":
		id, err := sh.dev.ChipID()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%s\n", id)

	case "status":
		st, err := sh.dev.ReadoutStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%v\n", st)

	case "comm":
		st, err := sh.dev.CommStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%v\n", st)

	case "temp":
		ro, err := sh.dev.ReadoutTemperature()
		if err != nil {
			return err
		}
		se, err := sh.dev.SensorTemperature()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "readout: %.2f C\nsensor:  %.2f C\n", ro, se)

	case "adc":
		if len(args) != 1 {
			return fmt.Errorf("usage: adc <channel>")
		}
		ch, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid ADC channel %q: %w", args[0], err)
		}
		v, err := sh.dev.ADCVoltage(uint8(ch))
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "adc[%d]: %.3f V\n", ch, v)

	case "dtest":
		start := time.Now()
		err := sh.dev.DigitalTest()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "digital test passed (%v)\n", time.Since(start).Round(time.Millisecond))

	case "help":
		for _, cmd := range commands {
			fmt.Fprintf(sh.w, "  %-8s %s\n", cmd.name, cmd.help)
		}

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	return nil
}
