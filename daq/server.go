// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq exposes a Katherine readout as a tdaq process.
package daq // import "github.com/go-lpc/katherine/daq"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/katherine/acq"
	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"golang.org/x/sync/errgroup"
)

// msgStream is the subset of the tdaq message stream used by the server.
type msgStream interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

const queueSize = 1024

// Server drives a Katherine readout from tdaq commands.
//
// The run file is loaded on /config, the acquisition is started on
// /start and its read loop runs for the duration of the tdaq run.
// Decoded pixels are published on /pixels (raw measurement data when
// decoding is disabled) and frame summaries on /frames.
type Server struct {
	fname string

	mu    sync.Mutex
	file  config.File
	setup acq.Setup
	dev   *device.Device
	run   acq.Runner
	done  chan struct{} // closed when the read loop of run exits
	loop  bool          // whether the read loop of run was started
	watch *watcher

	frame   atomic.Int64 // index of the current frame
	dropped atomic.Uint64

	pixels chan []byte
	frames chan []byte

	dial func(cfg config.Device) (*device.Device, error)
}

// NewServer creates a server reading its run file from fname.
// fname may be overridden by the body of the /config command.
func NewServer(fname string) *Server {
	return &Server{
		fname:  fname,
		pixels: make(chan []byte, queueSize),
		frames: make(chan []byte, queueSize),
		dial: func(cfg config.Device) (*device.Device, error) {
			return device.Dial(cfg)
		},
	}
}

// Modified reports whether the run file was modified since it was last
// loaded.
func (srv *Server) Modified() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.watch != nil && srv.watch.modified.Load()
}

// Dropped returns the number of output messages dropped because the
// output queues were full.
func (srv *Server) Dropped() uint64 {
	return srv.dropped.Load()
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	fname := srv.fname
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
		if err := dec.Err(); err != nil {
			ctx.Msg.Errorf("could not decode /config request: %+v", err)
			return fmt.Errorf("could not decode /config request: %w", err)
		}
	}

	err := srv.configure(ctx.Msg, fname)
	if err != nil {
		ctx.Msg.Errorf("could not configure readout: %+v", err)
		return fmt.Errorf("could not configure readout: %w", err)
	}
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	id, err := srv.initialize(ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not initialize readout: %+v", err)
		return fmt.Errorf("could not initialize readout: %w", err)
	}

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(id)
	if err := enc.Err(); err != nil {
		return fmt.Errorf("could not encode /init reply: %w", err)
	}
	resp.Body = buf.Bytes()
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return srv.reset(ctx.Msg)
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.start(ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := srv.stop(ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not stop acquisition: %+v", err)
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.reset(ctx.Msg)
}

// Pixels is the tdaq output handler publishing decoded pixels.
func (srv *Server) Pixels(ctx tdaq.Context, dst *tdaq.Frame) error {
	dst.Body = next(ctx.Ctx, srv.pixels)
	return nil
}

// Frames is the tdaq output handler publishing frame summaries.
func (srv *Server) Frames(ctx tdaq.Context, dst *tdaq.Frame) error {
	dst.Body = next(ctx.Ctx, srv.frames)
	return nil
}

// Run is the tdaq run handler: it runs the read loop of the acquisition
// started by /start until the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	return srv.read(ctx.Ctx, ctx.Msg)
}

func next(ctx context.Context, ch chan []byte) []byte {
	select {
	case <-ctx.Done():
		return nil
	case v := <-ch:
		return v
	}
}

func (srv *Server) publish(ch chan []byte, v []byte) {
	select {
	case ch <- v:
	default:
		srv.dropped.Add(1)
	}
}

func (srv *Server) configure(msg msgStream, fname string) error {
	if fname == "" {
		return fmt.Errorf("no run file")
	}

	file, err := config.Load(fname)
	if err != nil {
		return fmt.Errorf("could not load run file %q: %w", fname, err)
	}

	setup, err := acq.SetupOf(&file)
	if err != nil {
		return fmt.Errorf("could not setup acquisition: %w", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.run != nil && srv.run.State() == acq.Running {
		return fmt.Errorf("acquisition is running")
	}

	srv.closeDevice(msg)

	dev, err := srv.dial(file.Device)
	if err != nil {
		return fmt.Errorf("could not open readout %q: %w", file.Device.Addr, err)
	}

	w, err := newWatcher(fname, msg)
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("could not watch run file: %w", err)
	}

	srv.fname = fname
	srv.file = file
	srv.setup = setup
	srv.dev = dev
	srv.watch = w

	msg.Infof(
		"configured readout %s (mode=%v, readout=%v, frames=%d, acq-time=%v)",
		file.Device.Addr, setup.Format, setup.Readout,
		file.Detector.NoFrames, file.Detector.AcqTime,
	)
	return nil
}

func (srv *Server) initialize(msg msgStream) (string, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return "", fmt.Errorf("readout not configured")
	}

	id, err := srv.dev.ChipID()
	if err != nil {
		return "", err
	}
	msg.Infof("chip id: %s", id)

	st, err := srv.dev.ReadoutStatus()
	if err != nil {
		return "", err
	}
	msg.Infof("readout status: %v", st)

	comm, err := srv.dev.CommStatus()
	if err != nil {
		return "", err
	}
	msg.Infof("comm status: %v", comm)

	tro, err := srv.dev.ReadoutTemperature()
	if err != nil {
		return "", err
	}
	tsn, err := srv.dev.SensorTemperature()
	if err != nil {
		return "", err
	}
	msg.Infof("temperatures: readout=%.2f°C, sensor=%.2f°C", tro, tsn)

	return id, nil
}

func (srv *Server) start(msg msgStream) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("readout not configured")
	}
	if srv.run != nil && srv.run.State() == acq.Running {
		return fmt.Errorf("acquisition already running")
	}
	if srv.watch.modified.Load() {
		msg.Infof("run file %q was modified, send /config to reload it", srv.fname)
	}

	hs := acq.AnyHandlers{
		FrameStarted: func(idx int) {
			srv.frame.Store(int64(idx))
		},
		FrameEnded: func(idx int, completed bool, info acq.FrameInfo) {
			srv.publish(srv.frames, encodeFrame(idx, completed, info))
		},
		PixelsReceived: func(ps any) {
			srv.publish(srv.pixels, encodePixels(int(srv.frame.Load()), ps))
		},
		DataReceived: func(p []byte) {
			srv.publish(srv.pixels, append([]byte(nil), p...))
		},
	}

	run, err := srv.setup.NewRunner(srv.dev, srv.dev.Data(), hs)
	if err != nil {
		return err
	}

	srv.frame.Store(0)
	srv.dropped.Store(0)
	err = srv.setup.Begin(run, &srv.file.Detector)
	if err != nil {
		return err
	}
	srv.run = run
	srv.done = make(chan struct{})
	srv.loop = false

	msg.Infof("acquisition started: %d frame(s) of %v", run.RequestedFrames(), srv.file.Detector.AcqTime)
	return nil
}

// read runs the read loop of the current acquisition until it
// terminates. The acquisition is aborted when ctx is done.
func (srv *Server) read(ctx context.Context, msg msgStream) error {
	srv.mu.Lock()
	run, done, loop := srv.run, srv.done, srv.loop
	srv.loop = true
	srv.mu.Unlock()

	if run == nil || loop {
		return nil
	}
	defer close(done)

	grp, ctx := errgroup.WithContext(ctx)
	quit := make(chan struct{})
	grp.Go(func() error {
		defer close(quit)
		return run.Read()
	})
	grp.Go(func() error {
		select {
		case <-quit:
			return nil
		case <-ctx.Done():
			if run.State() != acq.Running || run.Aborted() {
				return nil
			}
			return run.Abort()
		}
	})

	err := grp.Wait()
	switch {
	case err == nil:
		msg.Infof(
			"acquisition %v: frames=%d/%d, dropped records=%d",
			run.State(), run.CompletedFrames(), run.RequestedFrames(), run.DroppedRecords(),
		)
		return nil
	case errors.Is(err, acq.ErrAborted):
		msg.Infof(
			"acquisition aborted: frames=%d/%d",
			run.CompletedFrames(), run.RequestedFrames(),
		)
		return nil
	default:
		return fmt.Errorf("could not read acquisition: %w", err)
	}
}

func (srv *Server) stop(msg msgStream) error {
	srv.mu.Lock()
	run, done, loop := srv.run, srv.done, srv.loop
	timeout := srv.file.Acquisition.FailTimeout + time.Second
	srv.mu.Unlock()

	if run == nil {
		return nil
	}

	if run.State() == acq.Running && !run.Aborted() {
		err := run.Abort()
		if err != nil {
			return err
		}
	}

	if !loop {
		msg.Infof("acquisition stopped before its read loop started")
		return nil
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("read loop did not terminate within %v", timeout)
	}

	msg.Infof("acquisition stopped (state=%v)", run.State())
	return nil
}

func (srv *Server) reset(msg msgStream) error {
	err := srv.stop(msg)
	if err != nil {
		msg.Errorf("could not stop acquisition: %+v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.closeDevice(msg)
	srv.run = nil
	return err
}

// closeDevice expects srv.mu to be held.
func (srv *Server) closeDevice(msg msgStream) {
	if srv.watch != nil {
		err := srv.watch.Close()
		if err != nil {
			msg.Errorf("could not close run file watcher: %+v", err)
		}
		srv.watch = nil
	}
	if srv.dev != nil {
		err := srv.dev.Close()
		if err != nil {
			msg.Errorf("could not close readout: %+v", err)
		}
		srv.dev = nil
	}
}
