// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq implements the acquisition engine of a Katherine readout:
// the receive loop that decodes measurement data into pixels and frames.
package acq // import "github.com/go-lpc/katherine/acq"

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"github.com/go-lpc/katherine/md"
)

// Controller is the command channel of a readout.
type Controller interface {
	Configure(cfg *config.Config) error
	SetSeqReadoutStart(ro device.Readout) error
	SetAcqMode(mode md.Mode, fastVCO bool) error
	StartAcquisition(ro device.Readout) error
	StopAcquisition(ro device.Readout) error
}

// Receiver is the data channel of a readout.
// Recv reads at most one datagram and fails when none arrived in time.
type Receiver interface {
	Lock()
	Unlock()
	Recv(p []byte) (int, error)
}

var (
	_ Controller = (*device.Device)(nil)
	_ Receiver   = (device.Channel)(nil)
)

// Handlers are invoked synchronously from the read loop.
// Handlers should return quickly: a slow handler stalls the read loop
// and the readout will drop data.
type Handlers[P md.Pixel] struct {
	// FrameStarted is called when a new frame starts.
	FrameStarted func(idx int)

	// FrameEnded is called when a frame ends.
	// completed is false when the frame was cut short by an abort.
	FrameEnded func(idx int, completed bool, info FrameInfo)

	// PixelsReceived is called with a batch of decoded pixels.
	// The slice is only valid during the call.
	PixelsReceived func(ps []P)

	// DataReceived is called with raw datagrams when decoding is disabled.
	// The slice is only valid during the call.
	DataReceived func(p []byte)
}

func (h *Handlers[P]) setDefaults() {
	if h.FrameStarted == nil {
		h.FrameStarted = func(int) {}
	}
	if h.FrameEnded == nil {
		h.FrameEnded = func(int, bool, FrameInfo) {}
	}
	if h.PixelsReceived == nil {
		h.PixelsReceived = func([]P) {}
	}
	if h.DataReceived == nil {
		h.DataReceived = func([]byte) {}
	}
}

// Acquisition drives the acquisition of pixels of shape P.
//
// Begin and Abort use the control channel, Read owns the data channel
// for its whole duration. Abort may be called concurrently with Read.
type Acquisition[P md.Pixel] struct {
	ctl  Controller
	data Receiver
	opts options

	handlers Handlers[P]
	format   md.Format
	decode   md.Decoder[P]

	mdbuf  []byte
	pixels pixelBuffer[P]
	frames frameTracker

	readout  device.Readout
	mode     md.Mode
	fastVCO  bool
	decoding bool

	state   atomic.Int32
	aborted atomic.Bool
	dropped uint64

	start time.Time     // start of the acquisition
	frame time.Duration // requested frame duration
}

// New creates a new acquisition of pixels of shape P, commanding the
// readout through ctl and reading its measurement data from data.
func New[P md.Pixel](ctl Controller, data Receiver, h Handlers[P], opts ...Option) *Acquisition[P] {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	h.setDefaults()

	acq := &Acquisition[P]{
		ctl:      ctl,
		data:     data,
		opts:     cfg,
		handlers: h,
		format:   md.FormatOf[P](),
		decode:   md.NewDecoder[P](),
		mdbuf:    make([]byte, max(cfg.mdbuf, 0)),
	}
	acq.state.Store(int32(NotStarted))
	return acq
}

// Begin configures the readout and starts a new acquisition.
//
// The acquisition mode and clock variant must produce pixels of shape P.
// Data-driven readouts can only acquire a single frame.
func (acq *Acquisition[P]) Begin(cfg *config.Config, ro device.Readout, mode md.Mode, fastVCO, decode bool) error {
	if st := acq.State(); st == Running {
		return fmt.Errorf("%w: acquisition already running", ErrConfig)
	}

	format, err := md.Select(mode, fastVCO)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if format != acq.format {
		return fmt.Errorf(
			"%w: mode %v (fast-vco=%v) produces %v pixels, not %v",
			ErrConfig, mode, fastVCO, format, acq.format,
		)
	}

	if ro == device.ReadoutDataDriven && cfg.NoFrames > 1 {
		return fmt.Errorf(
			"%w: data-driven readout with %d frames",
			ErrConfig, cfg.NoFrames,
		)
	}

	npix := acq.opts.pxbuf / format.Size()
	if npix <= 0 {
		return fmt.Errorf(
			"%w: pixel buffer too small (%d bytes, pixel size=%d)",
			ErrConfig, acq.opts.pxbuf, format.Size(),
		)
	}
	if len(acq.mdbuf) < md.Size {
		return fmt.Errorf(
			"%w: measurement data buffer too small (%d bytes)",
			ErrConfig, len(acq.mdbuf),
		)
	}

	acq.opts.msg.Printf(
		"begin acquisition: readout=%v, mode=%v, fast-vco=%v, decode=%v, frames=%d, acq-time=%v",
		ro, mode, fastVCO, decode, cfg.NoFrames, cfg.AcqTime,
	)

	err = acq.ctl.Configure(cfg)
	if err != nil {
		return fmt.Errorf("acq: could not configure readout: %w", err)
	}

	err = acq.ctl.SetSeqReadoutStart(ro)
	if err != nil {
		return fmt.Errorf("acq: could not set sequential readout start: %w", err)
	}

	err = acq.ctl.SetAcqMode(mode, fastVCO)
	if err != nil {
		return fmt.Errorf("acq: could not set acquisition mode: %w", err)
	}

	acq.readout = ro
	acq.mode = mode
	acq.fastVCO = fastVCO
	acq.decoding = decode

	acq.frames.reset(cfg.NoFrames)
	acq.frame = cfg.AcqTime
	acq.dropped = 0
	acq.aborted.Store(false)
	if acq.pixels.cap() != npix {
		acq.pixels = newPixelBuffer(npix, acq.emit)
	}
	acq.pixels.valid = 0

	acq.setState(Running)
	acq.start = acq.opts.now()

	err = acq.ctl.StartAcquisition(ro)
	if err != nil {
		acq.setState(NotStarted)
		return fmt.Errorf("acq: could not start acquisition: %w", err)
	}

	return nil
}

// Read runs the read loop until the acquisition reaches a terminal state.
//
// Read returns nil when the acquisition succeeded, ErrTimedOut when the
// fail timeout expired, ErrAborted when it was aborted and ErrRetry when
// the acquisition was not running.
func (acq *Acquisition[P]) Read() error {
	acq.data.Lock()
	defer acq.data.Unlock()

	var (
		last     = acq.opts.now()
		deadline time.Time
	)
	if acq.opts.fail > 0 {
		deadline = acq.start.Add(
			time.Duration(acq.frames.requested)*acq.frame + acq.opts.fail,
		)
	}

	for acq.State() == Running {
		n, err := acq.data.Recv(acq.mdbuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("acq: could not receive measurement data: %w", err)
			}
			acq.idle(last, deadline)
			continue
		}

		last = acq.opts.now()
		if !acq.decoding {
			acq.handlers.DataReceived(acq.mdbuf[:n])
			continue
		}
		acq.process(acq.mdbuf[:n])
	}

	return errOf(acq.State())
}

// idle is called when no data arrived during a receive attempt.
func (acq *Acquisition[P]) idle(last, deadline time.Time) {
	now := acq.opts.now()
	if acq.opts.report > 0 && now.Sub(last) > acq.opts.report && acq.pixels.len() > 0 {
		acq.flush()
	}

	switch {
	case acq.aborted.Load():
		if !acq.decoding {
			acq.setState(Succeeded)
			return
		}
		acq.flush()
		if acq.frames.started {
			info := acq.frames.cur
			info.EndObserved = now
			acq.frames.started = false
			acq.handlers.FrameEnded(acq.frames.completed, false, info)
		}
		acq.setState(Aborted)

	case !deadline.IsZero() && now.After(deadline):
		acq.setState(TimedOut)
	}
}

func (acq *Acquisition[P]) process(p []byte) {
	for len(p) >= md.Size {
		if acq.State() != Running {
			return
		}
		acq.handle(md.NewRecord(p))
		p = p[md.Size:]
	}
	if len(p) > 0 {
		acq.dropped++
	}
}

func (acq *Acquisition[P]) handle(rec md.Record) {
	switch rec.Header() {
	case md.HeaderPixel:
		acq.pixels.push(acq.decode(rec, acq.frames.offset))

	case md.HeaderTrigger, md.HeaderTriggerB:
		// discarded.

	case md.HeaderTimeOffset:
		acq.frames.onTimeOffset(rec)

	case md.HeaderNewFrame:
		acq.frames.onNewFrame(acq.opts.now())
		acq.handlers.FrameStarted(acq.frames.completed)

	case md.HeaderFrameStartLSB, md.HeaderFrameStartMSB,
		md.HeaderFrameEndLSB, md.HeaderFrameEndMSB:
		acq.frames.onTime(rec)

	case md.HeaderFrameFinished:
		now := acq.opts.now()
		acq.flush()
		info, idx, done := acq.frames.onFrameFinished(now, rec.SentPixels())
		acq.handlers.FrameEnded(idx, true, info)
		if done {
			acq.setState(Succeeded)
		}

	case md.HeaderLostPixels:
		acq.frames.onLostPixels(rec.LostPixels())

	case md.HeaderAborted:
		acq.aborted.Store(true)

	default:
		acq.dropped++
	}
}

func (acq *Acquisition[P]) flush() {
	acq.pixels.drain()
}

func (acq *Acquisition[P]) emit(ps []P) {
	acq.handlers.PixelsReceived(ps)
	acq.frames.onReceived(len(ps))
}

// Abort asks the readout to stop the acquisition.
// Abort does not wait for the current frame to finish: the read loop
// terminates once it observes the end of the data stream.
func (acq *Acquisition[P]) Abort() error {
	err := acq.ctl.StopAcquisition(acq.readout)
	if err != nil {
		return fmt.Errorf("acq: could not stop acquisition: %w", err)
	}
	acq.aborted.Store(true)
	acq.opts.msg.Printf("acquisition aborted")
	return nil
}

func (acq *Acquisition[P]) setState(st State) {
	acq.state.Store(int32(st))
}

// State returns the current state of the acquisition.
func (acq *Acquisition[P]) State() State {
	return State(acq.state.Load())
}

// Aborted reports whether the acquisition was asked to stop.
func (acq *Acquisition[P]) Aborted() bool { return acq.aborted.Load() }

// Format returns the pixel format of the acquisition.
func (acq *Acquisition[P]) Format() md.Format { return acq.format }

// RequestedFrames returns the number of frames requested at Begin.
func (acq *Acquisition[P]) RequestedFrames() int { return acq.frames.requested }

// CompletedFrames returns the number of frames received so far.
func (acq *Acquisition[P]) CompletedFrames() int { return acq.frames.completed }

// DroppedRecords returns the number of unknown or truncated records.
func (acq *Acquisition[P]) DroppedRecords() uint64 { return acq.dropped }

// StartTime returns the time at which the acquisition was started.
func (acq *Acquisition[P]) StartTime() time.Time { return acq.start }
