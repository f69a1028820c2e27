// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"github.com/go-lpc/katherine/md"
)

// Runner is an acquisition whose pixel shape is chosen at run time.
type Runner interface {
	Begin(cfg *config.Config, ro device.Readout, mode md.Mode, fastVCO, decode bool) error
	Read() error
	Abort() error

	State() State
	Aborted() bool
	Format() md.Format
	RequestedFrames() int
	CompletedFrames() int
	DroppedRecords() uint64
	StartTime() time.Time
}

var (
	_ Runner = (*Acquisition[md.FToAToT])(nil)
	_ Runner = (*Acquisition[md.ToAToT])(nil)
	_ Runner = (*Acquisition[md.FToAOnly])(nil)
	_ Runner = (*Acquisition[md.ToAOnly])(nil)
	_ Runner = (*Acquisition[md.FEventITot])(nil)
	_ Runner = (*Acquisition[md.EventITot])(nil)
)

// AnyHandlers are the handlers of a Runner.
// PixelsReceived is called with a []P slice, where P is the pixel
// shape selected by the runner's format.
type AnyHandlers struct {
	FrameStarted   func(idx int)
	FrameEnded     func(idx int, completed bool, info FrameInfo)
	PixelsReceived func(ps any)
	DataReceived   func(p []byte)
}

// NewRunner creates an acquisition decoding pixels of format f.
func NewRunner(f md.Format, ctl Controller, data Receiver, h AnyHandlers, opts ...Option) (Runner, error) {
	switch f {
	case md.FormatFToAToT:
		return newRunner[md.FToAToT](ctl, data, h, opts), nil
	case md.FormatToAToT:
		return newRunner[md.ToAToT](ctl, data, h, opts), nil
	case md.FormatFToAOnly:
		return newRunner[md.FToAOnly](ctl, data, h, opts), nil
	case md.FormatToAOnly:
		return newRunner[md.ToAOnly](ctl, data, h, opts), nil
	case md.FormatFEventITot:
		return newRunner[md.FEventITot](ctl, data, h, opts), nil
	case md.FormatEventITot:
		return newRunner[md.EventITot](ctl, data, h, opts), nil
	}
	return nil, fmt.Errorf("%w: unknown pixel format %v", ErrConfig, f)
}

func newRunner[P md.Pixel](ctl Controller, data Receiver, h AnyHandlers, opts []Option) Runner {
	hs := Handlers[P]{
		FrameStarted: h.FrameStarted,
		FrameEnded:   h.FrameEnded,
		DataReceived: h.DataReceived,
	}
	if h.PixelsReceived != nil {
		hs.PixelsReceived = func(ps []P) { h.PixelsReceived(ps) }
	}
	return New[P](ctl, data, hs, opts...)
}

// Setup holds the run-time parameters of an acquisition.
type Setup struct {
	Format  md.Format
	Readout device.Readout
	Mode    md.Mode
	FastVCO bool
	Decode  bool

	Options []Option
}

// SetupOf extracts the acquisition parameters of a run file.
func SetupOf(f *config.File) (Setup, error) {
	var (
		setup Setup
		err   error
	)
	setup.Mode, err = md.ParseMode(f.Acquisition.Mode)
	if err != nil {
		return setup, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	setup.FastVCO = f.Acquisition.FastVCO
	setup.Format, err = md.Select(setup.Mode, setup.FastVCO)
	if err != nil {
		return setup, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	setup.Readout, err = device.ParseReadout(f.Acquisition.Readout)
	if err != nil {
		return setup, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	setup.Decode = f.Acquisition.Decode

	if n := f.Acquisition.MDBuffer; n > 0 {
		setup.Options = append(setup.Options, WithMDBuffer(n))
	}
	if n := f.Acquisition.PixelBuffer; n > 0 {
		setup.Options = append(setup.Options, WithPixelBuffer(n*setup.Format.Size()))
	}
	setup.Options = append(setup.Options,
		WithReportTimeout(f.Acquisition.ReportTimeout),
		WithFailTimeout(f.Acquisition.FailTimeout),
	)
	return setup, nil
}

// NewRunner creates an acquisition for these parameters.
// Extra options are applied last.
func (s Setup) NewRunner(ctl Controller, data Receiver, h AnyHandlers, opts ...Option) (Runner, error) {
	return NewRunner(s.Format, ctl, data, h, append(s.Options[:len(s.Options):len(s.Options)], opts...)...)
}

// Begin starts the acquisition r with the detector configuration cfg.
func (s Setup) Begin(r Runner, cfg *config.Config) error {
	return r.Begin(cfg, s.Readout, s.Mode, s.FastVCO, s.Decode)
}
