// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"io"
	"log"
	"time"

	"github.com/go-lpc/katherine/md"
)

const (
	// DefaultMDBufferSize holds the largest number of whole MD records
	// fitting in a single UDP datagram.
	DefaultMDBufferSize = md.Size * (65507 / md.Size)

	// DefaultPixelBufferSize holds 65536 pixels of the largest shape.
	DefaultPixelBufferSize = 24 * 65536
)

type options struct {
	mdbuf  int           // size of the measurement data buffer, in bytes
	pxbuf  int           // size of the pixel buffer, in bytes
	report time.Duration // idle time before partial pixel buffers are flushed
	fail   time.Duration // grace period after the expected end of the acquisition

	msg *log.Logger
	now func() time.Time
}

func newOptions() options {
	return options{
		mdbuf: DefaultMDBufferSize,
		pxbuf: DefaultPixelBufferSize,
		msg:   log.New(io.Discard, "acq: ", 0),
		now:   time.Now,
	}
}

// Option configures an acquisition.
type Option func(*options)

// WithMDBuffer sets the size in bytes of the buffer receiving
// measurement data datagrams.
func WithMDBuffer(n int) Option {
	return func(o *options) {
		o.mdbuf = n
	}
}

// WithPixelBuffer sets the size in bytes of the pixel buffer.
// The buffer holds n / sizeof(pixel) pixels.
func WithPixelBuffer(n int) Option {
	return func(o *options) {
		o.pxbuf = n
	}
}

// WithReportTimeout sets the idle time after which a partially filled
// pixel buffer is flushed. Zero disables it.
func WithReportTimeout(d time.Duration) Option {
	return func(o *options) {
		o.report = d
	}
}

// WithFailTimeout sets the time allowed past the expected end of the
// acquisition before it is declared timed out. Zero disables it.
func WithFailTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fail = d
	}
}

// WithLogger sets the logger used to report acquisition events.
func WithLogger(msg *log.Logger) Option {
	return func(o *options) {
		o.msg = msg
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
