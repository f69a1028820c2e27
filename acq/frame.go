// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"time"

	"github.com/go-lpc/katherine/md"
)

// FrameInfo describes a frame of an acquisition.
type FrameInfo struct {
	ReceivedPixels uint64 // pixels handed to the pixels handler
	SentPixels     uint64 // pixels the readout claims to have sent
	LostPixels     uint64 // pixels lost between the detector and the readout

	StartTime Timestamp // detector time at frame start
	EndTime   Timestamp // detector time at frame end

	StartObserved time.Time // host time at frame start
	EndObserved   time.Time // host time at frame end
}

// Timestamp is a 64-bit detector timestamp, assembled from two halves
// that may arrive in any order.
type Timestamp uint64

func (ts *Timestamp) setLSB(v uint32) {
	*ts = (*ts &^ 0xFFFFFFFF) | Timestamp(v)
}

func (ts *Timestamp) setMSB(v uint32) {
	*ts = (*ts & 0xFFFFFFFF) | Timestamp(v)<<32
}

// LSB returns the low 32 bits of the timestamp.
func (ts Timestamp) LSB() uint32 { return uint32(ts) }

// MSB returns the high 32 bits of the timestamp.
func (ts Timestamp) MSB() uint32 { return uint32(ts >> 32) }

// frameTracker follows the frame currently being received.
type frameTracker struct {
	cur       FrameInfo
	started   bool   // whether a frame is in progress
	completed int    // number of completed frames
	requested int    // number of requested frames
	offset    uint64 // ToA offset in effect
}

func (ft *frameTracker) reset(requested int) {
	*ft = frameTracker{requested: requested}
}

// onNewFrame starts a new frame. Pixels received since the end of the
// previous frame are accounted to the new one.
func (ft *frameTracker) onNewFrame(now time.Time) {
	var carry uint64
	if !ft.started {
		carry = ft.cur.ReceivedPixels
	}
	ft.cur = FrameInfo{StartObserved: now, ReceivedPixels: carry}
	ft.started = true
}

func (ft *frameTracker) onTimeOffset(rec md.Record) {
	ft.offset = rec.ToAOffset()
}

func (ft *frameTracker) onTime(rec md.Record) {
	switch rec.Header() {
	case md.HeaderFrameStartLSB:
		ft.cur.StartTime.setLSB(rec.TimeLSB())
	case md.HeaderFrameStartMSB:
		ft.cur.StartTime.setMSB(uint32(rec.TimeMSB()))
	case md.HeaderFrameEndLSB:
		ft.cur.EndTime.setLSB(rec.TimeLSB())
	case md.HeaderFrameEndMSB:
		ft.cur.EndTime.setMSB(uint32(rec.TimeMSB()))
	}
}

func (ft *frameTracker) onLostPixels(n uint64) {
	ft.cur.LostPixels += n
}

func (ft *frameTracker) onReceived(n int) {
	ft.cur.ReceivedPixels += uint64(n)
}

// onFrameFinished closes the current frame.
// The pixel buffer must have been flushed beforehand.
func (ft *frameTracker) onFrameFinished(now time.Time, sent uint64) (info FrameInfo, idx int, done bool) {
	ft.cur.EndObserved = now
	ft.cur.SentPixels = sent
	ft.started = false

	info = ft.cur
	ft.cur = FrameInfo{}
	idx = ft.completed
	ft.completed++
	return info, idx, ft.completed == ft.requested
}
