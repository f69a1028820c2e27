// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"github.com/go-lpc/katherine/md"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeCtl records the commands sent to the readout.
type fakeCtl struct {
	cmds []string
	err  map[string]error
}

func (ctl *fakeCtl) do(name string) error {
	ctl.cmds = append(ctl.cmds, name)
	return ctl.err[name]
}

func (ctl *fakeCtl) Configure(cfg *config.Config) error {
	return ctl.do(fmt.Sprintf("configure(frames=%d)", cfg.NoFrames))
}

func (ctl *fakeCtl) SetSeqReadoutStart(ro device.Readout) error {
	return ctl.do(fmt.Sprintf("seq-readout-start(%v)", ro))
}

func (ctl *fakeCtl) SetAcqMode(mode md.Mode, fastVCO bool) error {
	return ctl.do(fmt.Sprintf("acq-mode(%v, %v)", mode, fastVCO))
}

func (ctl *fakeCtl) StartAcquisition(ro device.Readout) error {
	return ctl.do(fmt.Sprintf("start(%v)", ro))
}

func (ctl *fakeCtl) StopAcquisition(ro device.Readout) error {
	return ctl.do(fmt.Sprintf("stop(%v)", ro))
}

// fakeData delivers queued datagrams, then times out.
// Every timeout advances the clock by one receive timeout.
type fakeData struct {
	sync.Mutex

	clock  *fakeClock
	chunks [][]byte
	empty  int
	hook   func(empty int)
	err    error
}

func (d *fakeData) push(recs ...md.Record) {
	d.chunks = append(d.chunks, md.Append(nil, recs...))
}

func (d *fakeData) Recv(p []byte) (int, error) {
	if len(d.chunks) > 0 {
		n := copy(p, d.chunks[0])
		d.chunks = d.chunks[1:]
		return n, nil
	}
	d.clock.advance(100 * time.Millisecond)
	d.empty++
	if d.hook != nil {
		d.hook(d.empty)
	}
	if d.err != nil {
		return 0, d.err
	}
	return 0, os.ErrDeadlineExceeded
}

// recorder collects the events of an acquisition.
type recorder[P md.Pixel] struct {
	started []int
	ended   []ended
	flushes []int
	pixels  []P
	raw     [][]byte
}

type ended struct {
	idx       int
	completed bool
	info      FrameInfo
}

func (rec *recorder[P]) handlers() Handlers[P] {
	return Handlers[P]{
		FrameStarted: func(idx int) { rec.started = append(rec.started, idx) },
		FrameEnded: func(idx int, completed bool, info FrameInfo) {
			rec.ended = append(rec.ended, ended{idx, completed, info})
		},
		PixelsReceived: func(ps []P) {
			rec.flushes = append(rec.flushes, len(ps))
			rec.pixels = append(rec.pixels, ps...)
		},
		DataReceived: func(p []byte) {
			rec.raw = append(rec.raw, append([]byte(nil), p...))
		},
	}
}

func newTestAcq(opts ...Option) (*Acquisition[md.ToAToT], *fakeCtl, *fakeData, *recorder[md.ToAToT], *fakeClock) {
	var (
		clock = newFakeClock()
		ctl   = &fakeCtl{}
		data  = &fakeData{clock: clock}
		rec   = &recorder[md.ToAToT]{}
	)
	opts = append([]Option{
		WithFailTimeout(time.Second),
		withClock(clock.now),
	}, opts...)
	acq := New[md.ToAToT](ctl, data, rec.handlers(), opts...)
	return acq, ctl, data, rec, clock
}

func testConfig(frames int) *config.Config {
	cfg := config.Default()
	cfg.NoFrames = frames
	cfg.AcqTime = time.Second
	return &cfg
}

func pixel(x, y uint8, toa uint64) md.ToAToT {
	return md.ToAToT{Coord: md.Coord{X: x, Y: y}, ToA: toa, HitCount: 1, ToT: 42}
}

func pixelRecs(n int) []md.Record {
	recs := make([]md.Record, n)
	for i := range recs {
		recs[i] = pixel(uint8(i), uint8(2*i), uint64(i)).Record(0)
	}
	return recs
}
