// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedev simulates a Katherine readout over UDP.
//
// The simulated readout acknowledges every command, answers status
// queries with canned values and, once an acquisition is started,
// streams measurement data for the configured number of frames.
package fakedev // import "github.com/go-lpc/katherine/internal/fakedev"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/go-lpc/katherine/md"
	"github.com/go-lpc/katherine/pxcfg"
)

const (
	cmdSize = 8

	cmdAcqTimeLSB      = 0x01
	cmdAcqStart        = 0x03
	cmdSeqReadoutStart = 0x05
	cmdAcqStop         = 0x06
	cmdAcqMode         = 0x09
	cmdAcqTimeMSB      = 0x0A
	cmdEchoChipID      = 0x0B
	cmdGetADC          = 0x0D
	cmdSetAllPixelCfg  = 0x12
	cmdNumberOfFrames  = 0x13
	cmdReadoutTemp     = 0x15
	cmdReadoutStatus   = 0x17
	cmdCommStatus      = 0x18
	cmdSensorTemp      = 0x19
	cmdDigitalTest     = 0x20

	// datagram is the size of measurement data datagrams.
	datagram = md.Size * 243
)

// Readout is a simulated Katherine readout.
type Readout struct {
	conn *net.UDPConn
	msg  *log.Logger

	dport  int
	chipID uint32
	pixels int
	lost   uint64
	delay  time.Duration
	seed   uint64

	mu      sync.Mutex
	frames  int
	acqTime uint64 // in units of 10ns
	mode    md.Mode
	fastVCO bool
	pending int // pixel configuration bytes still expected
	acq     *stream
}

// Option configures a simulated readout.
type Option func(*Readout)

// WithDataPort sets the port of the host receiving measurement data.
func WithDataPort(port int) Option {
	return func(dev *Readout) {
		dev.dport = port
	}
}

// WithChipID sets the raw chip identifier reported by the readout.
func WithChipID(id uint32) Option {
	return func(dev *Readout) {
		dev.chipID = id
	}
}

// WithPixels sets the number of pixels sent per frame.
func WithPixels(n int) Option {
	return func(dev *Readout) {
		dev.pixels = n
	}
}

// WithLostPixels sets the number of pixels reported lost per frame.
func WithLostPixels(n uint64) Option {
	return func(dev *Readout) {
		dev.lost = n
	}
}

// WithFrameDelay sets the time spent acquiring each frame.
// By default, the configured acquisition time is used.
func WithFrameDelay(d time.Duration) Option {
	return func(dev *Readout) {
		dev.delay = d
	}
}

// WithSeed sets the seed of the pixel generator.
func WithSeed(seed uint64) Option {
	return func(dev *Readout) {
		dev.seed = seed
	}
}

// WithLogger sets the logger of the simulated readout.
func WithLogger(msg *log.Logger) Option {
	return func(dev *Readout) {
		dev.msg = msg
	}
}

// New creates a simulated readout listening for commands on addr.
func New(addr string, opts ...Option) (*Readout, error) {
	uaddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("fakedev: could not resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp4", uaddr)
	if err != nil {
		return nil, fmt.Errorf("fakedev: could not listen on %q: %w", addr, err)
	}

	dev := &Readout{
		conn:   conn,
		msg:    log.New(io.Discard, "fakedev: ", 0),
		dport:  1556,
		chipID: 0x0662, // B6-W0006
		pixels: 100,
		seed:   1234,
		frames: 1,
	}
	for _, opt := range opts {
		opt(dev)
	}
	return dev, nil
}

// Addr returns the address the readout listens on.
func (dev *Readout) Addr() *net.UDPAddr {
	return dev.conn.LocalAddr().(*net.UDPAddr)
}

// Frames returns the configured number of frames.
func (dev *Readout) Frames() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.frames
}

// AcqTime returns the configured acquisition time.
func (dev *Readout) AcqTime() time.Duration {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return time.Duration(dev.acqTime) * 10 * time.Nanosecond
}

// Mode returns the configured acquisition mode.
func (dev *Readout) Mode() (md.Mode, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.mode, dev.fastVCO
}

// Serve handles commands until ctx is done or the readout is closed.
func (dev *Readout) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = dev.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := dev.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				dev.halt()
				return nil
			}
			return fmt.Errorf("fakedev: could not receive command: %w", err)
		}

		err = dev.handle(buf[:n], from)
		if err != nil {
			dev.msg.Printf("could not handle command: %+v", err)
		}
	}
}

// Close stops the readout.
func (dev *Readout) Close() error {
	dev.halt()
	return dev.conn.Close()
}

func (dev *Readout) handle(p []byte, from *net.UDPAddr) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.pending > 0 {
		dev.pending -= len(p)
		if dev.pending > 0 {
			return nil
		}
		dev.pending = 0
		return dev.reply(from, [cmdSize]byte{})
	}

	if len(p) != cmdSize {
		dev.msg.Printf("dropping datagram of %d bytes", len(p))
		return nil
	}

	var (
		crd [cmdSize]byte
		arg = uint64(p[0]) | uint64(p[1])<<8 | uint64(p[2])<<16 |
			uint64(p[3])<<24 | uint64(p[4])<<32 | uint64(p[5])<<40
	)
	switch p[6] {
	case cmdSetAllPixelCfg:
		dev.pending = pxcfg.NumPixels
		return nil
	case cmdAcqTimeLSB:
		dev.acqTime = dev.acqTime&^0xFFFFFFFF | arg&0xFFFFFFFF
	case cmdAcqTimeMSB:
		dev.acqTime = dev.acqTime&0xFFFFFFFF | arg<<32
	case cmdNumberOfFrames:
		dev.frames = int(arg)
	case cmdAcqMode:
		dev.mode = md.Mode(p[0] & 0x7F)
		dev.fastVCO = p[0]&0x80 != 0
	case cmdEchoChipID:
		binary.LittleEndian.PutUint32(crd[:4], dev.chipID)
	case cmdReadoutTemp:
		binary.LittleEndian.PutUint32(crd[:4], math.Float32bits(42.5))
	case cmdSensorTemp:
		binary.LittleEndian.PutUint32(crd[:4], math.Float32bits(37.25))
	case cmdGetADC:
		binary.LittleEndian.PutUint32(crd[:4], math.Float32bits(1.5+float32(p[0])))
	case cmdReadoutStatus:
		binary.LittleEndian.PutUint64(crd[:], 0x0102_0003_0002_0001)
	case cmdCommStatus:
		crd[0] = 0xFF
		crd[1] = 128
		crd[2] = 1
	case cmdDigitalTest:
		crd[0] = 64
	case cmdSeqReadoutStart:
		return nil
	case cmdAcqStart:
		dev.start(from)
		return nil
	case cmdAcqStop:
		if dev.acq != nil {
			dev.acq.abort()
		}
		return nil
	}
	return dev.reply(from, crd)
}

func (dev *Readout) reply(to *net.UDPAddr, crd [cmdSize]byte) error {
	_, err := dev.conn.WriteToUDP(crd[:], to)
	if err != nil {
		return fmt.Errorf("fakedev: could not send acknowledgement: %w", err)
	}
	return nil
}

// start starts streaming measurement data. It expects dev.mu to be held.
func (dev *Readout) start(from *net.UDPAddr) {
	if dev.acq != nil {
		dev.acq.abort()
		<-dev.acq.done
	}

	delay := dev.delay
	if delay == 0 {
		delay = time.Duration(dev.acqTime) * 10 * time.Nanosecond
	}

	dev.acq = &stream{
		conn:   dev.conn,
		dst:    &net.UDPAddr{IP: from.IP, Port: dev.dport},
		msg:    dev.msg,
		rnd:    rand.New(rand.NewPCG(dev.seed, dev.seed)),
		frames: dev.frames,
		pixels: dev.pixels,
		lost:   dev.lost,
		delay:  delay,
		ticks:  dev.acqTime,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go dev.acq.run()
}

func (dev *Readout) halt() {
	dev.mu.Lock()
	acq := dev.acq
	dev.mu.Unlock()
	if acq == nil {
		return
	}
	acq.abort()
	<-acq.done
}

// stream sends the measurement data of one acquisition.
type stream struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	msg  *log.Logger
	rnd  *rand.Rand

	frames int
	pixels int
	lost   uint64
	delay  time.Duration
	ticks  uint64

	once sync.Once
	stop chan struct{}
	done chan struct{}

	buf []byte
}

func (s *stream) abort() {
	s.once.Do(func() { close(s.stop) })
}

func (s *stream) run() {
	defer close(s.done)

	for i := 0; i < s.frames; i++ {
		start := uint64(i) * s.ticks
		s.add(
			md.Make(md.HeaderNewFrame, 0),
			md.Make(md.HeaderFrameStartLSB, start&0xFFFFFFFF),
			md.Make(md.HeaderFrameStartMSB, start>>32),
			md.Make(md.HeaderTimeOffset, uint64(i)),
		)
		s.flush()

		timer := time.NewTimer(s.delay)
		select {
		case <-s.stop:
			timer.Stop()
			s.add(md.Make(md.HeaderAborted, 0))
			s.flush()
			return
		case <-timer.C:
		}

		for j := 0; j < s.pixels; j++ {
			s.add(s.pixel())
		}

		end := start + s.ticks
		s.add(
			md.Make(md.HeaderFrameEndLSB, end&0xFFFFFFFF),
			md.Make(md.HeaderFrameEndMSB, end>>32),
			md.Make(md.HeaderLostPixels, s.lost),
			md.Make(md.HeaderFrameFinished, uint64(s.pixels)),
		)
		s.flush()
	}
}

// pixel generates a pixel record. The payload is valid for every
// pixel format.
func (s *stream) pixel() md.Record {
	var (
		x = uint64(s.rnd.IntN(256))
		y = uint64(s.rnd.IntN(256))
		v = uint64(s.rnd.Uint32() & (1<<28 - 1))
	)
	return md.Make(md.HeaderPixel, y<<36|x<<28|v)
}

func (s *stream) add(recs ...md.Record) {
	for _, rec := range recs {
		s.buf = md.Append(s.buf, rec)
		if len(s.buf) >= datagram {
			s.flush()
		}
	}
}

func (s *stream) flush() {
	if len(s.buf) == 0 {
		return
	}
	_, err := s.conn.WriteToUDP(s.buf, s.dst)
	if err != nil {
		s.msg.Printf("could not send measurement data to %v: %+v", s.dst, err)
	}
	s.buf = s.buf[:0]
}
