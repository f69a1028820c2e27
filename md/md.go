// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package md holds functions to decode measurement data (MD) records
// sent by a Katherine readout during an acquisition.
//
// An MD record is a 48-bit little-endian word transmitted as 6 bytes.
// Its top 4 bits (44-47) hold the record header, the remaining 44 bits
// hold a header-dependent payload.
package md // import "github.com/go-lpc/katherine/md"

import (
	"fmt"
)

// Size is the size in bytes of an MD record on the wire.
const Size = 6

// Header is the 4-bit discriminant of an MD record.
type Header uint8

const (
	HeaderTrigger       Header = 0x2 // trigger info
	HeaderTriggerB      Header = 0x3 // trigger info (0x3 variant)
	HeaderPixel         Header = 0x4 // pixel data
	HeaderTimeOffset    Header = 0x5 // time offset (data-driven mode)
	HeaderNewFrame      Header = 0x7 // new frame marker
	HeaderFrameStartLSB Header = 0x8 // frame start timestamp, low 32 bits
	HeaderFrameStartMSB Header = 0x9 // frame start timestamp, high 16 bits
	HeaderFrameEndLSB   Header = 0xA // frame end timestamp, low 32 bits
	HeaderFrameEndMSB   Header = 0xB // frame end timestamp, high 16 bits
	HeaderFrameFinished Header = 0xC // current frame finished
	HeaderLostPixels    Header = 0xD // lost pixel count
	HeaderAborted       Header = 0xE // aborted measurement
)

const (
	headerShift = 44
	headerMask  = 0xF
	payloadMask = 1<<headerShift - 1

	toaOffsetUnit = 16384

	newFrameOffsetShift = 32
	newFrameOffsetBits  = 12
	timeLSBBits         = 32
	timeMSBBits         = 16
	timeOffsetBits      = 32
	counterBits         = 44
)

var headerNames = [16]string{
	HeaderTrigger:       "trigger",
	HeaderTriggerB:      "trigger",
	HeaderPixel:         "pixel",
	HeaderTimeOffset:    "time-offset",
	HeaderNewFrame:      "new-frame",
	HeaderFrameStartLSB: "frame-start-lsb",
	HeaderFrameStartMSB: "frame-start-msb",
	HeaderFrameEndLSB:   "frame-end-lsb",
	HeaderFrameEndMSB:   "frame-end-msb",
	HeaderFrameFinished: "frame-finished",
	HeaderLostPixels:    "lost-pixels",
	HeaderAborted:       "aborted",
}

// Known reports whether h is one of the record kinds understood by
// this package.
func (h Header) Known() bool {
	return int(h) < len(headerNames) && headerNames[h] != ""
}

func (h Header) String() string {
	if !h.Known() {
		return fmt.Sprintf("unknown(0x%x)", uint8(h))
	}
	return headerNames[h]
}

// Record is a single MD record, zero-extended to 64 bits.
type Record uint64

// NewRecord decodes the first Size bytes of p as a little-endian record.
// NewRecord panics if len(p) < Size.
func NewRecord(p []byte) Record {
	_ = p[Size-1]
	return Record(uint64(p[0]) |
		uint64(p[1])<<8 |
		uint64(p[2])<<16 |
		uint64(p[3])<<24 |
		uint64(p[4])<<32 |
		uint64(p[5])<<40)
}

// Make builds a record from a header and a 44-bit payload.
func Make(h Header, payload uint64) Record {
	return Record(uint64(h&headerMask)<<headerShift | payload&payloadMask)
}

// Put writes the record into the first Size bytes of p.
func (r Record) Put(p []byte) {
	_ = p[Size-1]
	p[0] = byte(r)
	p[1] = byte(r >> 8)
	p[2] = byte(r >> 16)
	p[3] = byte(r >> 24)
	p[4] = byte(r >> 32)
	p[5] = byte(r >> 40)
}

// Header returns the record header.
func (r Record) Header() Header {
	return Header(r.bits(headerShift, 4))
}

// Payload returns the 44 bits below the header.
func (r Record) Payload() uint64 {
	return uint64(r) & payloadMask
}

func (r Record) bits(shift, n uint) uint64 {
	return (uint64(r) >> shift) & (1<<n - 1)
}

// TimeOffset returns the raw offset carried by a time-offset record.
func (r Record) TimeOffset() uint32 {
	return uint32(r.bits(0, timeOffsetBits))
}

// ToAOffset returns the coarse time-of-arrival offset carried by a
// time-offset record.
func (r Record) ToAOffset() uint64 {
	return toaOffsetUnit * uint64(r.TimeOffset())
}

// NewFrameOffset returns the 12-bit offset of a new-frame record.
func (r Record) NewFrameOffset() uint16 {
	return uint16(r.bits(newFrameOffsetShift, newFrameOffsetBits))
}

// SentPixels returns the number of pixels sent in a frame-finished record.
func (r Record) SentPixels() uint64 {
	return r.bits(0, counterBits)
}

// LostPixels returns the number of pixels lost in a lost-pixels record.
func (r Record) LostPixels() uint64 {
	return r.bits(0, counterBits)
}

// TimeLSB returns the low half of a frame timestamp.
func (r Record) TimeLSB() uint32 {
	return uint32(r.bits(0, timeLSBBits))
}

// TimeMSB returns the high half of a frame timestamp.
func (r Record) TimeMSB() uint16 {
	return uint16(r.bits(0, timeMSBBits))
}

func (r Record) String() string {
	return fmt.Sprintf("md{hdr=%v, payload=0x%011x}", r.Header(), r.Payload())
}
