// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package md

// Bit layout of pixel records (header 0x4).
// All six pixel shapes share the same 4/10/14-bit slots and differ
// only in how these slots are interpreted.
const (
	lowShift  = 0  // ftoa or hit_count
	midShift  = 4  // tot or event_count
	highShift = 14 // toa or integral_tot
	coordX    = 28
	coordY    = 36

	lowBits    = 4
	midBits    = 10
	highBits   = 14
	coordXBits = 8
	coordYBits = 8
)

// Coord is the position of a pixel in the 256x256 matrix.
type Coord struct {
	X uint8
	Y uint8
}

// FToAToT is a ToA&ToT pixel hit, with fast VCO enabled.
type FToAToT struct {
	Coord
	FToA uint8
	ToA  uint64
	ToT  uint16
}

// ToAToT is a ToA&ToT pixel hit, with fast VCO disabled.
type ToAToT struct {
	Coord
	ToA      uint64
	HitCount uint8
	ToT      uint16
}

// FToAOnly is a ToA-only pixel hit, with fast VCO enabled.
type FToAOnly struct {
	Coord
	ToA  uint64
	FToA uint8
}

// ToAOnly is a ToA-only pixel hit, with fast VCO disabled.
type ToAOnly struct {
	Coord
	ToA      uint64
	HitCount uint8
}

// FEventITot is an Event&iToT pixel hit, with fast VCO enabled.
type FEventITot struct {
	Coord
	HitCount    uint8
	EventCount  uint16
	IntegralToT uint16
}

// EventITot is an Event&iToT pixel hit, with fast VCO disabled.
type EventITot struct {
	Coord
	EventCount  uint16
	IntegralToT uint16
}

// Pixel is the set of pixel shapes a pixel record can be decoded into.
type Pixel interface {
	FToAToT | ToAToT | FToAOnly | ToAOnly | FEventITot | EventITot
}

// Decoder decodes a pixel record into a pixel of shape P.
// offset is the time-of-arrival offset in effect when the record is
// decoded. It is ignored by shapes without a ToA.
type Decoder[P Pixel] func(r Record, offset uint64) P

// NewDecoder returns the decoder for the pixel shape P.
func NewDecoder[P Pixel]() Decoder[P] {
	var (
		p P
		f any
	)
	switch any(p).(type) {
	case FToAToT:
		f = Decoder[FToAToT](decodeFToAToT)
	case ToAToT:
		f = Decoder[ToAToT](decodeToAToT)
	case FToAOnly:
		f = Decoder[FToAOnly](decodeFToAOnly)
	case ToAOnly:
		f = Decoder[ToAOnly](decodeToAOnly)
	case FEventITot:
		f = Decoder[FEventITot](decodeFEventITot)
	case EventITot:
		f = Decoder[EventITot](decodeEventITot)
	}
	return f.(Decoder[P])
}

func (r Record) coord() Coord {
	return Coord{
		X: uint8(r.bits(coordX, coordXBits)),
		Y: uint8(r.bits(coordY, coordYBits)),
	}
}

func (r Record) low() uint8   { return uint8(r.bits(lowShift, lowBits)) }
func (r Record) mid() uint16  { return uint16(r.bits(midShift, midBits)) }
func (r Record) high() uint16 { return uint16(r.bits(highShift, highBits)) }

func (r Record) toa(offset uint64) uint64 {
	return uint64(r.high()) + offset
}

func decodeFToAToT(r Record, offset uint64) FToAToT {
	return FToAToT{Coord: r.coord(), FToA: r.low(), ToA: r.toa(offset), ToT: r.mid()}
}

func decodeToAToT(r Record, offset uint64) ToAToT {
	return ToAToT{Coord: r.coord(), ToA: r.toa(offset), HitCount: r.low(), ToT: r.mid()}
}

func decodeFToAOnly(r Record, offset uint64) FToAOnly {
	return FToAOnly{Coord: r.coord(), ToA: r.toa(offset), FToA: r.low()}
}

func decodeToAOnly(r Record, offset uint64) ToAOnly {
	return ToAOnly{Coord: r.coord(), ToA: r.toa(offset), HitCount: r.low()}
}

func decodeFEventITot(r Record, _ uint64) FEventITot {
	return FEventITot{Coord: r.coord(), HitCount: r.low(), EventCount: r.mid(), IntegralToT: r.high()}
}

func decodeEventITot(r Record, _ uint64) EventITot {
	return EventITot{Coord: r.coord(), EventCount: r.mid(), IntegralToT: r.high()}
}

// pixelRecord packs the pixel slots into a record with header 0x4.
// Values wider than their slot are truncated.
func pixelRecord(c Coord, low uint8, mid, high uint16) Record {
	v := uint64(c.Y)<<coordY |
		uint64(c.X)<<coordX |
		(uint64(high)&(1<<highBits-1))<<highShift |
		(uint64(mid)&(1<<midBits-1))<<midShift |
		(uint64(low)&(1<<lowBits-1))<<lowShift
	return Make(HeaderPixel, v)
}

// Record encodes the pixel, given the ToA offset in effect.
func (p FToAToT) Record(offset uint64) Record {
	return pixelRecord(p.Coord, p.FToA, p.ToT, uint16(p.ToA-offset))
}

// Record encodes the pixel, given the ToA offset in effect.
func (p ToAToT) Record(offset uint64) Record {
	return pixelRecord(p.Coord, p.HitCount, p.ToT, uint16(p.ToA-offset))
}

// Record encodes the pixel, given the ToA offset in effect.
func (p FToAOnly) Record(offset uint64) Record {
	return pixelRecord(p.Coord, p.FToA, 0, uint16(p.ToA-offset))
}

// Record encodes the pixel, given the ToA offset in effect.
func (p ToAOnly) Record(offset uint64) Record {
	return pixelRecord(p.Coord, p.HitCount, 0, uint16(p.ToA-offset))
}

// Record encodes the pixel. The offset is ignored.
func (p FEventITot) Record(uint64) Record {
	return pixelRecord(p.Coord, p.HitCount, p.EventCount, p.IntegralToT)
}

// Record encodes the pixel. The offset is ignored.
func (p EventITot) Record(uint64) Record {
	return pixelRecord(p.Coord, 0, p.EventCount, p.IntegralToT)
}
