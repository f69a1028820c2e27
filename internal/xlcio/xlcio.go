// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xlcio converts Timepix3 frames to and from LCIO.
package xlcio // import "github.com/go-lpc/katherine/internal/xlcio"

import (
	"fmt"

	"github.com/go-lpc/katherine/md"
	"go-hep.org/x/hep/lcio"
)

const (
	Detector = "Timepix3"

	hitsName  = "KATHERINE_HITS"
	frameName = "KATHERINE_FRAME"
)

// Hit is a pixel hit, whatever the acquisition mode.
// Fields not measured by the acquisition mode are zero.
type Hit struct {
	X, Y        uint8
	ToA         uint64
	FToA        uint8
	ToT         uint16
	HitCount    uint8
	EventCount  uint16
	IntegralToT uint16
}

// Frame is an acquired frame.
type Frame struct {
	Index     int
	StartTime uint64 // detector time at frame start
	EndTime   uint64 // detector time at frame end
	Sent      uint64 // pixels sent by the readout
	Lost      uint64 // pixels lost by the readout
	Hits      []Hit
}

// AppendHits appends the hits of ps to dst.
func AppendHits[P md.Pixel](dst []Hit, ps []P) []Hit {
	for _, p := range ps {
		dst = append(dst, hitOf(p))
	}
	return dst
}

// AppendPixels appends the hits of ps to dst.
// ps must be a slice of one of the pixel shapes.
func AppendPixels(dst []Hit, ps any) []Hit {
	switch ps := ps.(type) {
	case []md.FToAToT:
		return AppendHits(dst, ps)
	case []md.ToAToT:
		return AppendHits(dst, ps)
	case []md.FToAOnly:
		return AppendHits(dst, ps)
	case []md.ToAOnly:
		return AppendHits(dst, ps)
	case []md.FEventITot:
		return AppendHits(dst, ps)
	case []md.EventITot:
		return AppendHits(dst, ps)
	}
	panic(fmt.Sprintf("xlcio: invalid pixels type %T", ps))
}

func hitOf[P md.Pixel](p P) Hit {
	switch p := any(p).(type) {
	case md.FToAToT:
		return Hit{X: p.X, Y: p.Y, ToA: p.ToA, FToA: p.FToA, ToT: p.ToT}
	case md.ToAToT:
		return Hit{X: p.X, Y: p.Y, ToA: p.ToA, HitCount: p.HitCount, ToT: p.ToT}
	case md.FToAOnly:
		return Hit{X: p.X, Y: p.Y, ToA: p.ToA, FToA: p.FToA}
	case md.ToAOnly:
		return Hit{X: p.X, Y: p.Y, ToA: p.ToA, HitCount: p.HitCount}
	case md.FEventITot:
		return Hit{X: p.X, Y: p.Y, HitCount: p.HitCount, EventCount: p.EventCount, IntegralToT: p.IntegralToT}
	case md.EventITot:
		return Hit{X: p.X, Y: p.Y, EventCount: p.EventCount, IntegralToT: p.IntegralToT}
	}
	panic("unreachable")
}

// Writer writes frames as LCIO events.
type Writer struct {
	w   *lcio.Writer
	run int32
	hdr bool

	format md.Format
	chipID string
}

// NewWriter creates a writer of frames for the given run.
func NewWriter(w *lcio.Writer, run int32, format md.Format, chipID string) *Writer {
	return &Writer{w: w, run: run, format: format, chipID: chipID}
}

// WriteFrame writes a frame as an LCIO event.
// The run header is written before the first frame.
func (w *Writer) WriteFrame(f Frame) error {
	if !w.hdr {
		err := w.w.WriteRunHeader(&lcio.RunHeader{
			RunNumber: w.run,
			Detector:  Detector,
			Descr:     "Katherine readout",
			Params: lcio.Params{
				Ints: map[string][]int32{
					"Format": {int32(w.format)},
				},
				Strings: map[string][]string{
					"Format": {w.format.String()},
					"ChipID": {w.chipID},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("xlcio: could not write run header: %w", err)
		}
		w.hdr = true
	}

	evt := lcio.Event{
		RunNumber:   w.run,
		EventNumber: int32(f.Index),
		TimeStamp:   int64(f.StartTime),
		Detector:    Detector,
	}

	hits := &lcio.GenericObject{
		Data: make([]lcio.GenericObjectData, len(f.Hits)),
	}
	for i, h := range f.Hits {
		hits.Data[i].I32s = []int32{
			int32(h.X), int32(h.Y),
			int32(uint32(h.ToA)), int32(uint32(h.ToA >> 32)),
			int32(h.FToA), int32(h.ToT), int32(h.HitCount),
			int32(h.EventCount), int32(h.IntegralToT),
		}
	}
	evt.Add(hitsName, hits)

	evt.Add(frameName, &lcio.GenericObject{
		Data: []lcio.GenericObjectData{{
			I32s: []int32{
				int32(uint32(f.StartTime)), int32(uint32(f.StartTime >> 32)),
				int32(uint32(f.EndTime)), int32(uint32(f.EndTime >> 32)),
				int32(uint32(f.Sent)), int32(uint32(f.Sent >> 32)),
				int32(uint32(f.Lost)), int32(uint32(f.Lost >> 32)),
			},
		}},
	})

	err := w.w.WriteEvent(&evt)
	if err != nil {
		return fmt.Errorf("xlcio: could not write frame %d: %w", f.Index, err)
	}
	return nil
}

// ReadFrame decodes a frame from an LCIO event written by a Writer.
func ReadFrame(evt *lcio.Event) (Frame, error) {
	f := Frame{Index: int(evt.EventNumber)}

	if !evt.Has(frameName) || !evt.Has(hitsName) {
		return f, fmt.Errorf("xlcio: event %d is not a Timepix3 frame", evt.EventNumber)
	}

	meta, ok := evt.Get(frameName).(*lcio.GenericObject)
	if !ok || len(meta.Data) != 1 || len(meta.Data[0].I32s) != 8 {
		return f, fmt.Errorf("xlcio: invalid frame description in event %d", evt.EventNumber)
	}
	vs := meta.Data[0].I32s
	f.StartTime = u64(vs[0], vs[1])
	f.EndTime = u64(vs[2], vs[3])
	f.Sent = u64(vs[4], vs[5])
	f.Lost = u64(vs[6], vs[7])

	hits, ok := evt.Get(hitsName).(*lcio.GenericObject)
	if !ok {
		return f, fmt.Errorf("xlcio: invalid hits collection in event %d", evt.EventNumber)
	}
	f.Hits = make([]Hit, len(hits.Data))
	for i, d := range hits.Data {
		vs := d.I32s
		if len(vs) != 9 {
			return f, fmt.Errorf("xlcio: invalid hit %d in event %d", i, evt.EventNumber)
		}
		f.Hits[i] = Hit{
			X:           uint8(vs[0]),
			Y:           uint8(vs[1]),
			ToA:         u64(vs[2], vs[3]),
			FToA:        uint8(vs[4]),
			ToT:         uint16(vs[5]),
			HitCount:    uint8(vs[6]),
			EventCount:  uint16(vs[7]),
			IntegralToT: uint16(vs[8]),
		}
	}
	return f, nil
}

func u64(lo, hi int32) uint64 {
	return uint64(uint32(lo)) | uint64(uint32(hi))<<32
}
