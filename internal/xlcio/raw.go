// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xlcio

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/katherine/md"
)

func hitDecoder[P md.Pixel]() func(md.Record, uint64) Hit {
	dec := md.NewDecoder[P]()
	return func(r md.Record, offset uint64) Hit {
		return hitOf(dec(r, offset))
	}
}

func decoderOf(f md.Format) (func(md.Record, uint64) Hit, error) {
	switch f {
	case md.FormatFToAToT:
		return hitDecoder[md.FToAToT](), nil
	case md.FormatToAToT:
		return hitDecoder[md.ToAToT](), nil
	case md.FormatFToAOnly:
		return hitDecoder[md.FToAOnly](), nil
	case md.FormatToAOnly:
		return hitDecoder[md.ToAOnly](), nil
	case md.FormatFEventITot:
		return hitDecoder[md.FEventITot](), nil
	case md.FormatEventITot:
		return hitDecoder[md.EventITot](), nil
	}
	return nil, fmt.Errorf("xlcio: unknown pixel format %v", f)
}

// Convert decodes a raw measurement data stream and writes each
// finished frame as an LCIO event.
// It returns the number of written frames.
func Convert(w *Writer, r io.Reader, msg *log.Logger) (int, error) {
	decode, err := decoderOf(w.format)
	if err != nil {
		return 0, err
	}

	var (
		dec     = md.NewStreamDecoder(r)
		frame   Frame
		started bool
		offset  uint64
		n       int
	)

	for {
		rec, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return n, fmt.Errorf("xlcio: could not decode measurement data: %w", err)
		}

		switch rec.Header() {
		case md.HeaderPixel:
			frame.Hits = append(frame.Hits, decode(rec, offset))
		case md.HeaderTimeOffset:
			offset = rec.ToAOffset()
		case md.HeaderNewFrame:
			frame = Frame{Index: n}
			started = true
		case md.HeaderFrameStartLSB:
			frame.StartTime = frame.StartTime&^0xFFFFFFFF | uint64(rec.TimeLSB())
		case md.HeaderFrameStartMSB:
			frame.StartTime = frame.StartTime&0xFFFFFFFF | uint64(rec.TimeMSB())<<32
		case md.HeaderFrameEndLSB:
			frame.EndTime = frame.EndTime&^0xFFFFFFFF | uint64(rec.TimeLSB())
		case md.HeaderFrameEndMSB:
			frame.EndTime = frame.EndTime&0xFFFFFFFF | uint64(rec.TimeMSB())<<32
		case md.HeaderLostPixels:
			frame.Lost += rec.LostPixels()
		case md.HeaderFrameFinished:
			if !started {
				msg.Printf("frame finished without frame start (record %v)", rec)
			}
			frame.Index = n
			frame.Sent = rec.SentPixels()
			err = w.WriteFrame(frame)
			if err != nil {
				return n, err
			}
			n++
			if n%100 == 0 {
				msg.Printf("processed %d frames...", n)
			}
			frame = Frame{Index: n}
			started = false
		}
	}

	if started {
		msg.Printf("dropping unfinished frame %d (%d hits)", frame.Index, len(frame.Hits))
	}

	return n, nil
}
