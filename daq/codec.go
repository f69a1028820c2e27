// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"fmt"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/katherine/acq"
	"github.com/go-lpc/katherine/internal/xlcio"
)

// FrameSummary is the payload of the /frames output.
type FrameSummary struct {
	Index     int
	Completed bool
	Received  uint64
	Sent      uint64
	Lost      uint64
	StartTime uint64
	EndTime   uint64
}

func encodeFrame(idx int, completed bool, info acq.FrameInfo) []byte {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(idx))
	if completed {
		enc.WriteU8(1)
	} else {
		enc.WriteU8(0)
	}
	enc.WriteU64(info.ReceivedPixels)
	enc.WriteU64(info.SentPixels)
	enc.WriteU64(info.LostPixels)
	enc.WriteU64(uint64(info.StartTime))
	enc.WriteU64(uint64(info.EndTime))
	return buf.Bytes()
}

// DecodeFrame decodes the payload of the /frames output.
func DecodeFrame(p []byte) (FrameSummary, error) {
	var (
		f   FrameSummary
		dec = tdaq.NewDecoder(bytes.NewReader(p))
	)
	f.Index = int(dec.ReadU32())
	f.Completed = dec.ReadU8() != 0
	f.Received = dec.ReadU64()
	f.Sent = dec.ReadU64()
	f.Lost = dec.ReadU64()
	f.StartTime = dec.ReadU64()
	f.EndTime = dec.ReadU64()
	if err := dec.Err(); err != nil {
		return f, fmt.Errorf("daq: could not decode frame summary: %w", err)
	}
	return f, nil
}

func encodePixels(frame int, ps any) []byte {
	hits := xlcio.AppendPixels(nil, ps)

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(frame))
	enc.WriteU32(uint32(len(hits)))
	for _, h := range hits {
		enc.WriteU8(h.X)
		enc.WriteU8(h.Y)
		enc.WriteU64(h.ToA)
		enc.WriteU8(h.FToA)
		enc.WriteU16(h.ToT)
		enc.WriteU8(h.HitCount)
		enc.WriteU16(h.EventCount)
		enc.WriteU16(h.IntegralToT)
	}
	return buf.Bytes()
}

// DecodePixels decodes the payload of the /pixels output, when the
// acquisition decodes measurement data.
func DecodePixels(p []byte) (frame int, hits []xlcio.Hit, err error) {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	frame = int(dec.ReadU32())
	n := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return frame, nil, fmt.Errorf("daq: could not decode pixels header: %w", err)
	}

	hits = make([]xlcio.Hit, n)
	for i := range hits {
		h := &hits[i]
		h.X = dec.ReadU8()
		h.Y = dec.ReadU8()
		h.ToA = dec.ReadU64()
		h.FToA = dec.ReadU8()
		h.ToT = dec.ReadU16()
		h.HitCount = dec.ReadU8()
		h.EventCount = dec.ReadU16()
		h.IntegralToT = dec.ReadU16()
	}
	if err := dec.Err(); err != nil {
		return frame, nil, fmt.Errorf("daq: could not decode pixels: %w", err)
	}
	return frame, hits, nil
}
