// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"github.com/go-lpc/katherine/md"
)

// pixelBuffer is a fixed-capacity buffer of decoded pixels.
// Its backing array is reused across flushes.
type pixelBuffer[P md.Pixel] struct {
	buf   []P
	valid int
	flush func(ps []P) // consumer of flushed pixels
}

func newPixelBuffer[P md.Pixel](n int, flush func(ps []P)) pixelBuffer[P] {
	return pixelBuffer[P]{
		buf:   make([]P, n),
		flush: flush,
	}
}

func (pb *pixelBuffer[P]) len() int { return pb.valid }
func (pb *pixelBuffer[P]) cap() int { return len(pb.buf) }

// push stores p, flushing the buffer first when it is full.
func (pb *pixelBuffer[P]) push(p P) {
	if pb.valid == len(pb.buf) {
		pb.drain()
	}
	pb.buf[pb.valid] = p
	pb.valid++
}

// drain hands the valid pixels to the consumer and empties the buffer.
// It returns the number of flushed pixels.
func (pb *pixelBuffer[P]) drain() int {
	n := pb.valid
	if n == 0 {
		return 0
	}
	pb.flush(pb.buf[:n:n])
	pb.valid = 0
	return n
}
