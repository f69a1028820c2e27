// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pxcfg holds the pixel configuration matrix of a Timepix3
// detector and loaders for the BMC and BPC file formats.
package pxcfg // import "github.com/go-lpc/katherine/pxcfg"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// NumPixels is the number of pixels in the matrix.
	NumPixels = 256 * 256

	// NumWords is the number of 32-bit words of a pixel configuration.
	NumWords = NumPixels / 4

	// FileSize is the size of BMC and BPC payloads, one byte per pixel.
	FileSize = NumPixels
)

// ErrSize reports a pixel configuration payload of invalid size.
var ErrSize = errors.New("pxcfg: invalid payload size")

// Matrix is the pixel configuration, as sent to the readout.
type Matrix struct {
	Words [NumWords]uint32
}

// Bytes returns the little-endian wire representation of the matrix.
func (m *Matrix) Bytes() []byte {
	buf := make([]byte, 4*NumWords)
	for i, w := range m.Words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// set stores the configuration byte v of the i-th pixel of a
// row-major, bottom-up file into the column-major matrix.
func (m *Matrix) set(i int, v uint8) {
	x := i % 256
	y := 255 - i/256
	m.Words[64*x+y>>2] |= uint32(v) << (8 * (3 - y%4))
}

// bpcReverse reverses the 4 threshold bits of a BPC byte.
var bpcReverse = [16]uint8{0, 8, 4, 12, 2, 10, 6, 14, 1, 9, 5, 13, 3, 11, 7, 15}

// LoadBMC loads a pixel configuration from BMC data.
func LoadBMC(r io.Reader) (*Matrix, error) {
	raw, err := readPayload(r)
	if err != nil {
		return nil, fmt.Errorf("pxcfg: could not read BMC data: %w", err)
	}

	var m Matrix
	for i, v := range raw {
		m.set(i, v)
	}
	return &m, nil
}

// LoadBPC loads a pixel configuration from BPC data.
func LoadBPC(r io.Reader) (*Matrix, error) {
	raw, err := readPayload(r)
	if err != nil {
		return nil, fmt.Errorf("pxcfg: could not read BPC data: %w", err)
	}

	var m Matrix
	for i, v := range raw {
		v = (v & 0x21) | bpcReverse[(v&0x1E)>>1]<<1
		m.set(i, v)
	}
	return &m, nil
}

// LoadBMCFile loads a pixel configuration from the named BMC file.
func LoadBMCFile(fname string) (*Matrix, error) {
	return loadFile(fname, LoadBMC)
}

// LoadBPCFile loads a pixel configuration from the named BPC file.
func LoadBPCFile(fname string) (*Matrix, error) {
	return loadFile(fname, LoadBPC)
}

func loadFile(fname string, load func(r io.Reader) (*Matrix, error)) (*Matrix, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("pxcfg: could not open pixel configuration file: %w", err)
	}
	defer f.Close()

	m, err := load(f)
	if err != nil {
		return nil, fmt.Errorf("pxcfg: could not load %q: %w", fname, err)
	}
	return m, nil
}

func readPayload(r io.Reader) ([]byte, error) {
	raw := make([]byte, FileSize)
	_, err := io.ReadFull(r, raw)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: %v", ErrSize, err)
	case err != nil:
		return nil, err
	}
	return raw, nil
}
