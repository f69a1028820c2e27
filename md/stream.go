// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package md

import (
	"io"

	"golang.org/x/xerrors"
)

// Encoder writes MD records to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, Size),
	}
}

// Encode writes the records to the underlying stream.
func (enc *Encoder) Encode(recs ...Record) error {
	for _, rec := range recs {
		rec.Put(enc.buf)
		enc.write(enc.buf)
		if enc.err != nil {
			return xerrors.Errorf("md: could not write record %v: %w", rec, enc.err)
		}
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

// Append appends the wire representation of recs to dst.
func Append(dst []byte, recs ...Record) []byte {
	var buf [Size]byte
	for _, rec := range recs {
		rec.Put(buf[:])
		dst = append(dst, buf[:]...)
	}
	return dst
}

// StreamDecoder reads MD records from an input stream.
type StreamDecoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewStreamDecoder returns a new StreamDecoder that reads from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{
		r:   r,
		buf: make([]byte, Size),
	}
}

// Decode reads the next record.
// Decode returns io.EOF when the stream is exhausted on a record boundary.
func (dec *StreamDecoder) Decode() (Record, error) {
	dec.read(dec.buf)
	switch {
	case dec.err == io.EOF:
		return 0, io.EOF
	case dec.err != nil:
		return 0, xerrors.Errorf("md: could not read record: %w", dec.err)
	}
	return NewRecord(dec.buf), nil
}

func (dec *StreamDecoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}
