// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package md

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// raw builds a pixel record from explicit bit positions.
func raw(x, y, low, mid, high uint64) Record {
	return Record(0x4<<44 | y<<36 | x<<28 | high<<14 | mid<<4 | low)
}

func TestNewRecord(t *testing.T) {
	p := []byte{0x59, 0x2a, 0xcf, 0xb7, 0xda, 0x4c, 0xff, 0xff}
	rec := NewRecord(p)
	if got, want := rec, Record(0x4cdab7cf2a59); got != want {
		t.Fatalf("invalid record: got=0x%x, want=0x%x", got, want)
	}
	if got, want := rec, raw(0xAB, 0xCD, 0x9, 0x2A5, 0x1F3C); got != want {
		t.Fatalf("invalid record: got=0x%x, want=0x%x", got, want)
	}
	if got, want := rec.Header(), HeaderPixel; got != want {
		t.Fatalf("invalid header: got=%v, want=%v", got, want)
	}

	out := make([]byte, Size)
	rec.Put(out)
	if !bytes.Equal(out, p[:Size]) {
		t.Fatalf("invalid round-trip:\ngot= %x\nwant=%x", out, p[:Size])
	}
}

func TestHeaders(t *testing.T) {
	for _, tc := range []struct {
		hdr   Header
		known bool
		name  string
	}{
		{0x0, false, "unknown(0x0)"},
		{0x1, false, "unknown(0x1)"},
		{HeaderTrigger, true, "trigger"},
		{HeaderTriggerB, true, "trigger"},
		{HeaderPixel, true, "pixel"},
		{HeaderTimeOffset, true, "time-offset"},
		{0x6, false, "unknown(0x6)"},
		{HeaderNewFrame, true, "new-frame"},
		{HeaderFrameStartLSB, true, "frame-start-lsb"},
		{HeaderFrameStartMSB, true, "frame-start-msb"},
		{HeaderFrameEndLSB, true, "frame-end-lsb"},
		{HeaderFrameEndMSB, true, "frame-end-msb"},
		{HeaderFrameFinished, true, "frame-finished"},
		{HeaderLostPixels, true, "lost-pixels"},
		{HeaderAborted, true, "aborted"},
		{0xF, false, "unknown(0xf)"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := tc.hdr.Known(), tc.known; got != want {
				t.Fatalf("invalid known: got=%v, want=%v", got, want)
			}
			if got, want := tc.hdr.String(), tc.name; got != want {
				t.Fatalf("invalid name: got=%q, want=%q", got, want)
			}
			rec := Make(tc.hdr, 0xFFFFFFFFFFF)
			if got, want := rec.Header(), tc.hdr; got != want {
				t.Fatalf("invalid header: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestPayloads(t *testing.T) {
	for _, tc := range []struct {
		name string
		rec  Record
		get  func(r Record) uint64
		want uint64
	}{
		{
			name: "time-offset",
			rec:  Record(0x5<<44 | 0xABC<<32 | 0x12345678),
			get:  func(r Record) uint64 { return uint64(r.TimeOffset()) },
			want: 0x12345678,
		},
		{
			name: "toa-offset",
			rec:  Record(0x5<<44 | 3),
			get:  func(r Record) uint64 { return r.ToAOffset() },
			want: 3 * 16384,
		},
		{
			name: "new-frame-offset",
			rec:  Record(0x7<<44 | 0xFED<<32 | 0xFFFFFFFF),
			get:  func(r Record) uint64 { return uint64(r.NewFrameOffset()) },
			want: 0xFED,
		},
		{
			name: "sent-pixels",
			rec:  Record(0xC<<44 | 0xFEDCBA98765),
			get:  func(r Record) uint64 { return r.SentPixels() },
			want: 0xFEDCBA98765,
		},
		{
			name: "lost-pixels",
			rec:  Record(0xD<<44 | 0x123456789AB),
			get:  func(r Record) uint64 { return r.LostPixels() },
			want: 0x123456789AB,
		},
		{
			name: "time-lsb",
			rec:  Record(0x8<<44 | 0xABC<<32 | 0xDEADBEEF),
			get:  func(r Record) uint64 { return uint64(r.TimeLSB()) },
			want: 0xDEADBEEF,
		},
		{
			name: "time-msb",
			rec:  Record(0x9<<44 | 0xABCDE<<16 | 0xBEEF),
			get:  func(r Record) uint64 { return uint64(r.TimeMSB()) },
			want: 0xBEEF,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := tc.get(tc.rec), tc.want; got != want {
				t.Fatalf("invalid payload: got=0x%x, want=0x%x", got, want)
			}
		})
	}
}

func TestDecoders(t *testing.T) {
	const (
		x    = 0xAB
		y    = 0xCD
		low  = 0x9
		mid  = 0x2A5
		high = 0x1F3C
		off  = 5 * 16384
	)
	rec := raw(x, y, low, mid, high)
	coord := Coord{X: x, Y: y}

	for _, tc := range []struct {
		name string
		got  any
		want any
	}{
		{
			name: "f_toa_tot",
			got:  NewDecoder[FToAToT]()(rec, off),
			want: FToAToT{Coord: coord, FToA: low, ToA: high + off, ToT: mid},
		},
		{
			name: "toa_tot",
			got:  NewDecoder[ToAToT]()(rec, off),
			want: ToAToT{Coord: coord, ToA: high + off, HitCount: low, ToT: mid},
		},
		{
			name: "f_toa_only",
			got:  NewDecoder[FToAOnly]()(rec, off),
			want: FToAOnly{Coord: coord, ToA: high + off, FToA: low},
		},
		{
			name: "toa_only",
			got:  NewDecoder[ToAOnly]()(rec, off),
			want: ToAOnly{Coord: coord, ToA: high + off, HitCount: low},
		},
		{
			name: "f_event_itot",
			got:  NewDecoder[FEventITot]()(rec, off),
			want: FEventITot{Coord: coord, HitCount: low, EventCount: mid, IntegralToT: high},
		},
		{
			name: "event_itot",
			got:  NewDecoder[EventITot]()(rec, off),
			want: EventITot{Coord: coord, EventCount: mid, IntegralToT: high},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.got); diff != "" {
				t.Fatalf("invalid pixel (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecoderFullWidth(t *testing.T) {
	rec := raw(0xFF, 0xFF, 0xF, 0x3FF, 0x3FFF)
	got := NewDecoder[FToAToT]()(rec, 0)
	want := FToAToT{Coord: Coord{0xFF, 0xFF}, FToA: 0xF, ToA: 0x3FFF, ToT: 0x3FF}
	if got != want {
		t.Fatalf("invalid pixel:\ngot= %+v\nwant=%+v", got, want)
	}

	// a large offset must not wrap.
	const off = 16384 * 0xFFFFFFFF
	if got, want := NewDecoder[ToAOnly]()(rec, off).ToA, uint64(0x3FFF+off); got != want {
		t.Fatalf("invalid toa: got=%d, want=%d", got, want)
	}
}

func TestEncode(t *testing.T) {
	const off = 7 * 16384
	for _, tc := range []struct {
		name string
		rec  Record
		want Record
	}{
		{
			name: "f_toa_tot",
			rec:  Encode(FToAToT{Coord{1, 2}, 3, 4 + off, 5}, off),
			want: raw(1, 2, 3, 5, 4),
		},
		{
			name: "toa_tot",
			rec:  Encode(ToAToT{Coord{1, 2}, 4 + off, 3, 5}, off),
			want: raw(1, 2, 3, 5, 4),
		},
		{
			name: "f_toa_only",
			rec:  Encode(FToAOnly{Coord{1, 2}, 4 + off, 3}, off),
			want: raw(1, 2, 3, 0, 4),
		},
		{
			name: "toa_only",
			rec:  Encode(ToAOnly{Coord{1, 2}, 4 + off, 3}, off),
			want: raw(1, 2, 3, 0, 4),
		},
		{
			name: "f_event_itot",
			rec:  Encode(FEventITot{Coord{1, 2}, 3, 5, 4}, off),
			want: raw(1, 2, 3, 5, 4),
		},
		{
			name: "event_itot",
			rec:  Encode(EventITot{Coord{1, 2}, 5, 4}, off),
			want: raw(1, 2, 0, 5, 4),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := tc.rec, tc.want; got != want {
				t.Fatalf("invalid record: got=0x%x, want=0x%x", got, want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	for _, tc := range []struct {
		mode Mode
		fast bool
		want Format
		size int
	}{
		{ModeToATot, true, FormatFToAToT, FormatOf[FToAToT]().Size()},
		{ModeToATot, false, FormatToAToT, FormatOf[ToAToT]().Size()},
		{ModeOnlyToA, true, FormatFToAOnly, FormatOf[FToAOnly]().Size()},
		{ModeOnlyToA, false, FormatToAOnly, FormatOf[ToAOnly]().Size()},
		{ModeEventITot, true, FormatFEventITot, FormatOf[FEventITot]().Size()},
		{ModeEventITot, false, FormatEventITot, FormatOf[EventITot]().Size()},
	} {
		t.Run(tc.want.String(), func(t *testing.T) {
			got, err := Select(tc.mode, tc.fast)
			if err != nil {
				t.Fatalf("could not select format: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid format: got=%v, want=%v", got, tc.want)
			}
			if got.Size() != tc.size || tc.size == 0 {
				t.Fatalf("invalid size: got=%d, want=%d", got.Size(), tc.size)
			}
		})
	}

	_, err := Select(Mode(3), true)
	if err == nil {
		t.Fatalf("expected an error")
	}

	if got, want := FormatOf[FToAToT]().Size(), 24; got != want {
		t.Fatalf("invalid f_toa_tot size: got=%d, want=%d", got, want)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeToATot, ModeOnlyToA, ModeEventITot} {
		got, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("could not parse %q: %+v", m, err)
		}
		if got != m {
			t.Fatalf("invalid mode: got=%v, want=%v", got, m)
		}
	}
	if _, err := ParseMode("toa"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestStream(t *testing.T) {
	recs := []Record{
		Make(HeaderNewFrame, 0),
		raw(1, 2, 3, 4, 5),
		Make(HeaderFrameFinished, 1),
	}

	buf := new(bytes.Buffer)
	err := NewEncoder(buf).Encode(recs...)
	if err != nil {
		t.Fatalf("could not encode records: %+v", err)
	}
	if got, want := buf.Bytes(), Append(nil, recs...); !bytes.Equal(got, want) {
		t.Fatalf("invalid stream:\ngot= %x\nwant=%x", got, want)
	}

	buf.WriteByte(0x42) // trailing garbage
	dec := NewStreamDecoder(buf)
	var got []Record
	for {
		rec, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("invalid error: %+v", err)
			}
			break
		}
		got = append(got, rec)
	}
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Fatalf("invalid records (-want +got):\n%s", diff)
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestEncoderError(t *testing.T) {
	want := errors.New("boom")
	err := NewEncoder(failingWriter{want}).Encode(Make(HeaderNewFrame, 0))
	if !errors.Is(err, want) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, want)
	}
}
