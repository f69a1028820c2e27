// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package md

import (
	"fmt"
	"unsafe"
)

// Mode is the acquisition mode of the detector.
type Mode uint8

const (
	ModeToATot    Mode = 0 // ToA & ToT
	ModeOnlyToA   Mode = 1 // ToA only
	ModeEventITot Mode = 2 // event counting & integral ToT
)

func (m Mode) String() string {
	switch m {
	case ModeToATot:
		return "toa-tot"
	case ModeOnlyToA:
		return "only-toa"
	case ModeEventITot:
		return "event-itot"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode parses the name of an acquisition mode, as returned by
// Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeToATot, ModeOnlyToA, ModeEventITot} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("md: invalid acquisition mode %q", s)
}

// Format identifies one of the six pixel shapes.
type Format uint8

const (
	FormatFToAToT Format = iota
	FormatToAToT
	FormatFToAOnly
	FormatToAOnly
	FormatFEventITot
	FormatEventITot
)

var formats = [...]struct {
	name string
	size uintptr
}{
	FormatFToAToT:    {"f_toa_tot", unsafe.Sizeof(FToAToT{})},
	FormatToAToT:     {"toa_tot", unsafe.Sizeof(ToAToT{})},
	FormatFToAOnly:   {"f_toa_only", unsafe.Sizeof(FToAOnly{})},
	FormatToAOnly:    {"toa_only", unsafe.Sizeof(ToAOnly{})},
	FormatFEventITot: {"f_event_itot", unsafe.Sizeof(FEventITot{})},
	FormatEventITot:  {"event_itot", unsafe.Sizeof(EventITot{})},
}

func (f Format) String() string {
	if int(f) >= len(formats) {
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
	return formats[f].name
}

// Size returns the in-memory size of a pixel of that format, in bytes.
func (f Format) Size() int {
	return int(formats[f].size)
}

// Select returns the pixel format produced by the detector for the
// given acquisition mode and clock variant.
func Select(mode Mode, fastVCO bool) (Format, error) {
	switch mode {
	case ModeToATot:
		if fastVCO {
			return FormatFToAToT, nil
		}
		return FormatToAToT, nil
	case ModeOnlyToA:
		if fastVCO {
			return FormatFToAOnly, nil
		}
		return FormatToAOnly, nil
	case ModeEventITot:
		if fastVCO {
			return FormatFEventITot, nil
		}
		return FormatEventITot, nil
	}
	return 0, fmt.Errorf("md: invalid acquisition mode %d", uint8(mode))
}

// FormatOf returns the format of the pixel shape P.
func FormatOf[P Pixel]() Format {
	var p P
	switch any(p).(type) {
	case FToAToT:
		return FormatFToAToT
	case ToAToT:
		return FormatToAToT
	case FToAOnly:
		return FormatFToAOnly
	case ToAOnly:
		return FormatToAOnly
	case FEventITot:
		return FormatFEventITot
	default:
		return FormatEventITot
	}
}

// Encode packs a pixel back into a pixel record, given the ToA offset
// in effect.
func Encode[P Pixel](p P, offset uint64) Record {
	switch p := any(p).(type) {
	case FToAToT:
		return p.Record(offset)
	case ToAToT:
		return p.Record(offset)
	case FToAOnly:
		return p.Record(offset)
	case ToAOnly:
		return p.Record(offset)
	case FEventITot:
		return p.Record(offset)
	case EventITot:
		return p.Record(offset)
	}
	panic("unreachable")
}
