// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import "fmt"

// Readout is the readout mode of the detector.
type Readout uint8

const (
	ReadoutSequential Readout = 0
	ReadoutDataDriven Readout = 1
)

func (ro Readout) String() string {
	switch ro {
	case ReadoutSequential:
		return "sequential"
	case ReadoutDataDriven:
		return "data-driven"
	}
	return fmt.Sprintf("Readout(%d)", uint8(ro))
}

// ParseReadout parses the name of a readout mode, as returned by
// Readout.String.
func ParseReadout(s string) (Readout, error) {
	switch s {
	case "sequential":
		return ReadoutSequential, nil
	case "data-driven":
		return ReadoutDataDriven, nil
	}
	return 0, fmt.Errorf("katherine: invalid readout mode %q", s)
}
