// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package katherine holds code to drive Katherine readouts of Timepix3
// detectors over UDP.
//
// The packages are layered as follows:
//   - md decodes the 6-byte measurement data records and pixels,
//   - device sends control commands and configures the readout,
//   - acq drives an acquisition and dispatches decoded pixels,
//   - daq exposes an acquisition as a TDAQ process.
package katherine // import "github.com/go-lpc/katherine"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/katherine"

// Version returns the version of katherine and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
