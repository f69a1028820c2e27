// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import "fmt"

// State describes the state of an acquisition.
type State int32

const (
	NotStarted State = iota
	Running
	Succeeded
	TimedOut
	Aborted
)

func (st State) String() string {
	switch st {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed out"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("unknown(%d)", int32(st))
}

// Terminal reports whether st is a final state.
func (st State) Terminal() bool {
	switch st {
	case Succeeded, TimedOut, Aborted:
		return true
	}
	return false
}
