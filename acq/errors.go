// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import "errors"

var (
	// ErrConfig reports an invalid acquisition setup.
	// No state transition happened.
	ErrConfig = errors.New("acq: invalid configuration")

	// ErrTimedOut reports that no complete acquisition was observed
	// before the fail timeout.
	ErrTimedOut = errors.New("acq: acquisition timed out")

	// ErrAborted reports that the acquisition was cancelled.
	ErrAborted = errors.New("acq: acquisition aborted")

	// ErrRetry reports that the read loop exited without reaching a
	// terminal state.
	ErrRetry = errors.New("acq: acquisition not running, try again")
)

func errOf(st State) error {
	switch st {
	case Succeeded:
		return nil
	case TimedOut:
		return ErrTimedOut
	case Aborted:
		return ErrAborted
	default:
		return ErrRetry
	}
}
