// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runfile

// Status is the execution state of a job. It is stored on disk as a single marker byte.
type Status int

const (
	// StatusNew is a job that has not been claimed.
	StatusNew Status = iota
	// StatusRunning is a job that has been claimed by a worker.
	StatusRunning
	// StatusDone is a job whose command exited with code 0.
	StatusDone
	// StatusFailed is a job whose command exited with a nonzero code.
	StatusFailed
	// StatusError is a job whose command could not be executed.
	StatusError
)

const (
	markerNew     = '.'
	markerRunning = 'r'
	markerDone    = 'd'
	markerFailed  = '!'
	markerError   = 'e'
)

// Marker returns the byte that represents the status in the run file.
func (s Status) Marker() byte {
	switch s {
	case StatusRunning:
		return markerRunning
	case StatusDone:
		return markerDone
	case StatusFailed:
		return markerFailed
	case StatusError:
		return markerError
	default:
		return markerNew
	}
}

// String implements the Stringer interface for Status.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one a job ends in.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusError
}

// StatusFromMarker maps a marker byte to its status.
// The boolean is false for bytes that are not a known marker.
func StatusFromMarker(b byte) (Status, bool) {
	switch b {
	case markerNew:
		return StatusNew, true
	case markerRunning:
		return StatusRunning, true
	case markerDone:
		return StatusDone, true
	case markerFailed:
		return StatusFailed, true
	case markerError:
		return StatusError, true
	default:
		return 0, false
	}
}
