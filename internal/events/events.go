// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package events

import (
	"errors"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// ErrUnknownStream is returned when parsing a stream name that is not known.
var ErrUnknownStream = errors.New("unknown output stream")

// Stream identifies the kind of an output line produced while a job runs.
type Stream int

const (
	// StreamForked reports that the job process was started. Its text is the working directory.
	StreamForked Stream = iota
	// StreamStdout is a line written by the job to standard output.
	StreamStdout
	// StreamStderr is a line written by the job to standard error.
	StreamStderr
)

// String implements the Stringer interface for Stream.
func (s Stream) String() string {
	switch s {
	case StreamForked:
		return "forked"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// ParseStream is the inverse of Stream.String.
func ParseStream(s string) (Stream, error) {
	switch s {
	case "forked":
		return StreamForked, nil
	case "stdout":
		return StreamStdout, nil
	case "stderr":
		return StreamStderr, nil
	default:
		return 0, errors.Join(ErrUnknownStream, errors.New(s))
	}
}

// Output is a single line of job output, tagged with the pid of the process that produced it.
type Output struct {
	Stream Stream
	PID    int
	Text   string
}

// Type is the kind of an Event.
type Type int

const (
	// EventClaimed is emitted when a job was claimed.
	EventClaimed Type = iota
	// EventStarted is emitted when the job process was started.
	EventStarted
	// EventOutput is emitted for every line of output.
	EventOutput
	// EventFinished is emitted when the job process ended or could not be started.
	EventFinished
	// EventCommitted is emitted when the terminal status was written to shared state.
	EventCommitted
)

// String implements the Stringer interface for Type.
func (t Type) String() string {
	switch t {
	case EventClaimed:
		return "claimed"
	case EventStarted:
		return "started"
	case EventOutput:
		return "output"
	case EventFinished:
		return "finished"
	case EventCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Event is a status event for one job.
type Event struct {
	Type     Type
	Job      runfile.Job
	Status   runfile.Status
	Time     time.Time
	Host     string
	PID      int // pid of the job process, or of the worker when no process was started
	ExitCode int
	Output   Output
	Err      error
}

// Reporter receives events. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(e Event)
}

// Multi fans an event out to several reporters in order.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Null discards every event.
type Null struct{}

// Report implements Reporter.
func (Null) Report(Event) {}
