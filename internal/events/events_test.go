// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package events

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/matt-FFFFFF/linerun/internal/color"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_RoundTrip(t *testing.T) {
	for _, s := range []Stream{StreamForked, StreamStdout, StreamStderr} {
		got, err := ParseStream(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStream("stdin")
	require.ErrorIs(t, err, ErrUnknownStream)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "claimed", EventClaimed.String())
	assert.Equal(t, "committed", EventCommitted.String())
	assert.Equal(t, "unknown", Type(99).String())
}

func TestFormat(t *testing.T) {
	prev := color.SetEnabled(false)
	t.Cleanup(func() { color.SetEnabled(prev) })

	job := runfile.Job{Command: "echo a", Number: 1}

	testCases := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "claimed",
			event: Event{Type: EventClaimed, Job: job},
			want:  "executing `echo a'",
		},
		{
			name:  "started",
			event: Event{Type: EventStarted, Job: job, Host: "n1", PID: 7},
			want:  `status (n1,7): forked "echo a"`,
		},
		{
			name:  "stdout",
			event: Event{Type: EventOutput, Job: job, Host: "n1", PID: 7, Output: Output{Stream: StreamStdout, Text: "a"}},
			want:  "stdout (n1,7): a",
		},
		{
			name:  "stderr",
			event: Event{Type: EventOutput, Job: job, Host: "n1", PID: 7, Output: Output{Stream: StreamStderr, Text: "oops"}},
			want:  "stderr (n1,7): oops",
		},
		{
			name:  "finished",
			event: Event{Type: EventFinished, Job: job, Host: "n1", PID: 7, Status: runfile.StatusFailed, ExitCode: 3},
			want:  `status (n1,7): exit 3 "echo a"`,
		},
		{
			name: "finished with error",
			event: Event{
				Type: EventFinished, Job: job, Host: "n1", PID: 7,
				Status: runfile.StatusError, ExitCode: -1, Err: errors.New("no shell"),
			},
			want: `status (n1,7): exit -1 "echo a" (no shell)`,
		},
		{
			name:  "committed is silent",
			event: Event{Type: EventCommitted, Job: job},
			want:  "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(tc.event))
		})
	}
}

func TestConsole_LinesAreWhole(t *testing.T) {
	prev := color.SetEnabled(false)
	t.Cleanup(func() { color.SetEnabled(prev) })

	var buf bytes.Buffer

	c := NewConsole(&buf)

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				c.Report(Event{Type: EventOutput, Host: "h", PID: 1, Output: Output{Stream: StreamStdout, Text: "line"}})
			}
		}()
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 1000)

	for _, l := range lines {
		assert.Equal(t, "stdout (h,1): line", l)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	r1 := &Recorder{}
	r2 := &Recorder{}
	m := Multi{r1, Null{}, r2}

	m.Report(Event{Type: EventClaimed})
	m.Report(Event{Type: EventFinished})

	assert.Len(t, r1.Events(), 2)
	assert.Len(t, r2.OfType(EventFinished), 1)
	assert.Empty(t, r2.OfType(EventOutput))
}
