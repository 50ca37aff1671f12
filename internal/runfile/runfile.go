// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runfile

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	minJobLineLength = 3 // marker, separator and at least one byte of command
	trailingSpace    = " \t\r\n"
)

// Owner identifies the worker process that claimed a job.
type Owner struct {
	Host string
	PID  int
}

// IsZero reports whether the owner is unset.
func (o Owner) IsZero() bool {
	return o.Host == "" && o.PID == 0
}

// String returns the owner as "host,pid".
func (o Owner) String() string {
	return o.Host + "," + strconv.Itoa(o.PID)
}

// Job is a parsed job record.
type Job struct {
	Index   int    // Position of the line in the file, starting at 0.
	Number  int    // Ordinal among job lines, starting at 1.
	Offset  int64  // Byte offset of the status marker in the file.
	Command string // Command text, without marker, separator or trailing whitespace.
	Status  Status // Current status.
	Owner   Owner  // Set while the job is running under a claim held by this process or server.
	read    Status // Status as it was read from the file.
}

// Changed reports whether the job status differs from the status that was read.
func (j *Job) Changed() bool {
	return j.Status != j.read
}

// String implements the Stringer interface for Job.
func (j Job) String() string {
	return fmt.Sprintf("#%d %c %q", j.Number, j.Status.Marker(), j.Command)
}

// Line is a single line of the run file. Job is nil for passthrough lines.
type Line struct {
	Raw    []byte // The line including its terminator, exactly as read.
	Offset int64  // Byte offset of the first byte of the line.
	Job    *Job
}

// RunFile is the in-memory representation of a run file.
type RunFile struct {
	Lines []Line
	jobs  []*Job
}

// Parse splits data into lines and classifies each of them.
// Parse never fails: anything that is not a job record is kept as a passthrough line.
func Parse(data []byte) *RunFile {
	rf := &RunFile{}

	var offset int64

	for index := 0; len(data) > 0; index++ {
		end := bytes.IndexByte(data, '\n') + 1
		if end == 0 {
			end = len(data)
		}

		raw := data[:end:end]
		line := Line{Raw: raw, Offset: offset}

		if status, command, ok := parseLine(raw); ok {
			line.Job = &Job{
				Index:   index,
				Number:  len(rf.jobs) + 1,
				Offset:  offset,
				Command: command,
				Status:  status,
				read:    status,
			}
			rf.jobs = append(rf.jobs, line.Job)
		}

		rf.Lines = append(rf.Lines, line)
		offset += int64(end)
		data = data[end:]
	}

	return rf
}

func parseLine(raw []byte) (Status, string, bool) {
	if len(raw) < minJobLineLength {
		return 0, "", false
	}

	status, ok := StatusFromMarker(raw[0])
	if !ok {
		return 0, "", false
	}

	if raw[1] != ' ' && raw[1] != '\t' {
		return 0, "", false
	}

	command := bytes.TrimRight(raw[2:], trailingSpace)
	if len(command) == 0 {
		return 0, "", false
	}

	return status, string(command), true
}

// Jobs returns the job records in file order.
func (rf *RunFile) Jobs() []*Job {
	return rf.jobs
}

// Job returns the job on the line with the given index, or nil if that line is not a job.
func (rf *RunFile) Job(index int) *Job {
	if index < 0 || index >= len(rf.Lines) {
		return nil
	}

	return rf.Lines[index].Job
}

// NextClaimable returns the lowest-index job that may be claimed, or nil.
// With retry set, failed and errored jobs are claimable as well as new ones.
func (rf *RunFile) NextClaimable(retry bool) *Job {
	for _, j := range rf.jobs {
		switch j.Status {
		case StatusNew:
			return j
		case StatusFailed, StatusError:
			if retry {
				return j
			}
		}
	}

	return nil
}

// Running returns the jobs currently marked as running.
func (rf *RunFile) Running() []*Job {
	var res []*Job

	for _, j := range rf.jobs {
		if j.Status == StatusRunning {
			res = append(res, j)
		}
	}

	return res
}

// Count returns the number of jobs with the given status.
func (rf *RunFile) Count(s Status) int {
	n := 0

	for _, j := range rf.jobs {
		if j.Status == s {
			n++
		}
	}

	return n
}

// Changed returns the jobs whose status differs from what was read.
func (rf *RunFile) Changed() []*Job {
	var res []*Job

	for _, j := range rf.jobs {
		if j.Changed() {
			res = append(res, j)
		}
	}

	return res
}

// Bytes serializes the run file. Only the marker byte of changed jobs differs from the input.
func (rf *RunFile) Bytes() []byte {
	var buf bytes.Buffer

	for _, l := range rf.Lines {
		if l.Job == nil || !l.Job.Changed() {
			buf.Write(l.Raw)
			continue
		}

		buf.WriteByte(l.Job.Status.Marker())
		buf.Write(l.Raw[1:])
	}

	return buf.Bytes()
}

// markClean records the current status of every job as the status on disk.
func (rf *RunFile) markClean() {
	for _, j := range rf.jobs {
		j.read = j.Status
	}
}
