// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package aggregator

import (
	"bytes"
	"fmt"

	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// MaxBlockSize bounds the output lines kept for one job.
const MaxBlockSize = 8 << 20

// Block is the aggregated output of one job.
type Block struct {
	Command  string
	Cwd      string
	Host     string
	PID      int // pid of the job process once forked, the worker pid before that
	ExitCode int

	lines     []string
	size      int
	truncated bool
}

// NewBlock creates an empty block for a job claimed by owner.
func NewBlock(command string, owner runfile.Owner) *Block {
	return &Block{Command: command, Host: owner.Host, PID: owner.PID}
}

// Add records one output event.
func (b *Block) Add(o events.Output) {
	switch o.Stream {
	case events.StreamForked:
		b.Cwd = o.Text
		if o.PID != 0 {
			b.PID = o.PID
		}
	case events.StreamStdout:
		b.add(": stdout " + b.tag() + ": " + o.Text)
	case events.StreamStderr:
		b.add("! stderr " + b.tag() + ": " + o.Text)
	}
}

// Truncated reports whether lines were dropped because the block grew past MaxBlockSize.
func (b *Block) Truncated() bool {
	return b.truncated
}

// Lines returns the output lines recorded so far.
func (b *Block) Lines() []string {
	return b.lines
}

// Bytes renders the block, ending with its status line.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer

	buf.Grow(b.size + 2*len(b.Command) + len(b.Cwd) + 64)

	buf.WriteString(".-> " + b.Command)

	if b.Cwd != "" {
		buf.WriteString(" (in " + b.Cwd + ")")
	}

	buf.WriteByte('\n')

	for _, l := range b.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}

	fmt.Fprintf(&buf, "+ status %s: exit %d \"%s\"\n", b.tag(), b.ExitCode, b.Command)

	return buf.Bytes()
}

func (b *Block) add(line string) {
	if b.truncated {
		return
	}

	if b.size+len(line)+1 > MaxBlockSize {
		b.truncated = true
		b.lines = append(b.lines, "! status "+b.tag()+": output truncated")

		return
	}

	b.lines = append(b.lines, line)
	b.size += len(line) + 1
}

func (b *Block) tag() string {
	return fmt.Sprintf("(%s,%d)", b.Host, b.PID)
}
