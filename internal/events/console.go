// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package events

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/matt-FFFFFF/linerun/internal/color"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// Console prints events as tagged lines, one write per line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report implements Reporter.
func (c *Console) Report(e Event) {
	line := Format(e)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = io.WriteString(c.w, line+"\n")
}

// Format renders the console line for an event, or "" for events that are not printed.
func Format(e Event) string {
	tag := fmt.Sprintf("(%s,%d)", e.Host, e.PID)

	switch e.Type {
	case EventClaimed:
		return fmt.Sprintf("executing `%s'", e.Job.Command)
	case EventStarted:
		return color.Colorize("status "+tag+":", color.FgCyan) + fmt.Sprintf(" forked \"%s\"", e.Job.Command)
	case EventOutput:
		switch e.Output.Stream {
		case StreamStdout:
			return "stdout " + tag + ": " + e.Output.Text
		case StreamStderr:
			return color.Colorize("stderr "+tag+":", color.FgYellow) + " " + e.Output.Text
		default:
			return ""
		}
	case EventFinished:
		var sb strings.Builder

		code := color.FgGreen
		if e.Status != runfile.StatusDone {
			code = color.FgRed
		}

		sb.WriteString(color.Colorize("status "+tag+":", color.FgCyan))
		sb.WriteString(" ")
		sb.WriteString(color.Colorize(fmt.Sprintf("exit %d", e.ExitCode), code))
		sb.WriteString(fmt.Sprintf(" \"%s\"", e.Job.Command))

		if e.Err != nil {
			sb.WriteString(" (" + e.Err.Error() + ")")
		}

		return sb.String()
	default:
		return ""
	}
}
