// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package show implements the show command, a read-only summary of a run file.
package show

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/matt-FFFFFF/linerun/internal/color"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/urfave/cli/v3"
)

const (
	fileArg = "file"
)

var (
	// ErrReadFile is returned when the run file cannot be read.
	ErrReadFile = errors.New("failed to read run file")
	// ErrWriteSummary is returned when the summary cannot be written.
	ErrWriteSummary = errors.New("failed to write summary")
)

var order = []runfile.Status{
	runfile.StatusNew,
	runfile.StatusRunning,
	runfile.StatusDone,
	runfile.StatusFailed,
	runfile.StatusError,
}

// ShowCmd is the command that summarises the state of a run file.
var ShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Summarise the state of a run file",
	Description: `Count the jobs of a run file by status and list those marked running.
The file is only read, so this is safe while workers are busy with it.`,
	ArgsUsage: "RUNFILE",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name: fileArg,
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		data, err := os.ReadFile(cmd.StringArg(fileArg))
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}

		if err := Summarise(cmd.Writer, runfile.Parse(data)); err != nil {
			return errors.Join(ErrWriteSummary, err)
		}

		return nil
	},
}

// Summarise writes the job count per status, then one line per running job.
func Summarise(w io.Writer, rf *runfile.RunFile) error {
	if _, err := fmt.Fprintf(w, "%d jobs\n", len(rf.Jobs())); err != nil {
		return err //nolint:wrapcheck
	}

	for _, s := range order {
		line := fmt.Sprintf("  %c %-8s %d", s.Marker(), s.String(), rf.Count(s))
		if _, err := fmt.Fprintln(w, color.Colorize(line, statusColor(s)...)); err != nil {
			return err //nolint:wrapcheck
		}
	}

	for _, j := range rf.Running() {
		if _, err := fmt.Fprintf(w, "running: %s\n", j); err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}

func statusColor(s runfile.Status) []color.Code {
	switch s {
	case runfile.StatusDone:
		return []color.Code{color.FgGreen}
	case runfile.StatusFailed, runfile.StatusError:
		return []color.Code{color.FgRed}
	case runfile.StatusRunning:
		return []color.Code{color.FgYellow}
	default:
		return nil
	}
}
