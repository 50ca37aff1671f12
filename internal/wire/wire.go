// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// MaxLineLength is the longest line accepted, excluding the terminator.
const MaxLineLength = 1 << 20

var (
	// ErrMalformed is returned for a line that is not a valid message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownVerb is returned for a line starting with an unknown verb.
	ErrUnknownVerb = errors.New("unknown verb")
	// ErrInvalidField is returned when encoding a field that cannot be represented on the wire.
	ErrInvalidField = errors.New("field cannot be encoded")
	// ErrLineTooLong is returned when a line exceeds MaxLineLength.
	ErrLineTooLong = errors.New("line too long")
)

// Verb is the first field of a message.
type Verb int

// Message verbs.
const (
	VerbAuth Verb = iota + 1
	VerbOK
	VerbErr
	VerbClaim
	VerbJob
	VerbNone
	VerbStatus
	VerbCommit
)

var verbNames = map[Verb]string{
	VerbAuth:   "AUTH",
	VerbOK:     "OK",
	VerbErr:    "ERR",
	VerbClaim:  "CLAIM",
	VerbJob:    "JOB",
	VerbNone:   "NONE",
	VerbStatus: "STATUS",
	VerbCommit: "COMMIT",
}

// String implements the Stringer interface for Verb.
func (v Verb) String() string {
	if s, ok := verbNames[v]; ok {
		return s
	}

	return "UNKNOWN"
}

func parseVerb(s string) (Verb, bool) {
	s = strings.ToUpper(s)
	for v, name := range verbNames {
		if name == s {
			return v, true
		}
	}

	return 0, false
}

// Message is a decoded protocol line. Which fields are meaningful depends on the verb.
type Message struct {
	Verb Verb

	Token string // AUTH
	Host  string // AUTH
	PID   int    // AUTH, STATUS, COMMIT

	Lease   string // JOB, STATUS, COMMIT
	Number  int    // JOB
	Command string // JOB

	Stream events.Stream // STATUS
	Text   string        // STATUS, ERR

	Status   runfile.Status // COMMIT
	ExitCode int            // COMMIT
}

// Auth builds an AUTH message.
func Auth(token string, owner runfile.Owner) Message {
	return Message{Verb: VerbAuth, Token: token, Host: owner.Host, PID: owner.PID}
}

// OK builds an OK message.
func OK() Message { return Message{Verb: VerbOK} }

// Err builds an ERR message.
func Err(text string) Message { return Message{Verb: VerbErr, Text: text} }

// Claim builds a CLAIM message.
func Claim() Message { return Message{Verb: VerbClaim} }

// None builds a NONE message.
func None() Message { return Message{Verb: VerbNone} }

// Job builds a JOB message granting lease on job.
func Job(job runfile.Job, lease string) Message {
	return Message{Verb: VerbJob, Number: job.Number, Lease: lease, Command: job.Command}
}

// Status builds a STATUS message carrying one line of output for lease.
func Status(lease string, o events.Output) Message {
	return Message{Verb: VerbStatus, Lease: lease, PID: o.PID, Stream: o.Stream, Text: o.Text}
}

// Commit builds a COMMIT message.
func Commit(lease string, status runfile.Status, exitCode, pid int) Message {
	return Message{Verb: VerbCommit, Lease: lease, Status: status, ExitCode: exitCode, PID: pid}
}

// Owner returns the owner named by an AUTH message.
func (m Message) Owner() runfile.Owner {
	return runfile.Owner{Host: m.Host, PID: m.PID}
}

// Output returns the output carried by a STATUS message.
func (m Message) Output() events.Output {
	return events.Output{Stream: m.Stream, PID: m.PID, Text: m.Text}
}

// Encode renders m as one line including its terminator.
func Encode(m Message) ([]byte, error) {
	var fields []string

	switch m.Verb {
	case VerbAuth:
		if err := checkWords(m.Token, m.Host); err != nil {
			return nil, err
		}

		fields = []string{m.Token, m.Host, strconv.Itoa(m.PID)}
	case VerbOK, VerbClaim, VerbNone:
	case VerbErr:
		if m.Text != "" {
			fields = []string{m.Text}
		}
	case VerbJob:
		if err := checkWords(m.Lease); err != nil {
			return nil, err
		}

		if m.Command == "" {
			return nil, fmt.Errorf("%w: empty command", ErrInvalidField)
		}

		fields = []string{strconv.Itoa(m.Number), m.Lease, m.Command}
	case VerbStatus:
		if err := checkWords(m.Lease); err != nil {
			return nil, err
		}

		fields = []string{m.Lease, strconv.Itoa(m.PID), m.Stream.String(), m.Text}
	case VerbCommit:
		if err := checkWords(m.Lease); err != nil {
			return nil, err
		}

		fields = []string{m.Lease, string(m.Status.Marker()), strconv.Itoa(m.ExitCode), strconv.Itoa(m.PID)}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVerb, m.Verb)
	}

	var buf bytes.Buffer

	buf.WriteString(m.Verb.String())

	for _, f := range fields {
		buf.WriteByte(' ')
		buf.WriteString(f)
	}

	if bytes.IndexByte(buf.Bytes(), '\n') >= 0 {
		return nil, fmt.Errorf("%w: newline in %s message", ErrInvalidField, m.Verb)
	}

	if buf.Len() > MaxLineLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrLineTooLong, buf.Len())
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// checkWords verifies that each value is a single non-empty field.
func checkWords(values ...string) error {
	for _, v := range values {
		if v == "" || strings.ContainsAny(v, " \t\r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidField, v)
		}
	}

	return nil
}

// Parse decodes one line without its terminator.
func Parse(line []byte) (Message, error) {
	s := string(line)
	verbStr, rest, _ := strings.Cut(s, " ")

	verb, ok := parseVerb(verbStr)
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownVerb, verbStr)
	}

	m := Message{Verb: verb}

	switch verb {
	case VerbOK, VerbClaim, VerbNone:
		if rest != "" {
			return Message{}, malformed(verb, "unexpected arguments")
		}
	case VerbErr:
		m.Text = rest
	case VerbAuth:
		parts := strings.Split(rest, " ")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return Message{}, malformed(verb, "want token, host and pid")
		}

		pid, err := strconv.Atoi(parts[2])
		if err != nil {
			return Message{}, malformed(verb, "invalid pid")
		}

		m.Token, m.Host, m.PID = parts[0], parts[1], pid
	case VerbJob:
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return Message{}, malformed(verb, "want number, lease and command")
		}

		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return Message{}, malformed(verb, "invalid job number")
		}

		m.Number, m.Lease, m.Command = n, parts[1], parts[2]
	case VerbStatus:
		parts := strings.SplitN(rest, " ", 4)
		if len(parts) < 3 || parts[0] == "" {
			return Message{}, malformed(verb, "want lease, pid, stream and text")
		}

		pid, err := strconv.Atoi(parts[1])
		if err != nil {
			return Message{}, malformed(verb, "invalid pid")
		}

		stream, err := events.ParseStream(parts[2])
		if err != nil {
			return Message{}, malformed(verb, err.Error())
		}

		m.Lease, m.PID, m.Stream = parts[0], pid, stream
		if len(parts) == 4 {
			m.Text = parts[3]
		}
	case VerbCommit:
		parts := strings.Split(rest, " ")
		if len(parts) != 4 || parts[0] == "" || len(parts[1]) != 1 {
			return Message{}, malformed(verb, "want lease, marker, exit code and pid")
		}

		status, ok := runfile.StatusFromMarker(parts[1][0])
		if !ok {
			return Message{}, malformed(verb, "unknown marker")
		}

		code, err := strconv.Atoi(parts[2])
		if err != nil {
			return Message{}, malformed(verb, "invalid exit code")
		}

		pid, err := strconv.Atoi(parts[3])
		if err != nil {
			return Message{}, malformed(verb, "invalid pid")
		}

		m.Lease, m.Status, m.ExitCode, m.PID = parts[0], status, code, pid
	}

	return m, nil
}

func malformed(v Verb, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, v, detail)
}
