// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package wire

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// Reader reads messages from a connection.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Read returns the next message. Empty lines are skipped.
// A line longer than MaxLineLength yields ErrLineTooLong and the stream should be abandoned.
func (r *Reader) Read() (Message, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Message{}, err
		}

		if len(line) == 0 {
			continue
		}

		return Parse(line)
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte

	for {
		chunk, err := r.br.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineLength+1 {
			return nil, ErrLineTooLong
		}

		line = append(line, chunk...)

		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err //nolint:wrapcheck
		}
	}
}

// Writer writes whole messages to a connection. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes m and writes it with a single call.
func (w *Writer) Write(m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	_, err = w.w.Write(b)

	return err //nolint:wrapcheck
}
