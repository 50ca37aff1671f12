// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package linewriter

import (
	"bytes"
	"sync"
)

// DefaultMaxLine is the longest line passed to the callback in one piece. Longer lines are split.
const DefaultMaxLine = 64 * 1024

// Writer splits written data into lines and calls fn for each complete one.
// Line terminators ("\n" or "\r\n") are stripped. It is safe for concurrent use.
type Writer struct {
	fn      func(line string)
	maxLine int
	mu      sync.Mutex
	partial []byte // data after the last newline
}

// New creates a Writer calling fn for every line.
func New(fn func(line string)) *Writer {
	return &Writer{fn: fn, maxLine: DefaultMaxLine}
}

// NewWithMax creates a Writer that splits lines longer than maxLine bytes.
func NewWithMax(fn func(line string), maxLine int) *Writer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}

	return &Writer{fn: fn, maxLine: maxLine}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)

	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}

		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}

	for len(w.partial) >= w.maxLine {
		w.fn(string(w.partial[:w.maxLine]))
		w.partial = w.partial[w.maxLine:]
	}

	// Release the consumed prefix of the backing array.
	w.partial = append([]byte(nil), w.partial...)

	return len(p), nil
}

// Flush passes any unterminated trailing data to the callback.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

// Partial returns the data written after the last newline.
func (w *Writer) Partial() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return string(w.partial)
}

func (w *Writer) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))

	for len(line) > w.maxLine {
		w.fn(string(line[:w.maxLine]))
		line = line[w.maxLine:]
	}

	w.fn(string(line))
}
