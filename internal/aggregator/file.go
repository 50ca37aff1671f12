// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package aggregator

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/matt-FFFFFF/linerun/internal/flock"
)

var (
	// ErrMissing is returned when the log file does not exist. It must be created before workers start.
	ErrMissing = errors.New("aggregator log file does not exist")
	// ErrAppend is returned when a block could not be written.
	ErrAppend = errors.New("could not append block to aggregator log")
)

// Sink receives finished blocks.
type Sink interface {
	Append(ctx context.Context, b *Block) error
}

// File is a Sink appending to a shared log file under an exclusive record lock.
type File struct {
	h *flock.Handle
}

// Open opens the log file at path for appending. The file must exist.
func Open(path string) (*File, error) {
	h, err := flock.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Join(ErrMissing, err)
	}

	if err != nil {
		return nil, errors.Join(ErrAppend, err)
	}

	return &File{h: h}, nil
}

// Path returns the absolute path of the log file.
func (f *File) Path() string {
	return f.h.Path()
}

// Append writes the block with a single write while holding the lock.
func (f *File) Append(ctx context.Context, b *Block) (err error) {
	if err := f.h.Lock(ctx); err != nil {
		return errors.Join(ErrAppend, err)
	}

	defer func() {
		if uerr := f.h.Unlock(); uerr != nil {
			err = errors.Join(err, ErrAppend, uerr)
		}
	}()

	if _, err := f.h.Write(b.Bytes()); err != nil {
		return errors.Join(ErrAppend, err)
	}

	if err := f.h.Sync(); err != nil {
		return errors.Join(ErrAppend, err)
	}

	return nil
}

// Close releases the file.
func (f *File) Close() error {
	return f.h.Close()
}
