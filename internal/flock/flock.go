// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrLocked is returned by TryHold when another holder owns the file.
	ErrLocked = errors.New("file is locked by another holder")
	// ErrHeld is returned by Lock when this process holds the file for its lifetime.
	ErrHeld = errors.New("file is held by this process for exclusive use")
	// ErrModeMismatch is returned when a path is opened again with different flags.
	ErrModeMismatch = errors.New("file already open with different flags")
	// ErrUnsupported is returned on platforms without record locking.
	ErrUnsupported = errors.New("record locking is not supported on this platform")
	// ErrClosed is returned when using a handle after its last reference was closed.
	ErrClosed = errors.New("handle is closed")
)

var registry = struct {
	sync.Mutex
	m map[string]*Handle
}{m: make(map[string]*Handle)}

// Handle is an open file shared by every user of the same path within this process.
type Handle struct {
	path string
	flag int
	f    *os.File
	sem  chan struct{} // serializes lockers within this process
	refs int
	held bool
}

// OpenFile opens path, or returns the handle already open for it in this process.
// Every successful call must be paired with a call to Close.
func OpenFile(path string, flag int, perm os.FileMode) (*Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	registry.Lock()
	defer registry.Unlock()

	if h, ok := registry.m[abs]; ok {
		if h.flag != flag {
			return nil, fmt.Errorf("%w: %s", ErrModeMismatch, abs)
		}

		h.refs++

		return h, nil
	}

	f, err := os.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	h := &Handle{
		path: abs,
		flag: flag,
		f:    f,
		sem:  make(chan struct{}, 1),
		refs: 1,
	}
	registry.m[abs] = h

	return h, nil
}

// Path returns the absolute path of the file.
func (h *Handle) Path() string {
	return h.path
}

// Close drops one reference. The file is closed when the last reference goes.
func (h *Handle) Close() error {
	registry.Lock()
	defer registry.Unlock()

	if h.refs == 0 {
		return ErrClosed
	}

	h.refs--
	if h.refs > 0 {
		return nil
	}

	delete(registry.m, h.path)

	return h.f.Close() //nolint:wrapcheck
}

// Lock takes the in-process semaphore and then an exclusive record lock over the whole file.
// Waiting for the semaphore honours ctx; waiting for the record lock blocks without a deadline.
func (h *Handle) Lock(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}

	if h.isHeld() {
		<-h.sem
		return fmt.Errorf("%w: %s", ErrHeld, h.path)
	}

	if err := lockWait(h.f); err != nil {
		<-h.sem
		return fmt.Errorf("lock %s: %w", h.path, err)
	}

	return nil
}

// Unlock releases the record lock and the in-process semaphore taken by Lock.
func (h *Handle) Unlock() error {
	err := unlock(h.f)
	<-h.sem

	if err != nil {
		return fmt.Errorf("unlock %s: %w", h.path, err)
	}

	return nil
}

// TryHold takes an exclusive record lock over the whole file without waiting and keeps it until Release.
// While held, Lock on this handle fails with ErrHeld.
func (h *Handle) TryHold() error {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		return fmt.Errorf("%w: %s", ErrLocked, h.path)
	}

	registry.Lock()
	defer registry.Unlock()

	if h.held {
		return fmt.Errorf("%w: %s", ErrLocked, h.path)
	}

	if err := tryLock(h.f); err != nil {
		return fmt.Errorf("hold %s: %w", h.path, err)
	}

	h.held = true

	return nil
}

// Release gives up a hold taken with TryHold.
func (h *Handle) Release() error {
	registry.Lock()
	defer registry.Unlock()

	if !h.held {
		return nil
	}

	h.held = false

	if err := unlock(h.f); err != nil {
		return fmt.Errorf("release %s: %w", h.path, err)
	}

	return nil
}

func (h *Handle) isHeld() bool {
	registry.Lock()
	defer registry.Unlock()

	return h.held
}

// ReadAt implements io.ReaderAt.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off) //nolint:wrapcheck
}

// WriteAt implements io.WriterAt.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	return h.f.WriteAt(p, off) //nolint:wrapcheck
}

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	return h.f.Write(p) //nolint:wrapcheck
}

// Stat returns the file info of the underlying file.
func (h *Handle) Stat() (os.FileInfo, error) {
	return h.f.Stat() //nolint:wrapcheck
}

// Sync commits the file contents to stable storage.
func (h *Handle) Sync() error {
	return h.f.Sync() //nolint:wrapcheck
}
