// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package flock

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func wholeFile(typ int16) *unix.Flock_t {
	return &unix.Flock_t{
		Type:   typ,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0, // to end of file, however far it grows
	}
}

func lockWait(f *os.File) error {
	for {
		err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, wholeFile(unix.F_WRLCK))
		if errors.Is(err, unix.EINTR) {
			continue
		}

		return err //nolint:wrapcheck
	}
}

func tryLock(f *os.File) error {
	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, wholeFile(unix.F_WRLCK))
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}

	return err //nolint:wrapcheck
}

func unlock(f *os.File) error {
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, wholeFile(unix.F_UNLCK)) //nolint:wrapcheck
}
