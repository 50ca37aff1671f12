// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package runfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrExhausted is returned by a claim when no claimable job is left.
	ErrExhausted = errors.New("no claimable job left")
	// ErrClaimLost is returned when a claimed line no longer holds the claimed running job.
	ErrClaimLost = errors.New("claimed job is no longer running on its line")
	// ErrInvalidTerminal is returned when a commit names a status that is not terminal.
	ErrInvalidTerminal = errors.New("commit status is not terminal")
	// ErrConcurrentEdit is returned when a marker on disk changed between read and write.
	ErrConcurrentEdit = errors.New("run file was modified without holding the lock")
	// ErrLock is returned when the critical section could not be entered.
	ErrLock = errors.New("could not lock run file")
	// ErrRead is returned when the run file could not be read.
	ErrRead = errors.New("could not read run file")
	// ErrWrite is returned when a marker could not be written.
	ErrWrite = errors.New("could not write run file")
)

// File is the subset of *os.File the store needs.
type File interface {
	io.ReaderAt
	io.WriterAt
	Stat() (os.FileInfo, error)
	Sync() error
}

// Locker guards the critical section around a store transaction.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// Store gives transactional access to a run file on disk.
type Store struct {
	f    File
	lock Locker
}

// NewStore creates a store over f, using lock as its critical section.
func NewStore(f File, lock Locker) *Store {
	return &Store{f: f, lock: lock}
}

// Update enters the critical section, re-reads the file and runs fn with a transaction over it.
// If fn returns nil, every changed marker is written back in place before the section is left.
// If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if err := s.lock.Lock(ctx); err != nil {
		return errors.Join(ErrLock, err)
	}

	defer func() {
		if uerr := s.lock.Unlock(); uerr != nil {
			err = errors.Join(err, ErrLock, uerr)
		}
	}()

	rf, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(&Tx{rf: rf}); err != nil {
		return err
	}

	return s.flush(rf)
}

// View enters the critical section, re-reads the file and passes it to fn. Changes made by fn are discarded.
func (s *Store) View(ctx context.Context, fn func(rf *RunFile) error) (err error) {
	if err := s.lock.Lock(ctx); err != nil {
		return errors.Join(ErrLock, err)
	}

	defer func() {
		if uerr := s.lock.Unlock(); uerr != nil {
			err = errors.Join(err, ErrLock, uerr)
		}
	}()

	rf, err := s.load()
	if err != nil {
		return err
	}

	return fn(rf)
}

func (s *Store) load() (*RunFile, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return nil, errors.Join(ErrRead, err)
	}

	data, err := io.ReadAll(io.NewSectionReader(s.f, 0, fi.Size()))
	if err != nil {
		return nil, errors.Join(ErrRead, err)
	}

	return Parse(data), nil
}

// flush writes the marker of every changed job. All markers are verified before any is written.
func (s *Store) flush(rf *RunFile) error {
	changed := rf.Changed()
	if len(changed) == 0 {
		return nil
	}

	b := make([]byte, 1)

	for _, j := range changed {
		if _, err := s.f.ReadAt(b, j.Offset); err != nil {
			return errors.Join(ErrRead, err)
		}

		if b[0] != j.read.Marker() {
			return fmt.Errorf("%w: job %d marker is %q, expected %q", ErrConcurrentEdit, j.Number, b[0], j.read.Marker())
		}
	}

	for _, j := range changed {
		b[0] = j.Status.Marker()
		if _, err := s.f.WriteAt(b, j.Offset); err != nil {
			return errors.Join(ErrWrite, err)
		}
	}

	if err := s.f.Sync(); err != nil {
		return errors.Join(ErrWrite, err)
	}

	rf.markClean()

	return nil
}

// Tx is a transaction over a freshly read run file.
type Tx struct {
	rf *RunFile
}

// RunFile returns the run file the transaction operates on.
func (tx *Tx) RunFile() *RunFile {
	return tx.rf
}

// ClaimNext marks the lowest-index claimable job as running for owner and returns a copy of it.
// It returns ErrExhausted when there is nothing to claim.
func (tx *Tx) ClaimNext(owner Owner, retry bool) (Job, error) {
	j := tx.rf.NextClaimable(retry)
	if j == nil {
		return Job{}, ErrExhausted
	}

	j.Status = StatusRunning
	j.Owner = owner

	return *j, nil
}

// Finish moves a job claimed earlier to a terminal status.
// The line must still hold the same command at the same offset with a running marker.
func (tx *Tx) Finish(claimed Job, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidTerminal, status)
	}

	j := tx.rf.Job(claimed.Index)
	if j == nil || j.Offset != claimed.Offset || j.Command != claimed.Command {
		return fmt.Errorf("%w: line %d was edited", ErrClaimLost, claimed.Index+1)
	}

	if j.Status != StatusRunning {
		return fmt.Errorf("%w: job %d is %s", ErrClaimLost, j.Number, j.Status)
	}

	j.Status = status

	return nil
}
