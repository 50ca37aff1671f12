// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package flock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func tempFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shared.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	return path
}

func TestOpenFile_SharesHandle(t *testing.T) {
	path := tempFile(t)

	h1, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	h2, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	assert.Same(t, h1, h2)

	_, err = OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.ErrorIs(t, err, ErrModeMismatch)

	require.NoError(t, h1.Close())
	require.NoError(t, h2.Close())
	require.ErrorIs(t, h2.Close(), ErrClosed)

	h3, err := OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	assert.NotSame(t, h1, h3)
	require.NoError(t, h3.Close())
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing"), os.O_RDWR, 0)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLock_SerializesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := tempFile(t)

	h, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	defer h.Close() //nolint:errcheck

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 20 {
				if !assert.NoError(t, h.Lock(context.Background())) {
					return
				}

				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}

				inside.Add(-1)
				assert.NoError(t, h.Unlock())
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLock_ContextCancelledWhileWaiting(t *testing.T) {
	path := tempFile(t)

	h, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	defer h.Close() //nolint:errcheck

	require.NoError(t, h.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = h.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, h.Unlock())
}

func TestTryHold(t *testing.T) {
	path := tempFile(t)

	h, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	defer h.Close() //nolint:errcheck

	require.NoError(t, h.TryHold())
	require.ErrorIs(t, h.TryHold(), ErrLocked)
	require.ErrorIs(t, h.Lock(context.Background()), ErrHeld)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())

	require.NoError(t, h.Lock(context.Background()))
	require.ErrorIs(t, h.TryHold(), ErrLocked)
	require.NoError(t, h.Unlock())
}

func TestReadWrite(t *testing.T) {
	path := tempFile(t)

	h, err := OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	defer h.Close() //nolint:errcheck

	_, err = h.WriteAt([]byte("y"), 0)
	require.NoError(t, err)
	require.NoError(t, h.Sync())

	b := make([]byte, 2)
	_, err = h.ReadAt(b, 0)
	require.NoError(t, err)
	assert.Equal(t, "y\n", string(b))

	fi, err := h.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(2), fi.Size())
	assert.Equal(t, path, h.Path())
}
