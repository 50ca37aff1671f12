// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package token

import (
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/prashantv/gostub"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFS(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	stubs := gostub.Stub(&FS, fs)
	t.Cleanup(stubs.Reset)

	return fs
}

func TestGenerate(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{16}$`)
	seen := make(map[string]struct{})

	for range 50 {
		tok, err := Generate()
		require.NoError(t, err)
		assert.Regexp(t, re, tok)

		seen[tok] = struct{}{}
	}

	assert.Len(t, seen, 50)
}

func TestWriteFileThenResolve(t *testing.T) {
	fs := memFS(t)

	require.NoError(t, WriteFile("/home/u/.linerun.token", "ABC123"))

	fi, err := fs.Stat("/home/u/.linerun.token")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	tok, err := Resolve("/home/u/.linerun.token")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", tok)
}

func TestWriteFileNeverOverwrites(t *testing.T) {
	fs := memFS(t)
	require.NoError(t, afero.WriteFile(fs, "/t.token", []byte("OLD\n"), 0o600))

	err := WriteFile("/t.token", "NEW")
	require.ErrorIs(t, err, ErrExists)

	tok, err := ReadFile("/t.token")
	require.NoError(t, err)
	assert.Equal(t, "OLD", tok)
}

func TestResolveLiteral(t *testing.T) {
	memFS(t)

	tok, err := Resolve("SECRET")
	require.NoError(t, err)
	assert.Equal(t, "SECRET", tok)

	_, err = Resolve("  ")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestResolveMissingOrEmptyFile(t *testing.T) {
	fs := memFS(t)

	_, err := Resolve("/missing.token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, afero.WriteFile(fs, "/empty.token", []byte(" \n"), 0o600))
	_, err = Resolve("/empty.token")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestRemove(t *testing.T) {
	fs := memFS(t)
	require.NoError(t, WriteFile("/r.token", "X"))
	require.NoError(t, Remove("/r.token"))

	exists, err := afero.Exists(fs, "/r.token")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, Remove("/r.token"))
}

func TestDefaultPath(t *testing.T) {
	stubs := gostub.StubFunc(&HomeDir, "/home/someone", nil)
	defer stubs.Reset()

	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/home/someone/.linerun.token", p)

	stubs.StubFunc(&HomeDir, "", errors.New("no home"))
	_, err = DefaultPath()
	require.Error(t, err)
}
