// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package token creates and resolves the shared secret that network workers present to a server.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	// Length is the number of characters in a generated token.
	Length = 16
	// Suffix marks a value as the path of a token file rather than a literal token.
	Suffix = ".token"

	alphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultName    = ".linerun" + Suffix
	tokenFilePerms = 0o600
)

var (
	// ErrExists is returned by WriteFile when the token file is already present.
	ErrExists = errors.New("token file already exists")
	// ErrEmpty is returned when a token file holds no token.
	ErrEmpty = errors.New("token is empty")
	// ErrGenerate is returned when no random token could be produced.
	ErrGenerate = errors.New("could not generate token")
)

// FS is the filesystem token files are read from and written to.
var FS = afero.NewOsFs()

// HomeDir resolves the directory holding the default token file. It is a variable so tests can stub it.
var HomeDir = os.UserHomeDir

// Generate returns a new random token of Length upper case letters and digits.
func Generate() (string, error) {
	var sb strings.Builder

	sb.Grow(Length)

	limit := big.NewInt(int64(len(alphabet)))

	for range Length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.Join(ErrGenerate, err)
		}

		sb.WriteByte(alphabet[n.Int64()])
	}

	return sb.String(), nil
}

// DefaultPath returns the token file used when none is given.
func DefaultPath() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, defaultName), nil
}

// WriteFile creates path holding tok. An existing file is never overwritten.
func WriteFile(path, tok string) error {
	f, err := FS.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, tokenFilePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}

		return fmt.Errorf("create token file %s: %w", path, err)
	}

	if _, err := f.WriteString(tok + "\n"); err != nil {
		_ = f.Close()
		_ = FS.Remove(path)

		return fmt.Errorf("write token file %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close token file %s: %w", path, err)
	}

	return nil
}

// ReadFile returns the token held in path, without surrounding whitespace.
func ReadFile(path string) (string, error) {
	b, err := afero.ReadFile(FS, path)
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", path, err)
	}

	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	return tok, nil
}

// Resolve turns a token flag value into a token.
// A value ending in Suffix is read as a token file, anything else is the token itself.
func Resolve(value string) (string, error) {
	if strings.HasSuffix(value, Suffix) {
		return ReadFile(value)
	}

	if strings.TrimSpace(value) == "" {
		return "", ErrEmpty
	}

	return value, nil
}

// Remove deletes the token file. A file that is already gone is not an error.
func Remove(path string) error {
	if err := FS.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file %s: %w", path, err)
	}

	return nil
}
