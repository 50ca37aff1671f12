// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYAML(t *testing.T) {
	data := []byte(`
jobs: 4
logfile: /var/log/linerun.log
retry: true
one_only: false
port: 9000
dial_timeout: 2s
`)

	cfg, err := Decode("linerun.yaml", data)
	require.NoError(t, err)
	require.NotNil(t, cfg.Jobs)
	assert.Equal(t, 4, *cfg.Jobs)
	assert.Equal(t, "/var/log/linerun.log", *cfg.Logfile)
	assert.True(t, *cfg.Retry)
	assert.False(t, *cfg.OneOnly)
	assert.Equal(t, 9000, *cfg.Port)
	assert.Nil(t, cfg.Bind)
	assert.Nil(t, cfg.Token)

	d, ok := cfg.DialTimeoutDuration()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestDecodeYAMLRejectsUnknownField(t *testing.T) {
	_, err := Decode("c.yml", []byte("jobz: 4\n"))
	require.ErrorIs(t, err, ErrInvalidYaml)
}

func TestDecodeHCL(t *testing.T) {
	stubs := gostub.StubFunc(&Environ, []string{"LINERUN_TEST_HOME=/home/ci", "EMPTY="})
	defer stubs.Reset()

	data := []byte(`
jobs       = 2
token_file = "${env.LINERUN_TEST_HOME}/.linerun.token"
bind       = "127.0.0.1"
retry      = true
`)

	cfg, err := Decode("linerun.hcl", data)
	require.NoError(t, err)
	assert.Equal(t, 2, *cfg.Jobs)
	assert.Equal(t, "/home/ci/.linerun.token", *cfg.TokenFile)
	assert.Equal(t, "127.0.0.1", *cfg.Bind)
	assert.True(t, *cfg.Retry)
	assert.Nil(t, cfg.Port)

	_, ok := cfg.DialTimeoutDuration()
	assert.False(t, ok)
}

func TestDecodeHCLErrors(t *testing.T) {
	_, err := Decode("c.hcl", []byte(`unknown = 1`))
	require.ErrorIs(t, err, ErrInvalidHcl)

	_, err = Decode("c.hcl", []byte(`jobs = "many"`))
	require.ErrorIs(t, err, ErrInvalidHcl)
}

func TestDecodeValidation(t *testing.T) {
	cases := map[string]string{
		"negative jobs": "jobs: -1\n",
		"port too high": "port: 70000\n",
		"bad timeout":   "dial_timeout: soon\n",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("c.yaml", []byte(data))
			require.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode("c.toml", []byte("jobs = 1"))
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestYAMLOmitsUnset(t *testing.T) {
	jobs := 3
	cfg := &Config{Jobs: &jobs}

	b, err := cfg.YAML()
	require.NoError(t, err)
	assert.Equal(t, "jobs: 3\n", string(b))
}

func TestLoadLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "linerun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: 7\nshell: /bin/bash -c\n"), 0o600))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 7, *cfg.Jobs)
	assert.Equal(t, "/bin/bash -c", *cfg.Shell)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), "")
	require.ErrorIs(t, err, ErrGetConfigFile)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrGetConfigFile)
}

func TestSplitFileNameFromGetterURL(t *testing.T) {
	cases := []struct {
		url, wantURL, wantFile string
	}{
		{
			url:      "git::https://github.com/org/repo//conf/linerun.yaml?ref=v1",
			wantURL:  "git::https://github.com/org/repo//conf?ref=v1",
			wantFile: "linerun.yaml",
		},
		{
			url:      "git::https://github.com/org/repo//linerun.hcl",
			wantURL:  "git::https://github.com/org/repo",
			wantFile: "linerun.hcl",
		},
		{
			url: "https://example.com/linerun.yaml",
		},
	}

	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			u, f := splitFileNameFromGetterURL(tc.url)
			assert.Equal(t, tc.wantURL, u)
			assert.Equal(t, tc.wantFile, f)
		})
	}
}
