// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config reads linerun settings from a YAML or HCL file.
// Every field is optional; an unset field leaves the command line default in place.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrInvalidYaml is returned when a YAML config cannot be decoded.
	ErrInvalidYaml = errors.New("invalid YAML")
	// ErrInvalidHcl is returned when an HCL config cannot be decoded.
	ErrInvalidHcl = errors.New("invalid HCL")
	// ErrUnknownFormat is returned for a config file whose extension is not recognised.
	ErrUnknownFormat = errors.New("unknown config file format, expected .yaml, .yml or .hcl")
	// ErrInvalidValue is returned when a field holds a value outside its range.
	ErrInvalidValue = errors.New("invalid config value")
)

// Config holds the settings a config file may provide.
type Config struct {
	Jobs        *int    `yaml:"jobs,omitempty" hcl:"jobs,optional"`
	Logfile     *string `yaml:"logfile,omitempty" hcl:"logfile,optional"`
	Retry       *bool   `yaml:"retry,omitempty" hcl:"retry,optional"`
	OneOnly     *bool   `yaml:"one_only,omitempty" hcl:"one_only,optional"`
	Shell       *string `yaml:"shell,omitempty" hcl:"shell,optional"`
	Port        *int    `yaml:"port,omitempty" hcl:"port,optional"`
	Bind        *string `yaml:"bind,omitempty" hcl:"bind,optional"`
	Token       *string `yaml:"token,omitempty" hcl:"token,optional"`
	TokenFile   *string `yaml:"token_file,omitempty" hcl:"token_file,optional"`
	DialTimeout *string `yaml:"dial_timeout,omitempty" hcl:"dial_timeout,optional"`
}

// Environ returns the process environment. It is a variable so tests can stub it.
var Environ = os.Environ

// Decode parses data as the config file called name. The extension of name selects the format.
func Decode(name string, data []byte) (*Config, error) {
	cfg := new(Config)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYaml, name, err)
		}
	case ".hcl":
		if err := hclsimple.Decode(filepath.Base(name), data, evalContext(), cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHcl, name, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return cfg, nil
}

// evalContext exposes the environment to HCL expressions as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)

	for _, kv := range Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}

		vars[k] = cty.StringVal(v)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

func (c *Config) validate() error {
	if c.Jobs != nil && *c.Jobs < 0 {
		return fmt.Errorf("%w: jobs must not be negative, got %d", ErrInvalidValue, *c.Jobs)
	}

	if c.Port != nil && (*c.Port < 1 || *c.Port > 65535) {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidValue, *c.Port)
	}

	if c.DialTimeout != nil {
		if _, err := time.ParseDuration(*c.DialTimeout); err != nil {
			return fmt.Errorf("%w: dial_timeout: %v", ErrInvalidValue, err)
		}
	}

	return nil
}

// DialTimeoutDuration returns the parsed dial timeout and whether one was set.
func (c *Config) DialTimeoutDuration() (time.Duration, bool) {
	if c == nil || c.DialTimeout == nil {
		return 0, false
	}

	d, err := time.ParseDuration(*c.DialTimeout)
	if err != nil {
		return 0, false
	}

	return d, true
}

// YAML renders the config in its YAML form, leaving out unset fields.
func (c *Config) YAML() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return b, nil
}
