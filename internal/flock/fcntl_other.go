// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build !unix

package flock

import "os"

func lockWait(_ *os.File) error { return ErrUnsupported }

func tryLock(_ *os.File) error { return ErrUnsupported }

func unlock(_ *os.File) error { return ErrUnsupported }
