// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package flock provides process-wide shared file handles guarded by POSIX advisory record locks.
//
// fcntl record locks belong to the process, not to a file descriptor or goroutine: they do not
// exclude goroutines of the same process, and closing any descriptor of a file drops every lock the
// process holds on it. Handles are therefore shared per path within a process, and every lock is
// taken in two stages: an in-process semaphore first, then the fcntl lock.
package flock
