// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package runfile models the shared run file: an ordered list of lines, each either a job record
// (`<marker> <command>`) or a passthrough line that is preserved byte for byte.
//
// The file on disk is only ever changed by rewriting single marker bytes in place, so line
// order, line count and file length never change. All access to the file on disk goes
// through Store.Update, which re-reads the file inside the caller's critical section.
package runfile
