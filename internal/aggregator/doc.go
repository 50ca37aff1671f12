// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package aggregator collects the output of each job into a block and appends finished blocks to a shared log file.
//
// A block looks like this:
//
//	.-> make test (in /src)
//	: stdout (node1,4242): ok
//	! stderr (node1,4242): warning: deprecated
//	+ status (node1,4242): exit 0 "make test"
//
// Blocks are appended whole while holding the file lock, so blocks from different workers never interleave.
package aggregator
