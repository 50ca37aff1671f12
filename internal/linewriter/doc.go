// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package linewriter provides an io.Writer that hands each complete line to a callback as soon as it is written.
package linewriter
