// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package color wraps console text in ANSI colour codes.
// Colour is used when stdout is a terminal, unless NO_COLOR is set. FORCE_COLOR enables it regardless of the terminal.
package color
