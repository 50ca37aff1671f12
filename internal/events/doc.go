// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package events defines the status events emitted while jobs are claimed, executed and committed,
// and the reporters that consume them.
package events
