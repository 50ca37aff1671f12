// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package aggregator

import (
	"context"
	"sync"

	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
)

// Collector buffers one block per lease until the lease is committed.
// A Collector with a nil sink keeps nothing.
type Collector struct {
	sink   Sink
	mu     sync.Mutex
	blocks map[string]*Block
}

// NewCollector creates a Collector appending finished blocks to sink.
func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink, blocks: make(map[string]*Block)}
}

// Enabled reports whether blocks are kept.
func (c *Collector) Enabled() bool {
	return c != nil && c.sink != nil
}

// Start opens the block for a lease.
func (c *Collector) Start(lease, command string, owner runfile.Owner) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks[lease] = NewBlock(command, owner)
}

// Add records output for a lease. Output for an unknown lease is dropped.
func (c *Collector) Add(lease string, o events.Output) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.blocks[lease]; ok {
		b.Add(o)
	}
}

// Finish closes the block for a lease and appends it to the sink.
func (c *Collector) Finish(ctx context.Context, lease string, exitCode int) error {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	b, ok := c.blocks[lease]
	delete(c.blocks, lease)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	b.ExitCode = exitCode

	return c.sink.Append(ctx, b)
}

// Discard drops the block for a lease without writing it.
func (c *Collector) Discard(lease string) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.blocks, lease)
}

// Pending returns the number of open blocks.
func (c *Collector) Pending() int {
	if !c.Enabled() {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocks)
}
