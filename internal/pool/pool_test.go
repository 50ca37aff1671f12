// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

// queue hands out n jobs, then ErrExhausted or claimErr.
type queue struct {
	mu       sync.Mutex
	n        int
	next     int
	claimErr error
}

func (q *queue) Claim(context.Context) (*backend.Claim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.next >= q.n {
		if q.claimErr != nil {
			return nil, q.claimErr
		}

		return nil, backend.ErrExhausted
	}

	q.next++

	return &backend.Claim{
		Job:   runfile.Job{Index: q.next - 1, Number: q.next, Command: fmt.Sprintf("job %d", q.next), Status: runfile.StatusRunning},
		Lease: fmt.Sprintf("lease-%d", q.next),
	}, nil
}

func (q *queue) Report(context.Context, *backend.Claim, events.Output) error { return nil }

func (q *queue) Commit(context.Context, *backend.Claim, backend.Outcome) error { return nil }

func (q *queue) Close() error { return nil }

func (q *queue) claimed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.next
}

// runner decides the outcome of each job by its number and tracks concurrency.
type runner struct {
	delay   time.Duration
	outcome func(n int) runfile.Status
	err     func(n int) error

	running atomic.Int32
	peak    atomic.Int32
	ran     atomic.Int32
}

func (r *runner) Run(ctx context.Context, cl *backend.Claim) (backend.Outcome, error) {
	cur := r.running.Add(1)
	defer r.running.Add(-1)

	for {
		peak := r.peak.Load()
		if cur <= peak || r.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	r.ran.Add(1)

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return backend.Outcome{Status: runfile.StatusError, ExitCode: -1, Err: ctx.Err()}, nil
	}

	status := runfile.StatusDone
	if r.outcome != nil {
		status = r.outcome(cl.Job.Number)
	}

	var err error
	if r.err != nil {
		err = r.err(cl.Job.Number)
	}

	return backend.Outcome{Status: status}, err
}

func TestRunAllJobs(t *testing.T) {
	q := &queue{n: 20}
	r := &runner{delay: 5 * time.Millisecond}
	p := New(q, r, Options{Jobs: 4})

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Claimed: 20, Done: 20}, sum)
	assert.True(t, sum.OK())
	assert.EqualValues(t, 20, r.ran.Load())
	assert.LessOrEqual(t, r.peak.Load(), int32(4))
	assert.Greater(t, r.peak.Load(), int32(1))
}

func TestSizeDefaultsToCPUs(t *testing.T) {
	p := New(&queue{}, &runner{}, Options{})
	assert.Positive(t, p.Size())

	p = New(&queue{}, &runner{}, Options{Jobs: 3})
	assert.Equal(t, 3, p.Size())
}

func TestEmptyRunFile(t *testing.T) {
	sum, err := New(&queue{}, &runner{}, Options{Jobs: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.True(t, sum.OK())
}

func TestOutcomesCounted(t *testing.T) {
	r := &runner{outcome: func(n int) runfile.Status {
		switch n % 3 {
		case 0:
			return runfile.StatusFailed
		case 1:
			return runfile.StatusError
		default:
			return runfile.StatusDone
		}
	}}

	sum, err := New(&queue{n: 9}, r, Options{Jobs: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Claimed: 9, Done: 3, Failed: 3, Errored: 3}, sum)
	assert.False(t, sum.OK())
	assert.Equal(t, "9 claimed, 3 done, 3 failed, 3 errored", sum.String())
}

func TestClaimErrorStopsClaiming(t *testing.T) {
	q := &queue{n: 3, claimErr: errBoom}
	sum, err := New(q, &runner{}, Options{Jobs: 2}).Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, sum.Claimed)
	assert.Equal(t, 3, sum.Done)
}

func TestCommitErrorsAggregated(t *testing.T) {
	r := &runner{err: func(n int) error {
		if n%2 == 0 {
			return fmt.Errorf("commit %d: %w", n, errBoom)
		}

		return nil
	}}

	sum, err := New(&queue{n: 6}, r, Options{Jobs: 2}).Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "3 errors occurred")
	assert.Equal(t, 6, sum.Done)
}

func TestOneOnlyStopsAfterFirstDone(t *testing.T) {
	q := &queue{n: 10}
	r := &runner{outcome: func(n int) runfile.Status {
		if n < 3 {
			return runfile.StatusFailed
		}

		return runfile.StatusDone
	}}

	sum, err := New(q, r, Options{Jobs: 1, OneOnly: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Claimed: 3, Done: 1, Failed: 2}, sum)
	assert.Equal(t, 3, q.claimed())
}

func TestStopLetsRunningJobsFinish(t *testing.T) {
	q := &queue{n: 100}
	r := &runner{delay: 50 * time.Millisecond}
	p := New(q, r, Options{Jobs: 2})

	done := make(chan struct{})

	var sum Summary

	go func() {
		defer close(done)

		sum, _ = p.Run(context.Background())
	}()

	require.Eventually(t, func() bool { return r.running.Load() == 2 }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
	<-done

	assert.Less(t, sum.Claimed, 100)
	assert.Equal(t, sum.Claimed, sum.Done)
	assert.Equal(t, q.claimed(), sum.Claimed)
}

func TestCancelKillsRunningJobs(t *testing.T) {
	q := &queue{n: 100}
	r := &runner{delay: time.Minute}
	p := New(q, r, Options{Jobs: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var sum Summary

	go func() {
		defer close(done)

		sum, _ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return r.running.Load() == 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not return after cancel")
	}

	assert.Equal(t, Summary{Claimed: 3, Errored: 3}, sum)
}
