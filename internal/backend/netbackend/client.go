// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package netbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/events"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/matt-FFFFFF/linerun/internal/wire"
)

const (
	// DefaultDialTimeout bounds connecting to the server.
	DefaultDialTimeout = 5 * time.Second
	// DefaultReplyTimeout bounds waiting for an answer to a request.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultAttempts is how often a claim or a commit is tried before giving up.
	DefaultAttempts = 5

	backoffBase = 200 * time.Millisecond

	// authRejectCloses is the number of consecutive silent closes during AUTH taken as a rejected token.
	authRejectCloses = 2
)

var (
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("server rejected the token")
	// ErrRejected is returned when the server answers a request with ERR.
	ErrRejected = errors.New("server rejected the request")
	// ErrProtocol is returned when the server answers with an unexpected message.
	ErrProtocol = errors.New("unexpected reply from server")
	// ErrConnect is returned when the server cannot be reached.
	ErrConnect = errors.New("could not reach server")

	errClosedOnAuth = errors.New("connection closed during authentication")
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Addr is the host:port of the server.
	Addr string
	// Token authenticates the worker.
	Token string
	// Owner identifies this worker. The zero value means backend.LocalOwner.
	Owner runfile.Owner
	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
	// ReplyTimeout defaults to DefaultReplyTimeout.
	ReplyTimeout time.Duration
	// Attempts bounds the tries of each claim and commit. It defaults to DefaultAttempts.
	Attempts int
}

// Client implements backend.Backend against a Server.
type Client struct {
	opts ClientOptions

	mu       sync.Mutex
	sessions map[string]*session // by lease
	closed   bool
}

var _ backend.Backend = (*Client)(nil)

type session struct {
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
	mu   sync.Mutex // one request in flight
}

// NewClient creates a client. No connection is made until the first claim.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Owner.IsZero() {
		o, err := backend.LocalOwner()
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		opts.Owner = o
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}

	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}

	return &Client{opts: opts, sessions: make(map[string]*session)}, nil
}

// Owner returns the identity this client claims jobs with.
func (c *Client) Owner() runfile.Owner {
	return c.opts.Owner
}

// dial connects and authenticates. The server answers a bad token by closing the connection,
// which looks the same as a dropped connection, so such failures carry errClosedOnAuth and
// the caller decides.
func (c *Client) dial(ctx context.Context) (*session, error) {
	d := net.Dialer{Timeout: c.opts.DialTimeout}

	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return nil, errors.Join(ErrConnect, err)
	}

	s := &session{conn: conn, r: wire.NewReader(conn), w: wire.NewWriter(conn)}

	reply, err := s.request(wire.Auth(c.opts.Token, c.opts.Owner), c.opts.ReplyTimeout)
	if err != nil {
		s.close()

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
			return nil, errors.Join(ErrConnect, errClosedOnAuth, err)
		}

		return nil, errors.Join(ErrConnect, err)
	}

	if reply.Verb != wire.VerbOK {
		s.close()
		return nil, fmt.Errorf("%w: %s after AUTH", ErrProtocol, reply.Verb)
	}

	return s, nil
}

// request sends m and waits for one reply.
func (s *session) request(m wire.Message, timeout time.Duration) (wire.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetDeadline(time.Now().Add(timeout))
	defer s.conn.SetDeadline(time.Time{}) //nolint:errcheck

	if err := s.w.Write(m); err != nil {
		return wire.Message{}, err //nolint:wrapcheck
	}

	return s.r.Read() //nolint:wrapcheck
}

// send writes m without waiting for a reply.
func (s *session) send(m wire.Message, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	defer s.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck

	return s.w.Write(m) //nolint:wrapcheck
}

func (s *session) close() {
	_ = s.conn.Close()
}

// Claim implements backend.Backend. Failures to reach the server are retried with backoff.
// ErrUnauthorized is returned once the server has closed the connection during AUTH
// authRejectCloses times in a row.
func (c *Client) Claim(ctx context.Context) (*backend.Claim, error) {
	var (
		lastErr error
		silent  int
	)

	for attempt := range c.opts.Attempts {
		if c.isClosed() {
			return nil, backend.ErrClosed
		}

		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return nil, errors.Join(lastErr, err)
			}
		}

		cl, err := c.claimOnce(ctx)

		switch {
		case err == nil:
			return cl, nil
		case errors.Is(err, errClosedOnAuth):
			silent++
			if silent >= authRejectCloses {
				return nil, fmt.Errorf("%w: connection closed during authentication %d times", ErrUnauthorized, silent)
			}
		case errors.Is(err, ErrConnect):
			silent = 0
		default:
			return nil, err
		}

		lastErr = err
		ctxlog.Warn(ctx, "claim failed, retrying", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("claim after %d attempts: %w", c.opts.Attempts, lastErr)
}

func (c *Client) claimOnce(ctx context.Context) (*backend.Claim, error) {
	s, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := s.request(wire.Claim(), c.opts.ReplyTimeout)
	if err != nil {
		s.close()
		return nil, errors.Join(ErrConnect, err)
	}

	switch reply.Verb {
	case wire.VerbJob:
	case wire.VerbNone:
		s.close()
		return nil, backend.ErrExhausted
	case wire.VerbErr:
		s.close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Text)
	default:
		s.close()
		return nil, fmt.Errorf("%w: %s after CLAIM", ErrProtocol, reply.Verb)
	}

	cl := &backend.Claim{
		Job: runfile.Job{
			Index:   -1,
			Number:  reply.Number,
			Command: reply.Command,
			Status:  runfile.StatusRunning,
			Owner:   c.opts.Owner,
		},
		Owner: c.opts.Owner,
		Lease: reply.Lease,
	}

	c.setSession(cl.Lease, s)

	ctxlog.Debug(ctx, "claimed job", "job", cl.Job.Number, "lease", cl.Lease)

	return cl, nil
}

// Report implements backend.Backend. Output is best effort: when the connection is broken the line is lost.
func (c *Client) Report(_ context.Context, cl *backend.Claim, o events.Output) error {
	s := c.session(cl.Lease)
	if s == nil {
		return fmt.Errorf("%w: %s", backend.ErrUnknownLease, cl.Lease)
	}

	return s.send(wire.Status(cl.Lease, o), c.opts.ReplyTimeout)
}

// Commit implements backend.Backend. A commit that fails on the connection is retried over a new one.
// A silent close during AUTH is retried too: the lease was granted, so the token is known to be good.
func (c *Client) Commit(ctx context.Context, cl *backend.Claim, o backend.Outcome) error {
	msg := wire.Commit(cl.Lease, o.Status, o.ExitCode, o.PID)

	var lastErr error

	for attempt := range c.opts.Attempts {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return errors.Join(lastErr, err)
			}
		}

		s := c.session(cl.Lease)
		if s == nil {
			var err error

			s, err = c.dial(ctx)
			if err != nil {
				lastErr = err
				ctxlog.Warn(ctx, "commit failed, retrying", "lease", cl.Lease, "attempt", attempt+1, "error", err)

				continue
			}

			c.setSession(cl.Lease, s)
		}

		reply, err := s.request(msg, c.opts.ReplyTimeout)
		if err != nil {
			c.dropSession(cl.Lease)
			lastErr = errors.Join(ErrConnect, err)
			ctxlog.Warn(ctx, "commit failed, retrying", "lease", cl.Lease, "attempt", attempt+1, "error", err)

			continue
		}

		c.dropSession(cl.Lease)

		switch reply.Verb {
		case wire.VerbOK:
			return nil
		case wire.VerbErr:
			return fmt.Errorf("%w: %s", ErrRejected, reply.Text)
		default:
			return fmt.Errorf("%w: %s after COMMIT", ErrProtocol, reply.Verb)
		}
	}

	return fmt.Errorf("commit %s after %d attempts: %w", cl.Lease, c.opts.Attempts, lastErr)
}

// Close implements backend.Backend. Connections of uncommitted claims are closed; those jobs stay running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	for lease, s := range c.sessions {
		s.close()
		delete(c.sessions, lease)
	}

	return nil
}

func (c *Client) session(lease string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessions[lease]
}

func (c *Client) setSession(lease string, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[lease] = s
}

func (c *Client) dropSession(lease string) {
	c.mu.Lock()
	s := c.sessions[lease]
	delete(c.sessions, lease)
	c.mu.Unlock()

	if s != nil {
		s.close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// backoff doubles per attempt with up to 50% jitter.
func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	return d + rand.N(d/2+1) //nolint:gosec
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-t.C:
		return nil
	}
}
