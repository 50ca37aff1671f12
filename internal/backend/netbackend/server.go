// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package netbackend

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-FFFFFF/linerun/internal/backend"
	"github.com/matt-FFFFFF/linerun/internal/backend/coordinator"
	"github.com/matt-FFFFFF/linerun/internal/ctxlog"
	"github.com/matt-FFFFFF/linerun/internal/runfile"
	"github.com/matt-FFFFFF/linerun/internal/wire"
	"golang.org/x/time/rate"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

const idlePoll = 100 * time.Millisecond

const (
	// AuthFailureRate is the sustained rate at which bad tokens are rejected without delay.
	AuthFailureRate = rate.Limit(5)
	// AuthFailureBurst is the number of bad tokens rejected at once before pacing starts.
	AuthFailureBurst = 10

	// DefaultAuthTimeout bounds the wait for AUTH on a new connection.
	DefaultAuthTimeout = 10 * time.Second

	maxRejectDelay = 2 * time.Second
)

// Server answers workers on behalf of a coordinator.
type Server struct {
	coord *coordinator.Coordinator
	token []byte

	// authFailures paces rejections of bad tokens across all connections.
	authFailures *rate.Limiter
	authTimeout  time.Duration

	draining atomic.Bool
	wg       sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
}

// NewServer creates a server admitting workers that present token.
func NewServer(coord *coordinator.Coordinator, token string) *Server {
	return &Server{
		coord:        coord,
		token:        []byte(token),
		authFailures: rate.NewLimiter(AuthFailureRate, AuthFailureBurst),
		authTimeout:  DefaultAuthTimeout,
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Shutdown is called or ctx is done.
// It always returns a non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()

		return ErrServerClosed
	}

	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.closeAll() })
	defer stop()

	ctxlog.Info(ctx, "server listening", "addr", ln.Addr().String(), "file", s.coord.Path())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}

			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			return err //nolint:wrapcheck
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)

			s.handle(ctx, conn)
		}()
	}
}

// StartDrain makes the server answer every further claim with NONE.
func (s *Server) StartDrain() {
	s.draining.Store(true)
}

// Drain stops granting claims and waits until every granted claim has been committed or ctx is done.
func (s *Server) Drain(ctx context.Context) error {
	s.StartDrain()

	t := time.NewTicker(idlePoll)
	defer t.Stop()

	for s.coord.Live() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-t.C:
		}
	}

	return nil
}

// Shutdown stops accepting connections and waits for open connections to end.
// When ctx is done first, the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.StartDrain()

	s.mu.Lock()
	s.closed = true

	for ln := range s.listeners {
		_ = ln.Close()
	}

	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeAll()
		<-done

		return ctx.Err() //nolint:wrapcheck
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	for ln := range s.listeners {
		_ = ln.Close()
	}

	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.conns[c] = struct{}{}
	s.wg.Add(1)

	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, c)
	_ = c.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	ctx = ctxlog.With(ctx, "remote", conn.RemoteAddr().String())
	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	_ = conn.SetReadDeadline(time.Now().Add(s.authTimeout))

	m, err := r.Read()
	if err != nil {
		ctxlog.Debug(ctx, "connection closed before authentication", "error", err)
		return
	}

	if m.Verb != wire.VerbAuth {
		ctxlog.Warn(ctx, "request before authentication, closing connection", "verb", m.Verb.String())
		return
	}

	if subtle.ConstantTimeCompare([]byte(m.Token), s.token) != 1 {
		ctxlog.Warn(ctx, "invalid token, closing connection", "host", m.Host, "pid", m.PID)
		s.rejectSlowly(ctx)

		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	owner := m.Owner()
	ctx = ctxlog.With(ctx, "host", owner.Host, "pid", owner.PID)

	if err := w.Write(wire.OK()); err != nil {
		return
	}

	ctxlog.Debug(ctx, "worker authenticated")

	granted := make(map[string]struct{})
	defer s.warnAbandoned(ctx, granted)

	for {
		m, err := r.Read()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrUnknownVerb) {
				if werr := w.Write(wire.Err(errText(err))); werr != nil {
					return
				}

				continue
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				ctxlog.Debug(ctx, "connection read failed", "error", err)
			}

			return
		}

		reply, ok := s.dispatch(ctx, owner, m, granted)
		if !ok {
			continue
		}

		if err := w.Write(reply); err != nil {
			ctxlog.Debug(ctx, "connection write failed", "error", err)
			return
		}
	}
}

// rejectSlowly holds a rejected connection open until the failure limiter admits it,
// so guessing tokens costs time no matter how many connections are used.
func (s *Server) rejectSlowly(ctx context.Context) {
	if s.authFailures.Allow() {
		return
	}

	ctxlog.Debug(ctx, "authentication failures over limit, delaying close")

	ctx, cancel := context.WithTimeout(ctx, maxRejectDelay)
	defer cancel()

	if err := s.authFailures.Wait(ctx); err != nil {
		ctxlog.Debug(ctx, "delayed close cut short", "error", err)
	}
}

// dispatch answers one request. ok is false for requests that take no reply.
func (s *Server) dispatch(
	ctx context.Context, owner runfile.Owner, m wire.Message, granted map[string]struct{},
) (wire.Message, bool) {
	switch m.Verb {
	case wire.VerbClaim:
		if s.draining.Load() {
			return wire.None(), true
		}

		cl, err := s.coord.Claim(ctx, owner)
		if errors.Is(err, backend.ErrExhausted) {
			return wire.None(), true
		}

		if err != nil {
			ctxlog.Error(ctx, "claim failed", "error", err)
			return wire.Err(errText(err)), true
		}

		granted[cl.Lease] = struct{}{}

		return wire.Job(cl.Job, cl.Lease), true
	case wire.VerbStatus:
		if err := s.coord.Report(m.Lease, m.Output()); err != nil {
			ctxlog.Debug(ctx, "status for unknown lease", "lease", m.Lease)
		}

		return wire.Message{}, false
	case wire.VerbCommit:
		err := s.coord.Commit(context.WithoutCancel(ctx), m.Lease, backend.Outcome{
			Status:   m.Status,
			ExitCode: m.ExitCode,
			PID:      m.PID,
		})
		if err != nil {
			ctxlog.Warn(ctx, "commit rejected", "lease", m.Lease, "error", err)
			return wire.Err(errText(err)), true
		}

		delete(granted, m.Lease)

		return wire.OK(), true
	default:
		return wire.Err("unexpected " + m.Verb.String()), true
	}
}

func (s *Server) warnAbandoned(ctx context.Context, granted map[string]struct{}) {
	for lease := range granted {
		if s.coord.Holds(lease) {
			ctxlog.Warn(ctx, "connection closed while its job is still running", "lease", lease)
		}
	}
}

// errText flattens an error into a single protocol line.
func errText(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
