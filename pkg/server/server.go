/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of tcptune.
 *
 * tcptune is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * tcptune is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/rate_limiter"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConns = 1024
)

var (
	ErrServerClosed = errors.New("server closed")
)

// State is the lifecycle phase of a Server.
// Binding and listening happen in one call (see Server.Listen), so
// there is no separate bound state. Spawning a connection worker does
// not leave StateAccepting.
type State int32

const (
	StateInit State = iota
	StateListening
	StateAccepting
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ServerOpts struct {
	// Logger optionally specifies logger for the server logging.
	// A nil Logger will disables the logging.
	Logger *zap.Logger

	// Tuner is applied to every accepted connection.
	// Default is sockopt.DefaultOptions.
	Tuner *sockopt.Tuner

	// Framing, default is echo.FramingRaw.
	Framing echo.Framing

	// MaxConns limits the number of connections being served.
	// Accepting pauses while the limit is reached.
	// Zero means DefaultMaxConns, negative means no limit.
	MaxConns int

	// IdleTimeout closes a connection that has not sent a message
	// for this long. Zero means no timeout.
	IdleTimeout time.Duration

	// ConnRate limits how many new connections per second a single
	// client ip may open. Excess connections are closed right after
	// accept. Zero means no limit.
	ConnRate float64

	// ConnBurst is the burst size for ConnRate. Default is ConnRate.
	ConnBurst int

	// ProxyProtocol expects a PROXY protocol header on accepted connections.
	ProxyProtocol bool

	// Metrics, optional.
	Metrics *Metrics
}

func (opts *ServerOpts) init() {
	opts.Logger = mlog.OrNop(opts.Logger)
	if opts.Tuner == nil {
		opts.Tuner = sockopt.NewTuner(sockopt.DefaultOptions())
	}
	utils.SetDefaultString((*string)(&opts.Framing), string(echo.FramingRaw))
	utils.SetDefaultNum(&opts.MaxConns, DefaultMaxConns)
}

// Server is an echo server.
// Server.ServeTCP blocks and closes the net.Listener. It always returns
// a non-nil error. If Server was closed, the returned err is ErrServerClosed.
type Server struct {
	opts   ServerOpts
	logger *zap.Logger
	sem    *semaphore.Weighted   // nil if no limit
	rl     *rate_limiter.Limiter // nil if no limit

	closeCtx    context.Context
	closeCancel context.CancelFunc

	wg            sync.WaitGroup
	m             sync.Mutex
	state         State
	closerTracker map[*io.Closer]struct{}
}

func NewServer(opts ServerOpts) *Server {
	opts.init()
	s := &Server{
		opts:          opts,
		logger:        opts.Logger,
		closerTracker: make(map[*io.Closer]struct{}),
	}
	if opts.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConns))
	}
	if opts.ConnRate > 0 {
		s.rl = rate_limiter.NewLimiter(opts.ConnRate, opts.ConnBurst)
	}
	s.closeCtx, s.closeCancel = context.WithCancel(context.Background())
	return s
}

func (s *Server) State() State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

// Closed returns true if server was closed.
func (s *Server) Closed() bool {
	st := s.State()
	return st == StateShuttingDown || st == StateClosed
}

// trackCloser adds or removes c to the Server and return true if Server is not closed.
// Every added closer counts in the wait group used by Shutdown.
// We use a pointer in case the underlying value is incomparable.
func (s *Server) trackCloser(c *io.Closer, add bool) bool {
	s.m.Lock()
	defer s.m.Unlock()

	if add {
		if s.state >= StateShuttingDown {
			return false
		}
		s.closerTracker[c] = struct{}{}
		s.wg.Add(1)
	} else {
		if _, ok := s.closerTracker[c]; ok {
			delete(s.closerTracker, c)
			s.wg.Done()
		}
	}
	return true
}

// Close closes the Server, its listeners and all connections.
// It does not wait for connection workers to exit, see Shutdown.
func (s *Server) Close() {
	s.m.Lock()
	defer s.m.Unlock()

	if s.state >= StateShuttingDown {
		return
	}

	s.state = StateShuttingDown
	s.closeCancel()
	if s.rl != nil {
		s.rl.Close()
	}
	for closer := range s.closerTracker {
		(*closer).Close()
	}
}

// Shutdown closes the Server and waits until all listeners and
// connection workers exit, or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.m.Lock()
		s.state = StateClosed
		s.m.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
