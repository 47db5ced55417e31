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
	"fmt"
	"io"
	"net"
	"time"

	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/google/uuid"
	"github.com/pires/go-proxyproto"
	"go.uber.org/zap"
)

const (
	minAcceptRetryDelay = time.Millisecond * 5
	maxAcceptRetryDelay = time.Second
)

// ListenTCP binds and listens on the ipv4 tcp addr.
func ListenTCP(ctx context.Context, addr string, opts sockopt.ListenerOpts) (net.Listener, error) {
	lc := net.ListenConfig{Control: sockopt.ListenerControl(opts)}
	l, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, nil
}

// Listen is like ListenTCP and moves s to StateListening.
func (s *Server) Listen(ctx context.Context, addr string, opts sockopt.ListenerOpts) (net.Listener, error) {
	if s.Closed() {
		return nil, ErrServerClosed
	}
	l, err := ListenTCP(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	s.m.Lock()
	if s.state == StateInit {
		s.state = StateListening
	}
	s.m.Unlock()
	return l, nil
}

// ServeTCP accepts connections from l and serves each one in its own
// goroutine. Accept errors are logged and retried with a backoff.
func (s *Server) ServeTCP(l net.Listener) error {
	if s.opts.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l}
	}
	defer l.Close()

	closer := io.Closer(l)
	if ok := s.trackCloser(&closer, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(&closer, false)

	s.m.Lock()
	if s.state < StateAccepting {
		s.state = StateAccepting
	}
	s.m.Unlock()
	s.logger.Info("echo server started", zap.Stringer("addr", l.Addr()), zap.Int("max_conns", s.opts.MaxConns))

	var retryDelay time.Duration
	for {
		if s.sem != nil {
			if err := s.sem.Acquire(s.closeCtx, 1); err != nil {
				return ErrServerClosed
			}
		}

		c, err := l.Accept()
		if err != nil {
			s.releaseSlot()
			if s.Closed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			if retryDelay == 0 {
				retryDelay = minAcceptRetryDelay
			} else if retryDelay *= 2; retryDelay > maxAcceptRetryDelay {
				retryDelay = maxAcceptRetryDelay
			}
			s.opts.Metrics.acceptFailed()
			s.logger.Warn("failed to accept connection", zap.Error(err), zap.Duration("retry_in", retryDelay))
			select {
			case <-time.After(retryDelay):
			case <-s.closeCtx.Done():
				return ErrServerClosed
			}
			continue
		}
		retryDelay = 0

		connCloser := io.Closer(c)
		if !s.trackCloser(&connCloser, true) {
			c.Close()
			s.releaseSlot()
			return ErrServerClosed
		}
		go func() {
			defer s.trackCloser(&connCloser, false)
			defer s.releaseSlot()
			defer c.Close()
			if !s.allowConn(c) {
				return
			}
			s.handleConn(c)
		}()
	}
}

// allowConn checks c against the per client rate limit.
// With PROXY protocol, RemoteAddr reads the header, so this must run
// in the connection worker, not in the accept loop.
func (s *Server) allowConn(c net.Conn) bool {
	if s.rl == nil {
		return true
	}
	remote := c.RemoteAddr()
	if s.rl.Allow(remote) {
		return true
	}
	s.opts.Metrics.connRejected()
	s.logger.Debug("connection rate limited", zap.Stringer("remote", remote))
	return false
}

func (s *Server) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// handleConn tunes c and echoes its messages until the peer
// disconnects or sends echo.Sentinel. Errors stay in this connection.
func (s *Server) handleConn(c net.Conn) {
	lg := s.logger.With(zap.String("conn_id", uuid.NewString()), zap.Stringer("remote", c.RemoteAddr()))
	m := s.opts.Metrics
	m.connOpened()
	defer m.connClosed()
	lg.Info("client connected")

	rs := s.opts.Tuner.Apply(c)
	rs.Log(lg)
	m.observeTuning(rs)
	if r, err := sockopt.ReadBack(c); err != nil {
		lg.Debug("cannot read back socket options", zap.Error(err))
	} else {
		lg.Info("effective socket options", zap.Object("sockopt", r))
	}

	ec := echo.NewConn(c, s.opts.Framing)
	for {
		if t := s.opts.IdleTimeout; t > 0 {
			c.SetReadDeadline(time.Now().Add(t))
		}
		msg, err := ec.ReadMsg()
		if err != nil {
			if errors.Is(err, io.EOF) || s.Closed() {
				lg.Info("client disconnected")
			} else {
				lg.Warn("failed to read message, closing connection", zap.Error(err))
			}
			return
		}
		m.msgReceived(len(msg))
		lg.Debug("message received", zap.ByteString("msg", msg))

		if err := ec.WriteReply(msg); err != nil {
			lg.Warn("failed to write reply", zap.Error(err))
			return
		}

		if echo.IsSentinel(msg) {
			lg.Info("client requested disconnect")
			return
		}
	}
}
