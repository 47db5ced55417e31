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

// Package sockopt applies and reads back per-connection TCP socket options.
package sockopt

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultBufferSize = 64 * 1024

// Option names, as reported in Result.Option.
const (
	OptNoDelay         = "TCP_NODELAY"
	OptSendBuffer      = "SO_SNDBUF"
	OptRecvBuffer      = "SO_RCVBUF"
	OptKeepAlive       = "SO_KEEPALIVE"
	OptKeepAlivePeriod = "TCP_KEEPIDLE"
	OptLinger          = "SO_LINGER"
)

var (
	ErrNotTCP      = errors.New("not a tcp connection")
	ErrUnsupported = errors.New("socket option read-back is not supported on this platform")
)

// Options is the set of socket options applied to each connection.
type Options struct {
	NoDelay    bool
	SendBuffer int // bytes, <= 0 leaves the os default.
	RecvBuffer int // bytes, <= 0 leaves the os default.
	KeepAlive  bool

	// KeepAlivePeriod is only applied if KeepAlive is set and it is > 0.
	KeepAlivePeriod time.Duration

	// Linger in seconds. <= 0 leaves it unset.
	Linger int
}

// DefaultOptions disables Nagle's algorithm, sets 64KiB send and receive
// buffers and enables keepalive.
func DefaultOptions() Options {
	return Options{
		NoDelay:    true,
		SendBuffer: DefaultBufferSize,
		RecvBuffer: DefaultBufferSize,
		KeepAlive:  true,
	}
}

// Result is the outcome of applying one option.
type Result struct {
	Option string
	Value  string // requested value
	Err    error
}

func (r Result) OK() bool {
	return r.Err == nil
}

type Results []Result

// Failed returns results that have a non-nil Err.
func (rs Results) Failed() Results {
	var f Results
	for _, r := range rs {
		if !r.OK() {
			f = append(f, r)
		}
	}
	return f
}

// Log writes one entry per result to lg.
func (rs Results) Log(lg *zap.Logger) {
	for _, r := range rs {
		if r.OK() {
			lg.Debug("socket option applied", zap.String("option", r.Option), zap.String("value", r.Value))
		} else {
			lg.Warn("failed to apply socket option", zap.String("option", r.Option), zap.String("value", r.Value), zap.Error(r.Err))
		}
	}
}

// Tuner applies a fixed Options to connections. It is safe for concurrent use.
type Tuner struct {
	opts Options
}

func NewTuner(opts Options) *Tuner {
	return &Tuner{opts: opts}
}

func (t *Tuner) Options() Options {
	return t.opts
}

// Apply applies t's options to c, best-effort. A failed option does not
// stop the others from being applied. Apply never panics and reports one
// Result per attempted option.
func (t *Tuner) Apply(c net.Conn) Results {
	o := t.opts
	tc, ok := tcpConn(c)

	var rs Results
	set := func(opt, value string, f func(tc *net.TCPConn) error) {
		r := Result{Option: opt, Value: value}
		if !ok {
			r.Err = ErrNotTCP
		} else {
			r.Err = f(tc)
		}
		rs = append(rs, r)
	}

	set(OptNoDelay, strconv.FormatBool(o.NoDelay), func(tc *net.TCPConn) error {
		return tc.SetNoDelay(o.NoDelay)
	})
	if o.SendBuffer > 0 {
		set(OptSendBuffer, strconv.Itoa(o.SendBuffer), func(tc *net.TCPConn) error {
			return tc.SetWriteBuffer(o.SendBuffer)
		})
	}
	if o.RecvBuffer > 0 {
		set(OptRecvBuffer, strconv.Itoa(o.RecvBuffer), func(tc *net.TCPConn) error {
			return tc.SetReadBuffer(o.RecvBuffer)
		})
	}
	set(OptKeepAlive, strconv.FormatBool(o.KeepAlive), func(tc *net.TCPConn) error {
		return tc.SetKeepAlive(o.KeepAlive)
	})
	if o.KeepAlive && o.KeepAlivePeriod > 0 {
		set(OptKeepAlivePeriod, o.KeepAlivePeriod.String(), func(tc *net.TCPConn) error {
			return tc.SetKeepAlivePeriod(o.KeepAlivePeriod)
		})
	}
	if o.Linger > 0 {
		set(OptLinger, strconv.Itoa(o.Linger), func(tc *net.TCPConn) error {
			return tc.SetLinger(o.Linger)
		})
	}
	return rs
}

// Report is the effective option state of a socket. Buffer sizes are what
// the os reports and may differ from the requested ones.
type Report struct {
	NoDelay    bool
	SendBuffer int
	RecvBuffer int
	KeepAlive  bool
}

func (r Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("no_delay", r.NoDelay)
	enc.AddInt("send_buffer", r.SendBuffer)
	enc.AddInt("recv_buffer", r.RecvBuffer)
	enc.AddBool("keepalive", r.KeepAlive)
	return nil
}

// ReadBack queries the effective options of c.
func ReadBack(c net.Conn) (Report, error) {
	tc, ok := tcpConn(c)
	if !ok {
		return Report{}, ErrNotTCP
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return Report{}, err
	}
	return readBack(rc)
}

type rawConner interface {
	Raw() net.Conn
}

type netConner interface {
	NetConn() net.Conn
}

// tcpConn unwraps c to its underlying *net.TCPConn.
func tcpConn(c net.Conn) (*net.TCPConn, bool) {
	for i := 0; i < 8 && c != nil; i++ {
		switch v := c.(type) {
		case *net.TCPConn:
			return v, true
		case rawConner: // proxy protocol conn
			c = v.Raw()
		case netConner: // tls conn
			c = v.NetConn()
		default:
			return nil, false
		}
	}
	return nil, false
}

// ListenerOpts are options applied to listening sockets before bind.
type ListenerOpts struct {
	ReuseAddr bool
}

type ControlFunc func(network, address string, c syscall.RawConn) error
