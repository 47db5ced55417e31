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

package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/IrineSistiana/tcptune/mlog"
	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/IrineSistiana/tcptune/pkg/utils"
	"go.uber.org/zap"
)

const (
	DefaultPort     = 8080
	DefaultAddr     = "127.0.0.1:8080"
	DefaultCount    = 5
	DefaultInterval = time.Second

	// MessageFormat is the greeting sent by Run, formatted with its index.
	MessageFormat = "Hello Server! Message #%d"
)

type Opts struct {
	// Addr is the server "host:port". If port is omitted, DefaultPort is used.
	Addr string

	// Tuner is applied to the connection after dialing.
	// Default is sockopt.DefaultOptions.
	Tuner *sockopt.Tuner

	Framing echo.Framing

	// Count is the number of greetings sent by Run.
	Count int

	// Interval is the delay after each greeting.
	Interval time.Duration

	// DialTimeout, zero means no timeout.
	DialTimeout time.Duration

	// IOTimeout is the deadline of each write and the read that follows it.
	// Zero means no timeout.
	IOTimeout time.Duration

	// Logger optionally specifies logger for the client logging.
	Logger *zap.Logger
}

func (o *Opts) init() {
	utils.SetDefaultString(&o.Addr, DefaultAddr)
	o.Addr = utils.TryAddPort(o.Addr, DefaultPort)
	if o.Tuner == nil {
		o.Tuner = sockopt.NewTuner(sockopt.DefaultOptions())
	}
	utils.SetDefaultString((*string)(&o.Framing), string(echo.FramingRaw))
	utils.SetDefaultNum(&o.Count, DefaultCount)
	utils.SetDefaultNum(&o.Interval, DefaultInterval)
	o.Logger = mlog.OrNop(o.Logger)
}

// Client is a connected echo session. It is not safe for concurrent use.
type Client struct {
	opts   Opts
	logger *zap.Logger
	c      net.Conn
	ec     *echo.Conn
}

// Dial connects to opts.Addr and tunes the connection.
func Dial(ctx context.Context, opts Opts) (*Client, error) {
	opts.init()
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp4", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
	}

	lg := opts.Logger.With(zap.Stringer("server", c.RemoteAddr()))
	lg.Info("connected to server")
	opts.Tuner.Apply(c).Log(lg)
	if r, err := sockopt.ReadBack(c); err != nil {
		lg.Debug("cannot read back socket options", zap.Error(err))
	} else {
		lg.Info("effective socket options", zap.Object("sockopt", r))
	}

	return &Client{
		opts:   opts,
		logger: lg,
		c:      c,
		ec:     echo.NewConn(c, opts.Framing),
	}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() net.Conn {
	return c.c
}

// Send writes msg as one message. If opts.IOTimeout is set, it also
// resets the connection deadline for the write and the next read.
func (c *Client) Send(msg []byte) error {
	if t := c.opts.IOTimeout; t > 0 {
		if err := c.c.SetDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	return c.ec.WriteMsg(msg)
}

// Exchange sends msg and blocks for one reply. The reply includes
// echo.Prefix.
func (c *Client) Exchange(msg []byte) ([]byte, error) {
	if err := c.Send(msg); err != nil {
		return nil, fmt.Errorf("failed to send: %w", err)
	}
	r, err := c.ec.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	return append([]byte(nil), r...), nil
}

// Quit sends echo.Sentinel. No reply is read.
func (c *Client) Quit() error {
	return c.Send([]byte(echo.Sentinel))
}

func (c *Client) Close() error {
	return c.c.Close()
}

// Exchange is the record of one greeting.
type Exchange struct {
	Index    int
	Sent     string
	Received string // empty if Err != nil
	Err      error  // read error, the session continues
}

// Run sends opts.Count greetings, waiting opts.Interval after each one,
// then sends the sentinel. A failed read is recorded in the Exchange and
// the session continues. A failed write ends the session with an error.
func (c *Client) Run(ctx context.Context) ([]Exchange, error) {
	exs := make([]Exchange, 0, c.opts.Count)
	for i := 1; i <= c.opts.Count; i++ {
		msg := fmt.Sprintf(MessageFormat, i)
		c.logger.Info("sending", zap.String("msg", msg))
		ex := Exchange{Index: i, Sent: msg}

		if err := c.Send([]byte(msg)); err != nil {
			return exs, fmt.Errorf("failed to send message #%d: %w", i, err)
		}
		r, err := c.ec.ReadMsg()
		if err != nil {
			ex.Err = err
			c.logger.Warn("failed to read reply", zap.Int("index", i), zap.Error(err))
		} else {
			ex.Received = string(r)
			c.logger.Info("received", zap.String("msg", ex.Received))
		}
		exs = append(exs, ex)

		select {
		case <-time.After(c.opts.Interval):
		case <-ctx.Done():
			return exs, ctx.Err()
		}
	}

	if err := c.Quit(); err != nil {
		return exs, fmt.Errorf("failed to send sentinel: %w", err)
	}
	c.logger.Info("client finished")
	return exs, nil
}

// Run dials opts.Addr, runs a full session and closes the connection.
func Run(ctx context.Context, opts Opts) ([]Exchange, error) {
	c, err := Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Run(ctx)
}
