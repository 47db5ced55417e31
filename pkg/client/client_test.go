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
	"io"
	"net"
	"testing"
	"time"

	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/IrineSistiana/tcptune/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(tb testing.TB, opts server.ServerOpts) string {
	tb.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(tb, err)
	s := server.NewServer(opts)
	go s.ServeTCP(l)
	tb.Cleanup(s.Close)
	return l.Addr().String()
}

func TestRun(t *testing.T) {
	for _, framing := range []echo.Framing{echo.FramingRaw, echo.FramingLine} {
		t.Run(string(framing), func(t *testing.T) {
			addr := startServer(t, server.ServerOpts{Framing: framing})
			exs, err := Run(context.Background(), Opts{
				Addr:     addr,
				Framing:  framing,
				Interval: time.Millisecond,
			})
			require.NoError(t, err)
			require.Len(t, exs, DefaultCount)
			for i, ex := range exs {
				msg := fmt.Sprintf("Hello Server! Message #%d", i+1)
				assert.Equal(t, i+1, ex.Index)
				assert.Equal(t, msg, ex.Sent)
				assert.NoError(t, ex.Err)
				assert.Equal(t, "Server received: "+msg, ex.Received)
			}
		})
	}
}

func TestRun_Interval(t *testing.T) {
	addr := startServer(t, server.ServerOpts{})
	start := time.Now()
	exs, err := Run(context.Background(), Opts{Addr: addr, Count: 3, Interval: time.Millisecond * 30})
	require.NoError(t, err)
	assert.Len(t, exs, 3)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*90)
}

func TestRun_SentinelClosesServerSide(t *testing.T) {
	addr := startServer(t, server.ServerOpts{})
	c, err := Dial(context.Background(), Opts{Addr: addr, Count: 1, Interval: time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	// The server echoes the sentinel once and closes.
	c.Conn().SetReadDeadline(time.Now().Add(time.Second * 2))
	r, err := c.ec.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, "Server received: quit", string(r))
	_, err = c.ec.ReadMsg()
	assert.Error(t, err)
}

func TestRun_ReadFailureContinues(t *testing.T) {
	// A server that reads everything but never answers, then hangs up.
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		c.Read(make([]byte, 64))
		c.Close()
	}()

	exs, err := Run(context.Background(), Opts{Addr: l.Addr().String(), Count: 2, Interval: time.Millisecond})
	// The session may end at a later write once the peer is gone, but
	// every recorded exchange must carry the read error.
	for _, ex := range exs {
		assert.Error(t, ex.Err)
		assert.Empty(t, ex.Received)
	}
	if err == nil {
		assert.Len(t, exs, 2)
	}
}

func TestRun_IOTimeout(t *testing.T) {
	// A server that reads but never answers and keeps the conn open.
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		go io.Copy(io.Discard, c)
		<-done
	}()

	start := time.Now()
	exs, err := Run(context.Background(), Opts{
		Addr:      l.Addr().String(),
		Count:     2,
		Interval:  time.Millisecond,
		IOTimeout: time.Millisecond * 50,
	})
	require.NoError(t, err, "the sentinel write gets a fresh deadline")
	require.Len(t, exs, 2)
	for _, ex := range exs {
		var netErr net.Error
		require.ErrorAs(t, ex.Err, &netErr)
		assert.True(t, netErr.Timeout())
	}
	assert.Less(t, time.Since(start), time.Second*2)
}

func TestDial_Failure(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Run(context.Background(), Opts{Addr: addr, DialTimeout: time.Second})
	assert.Error(t, err)
}

func TestRun_ContextCanceled(t *testing.T) {
	addr := startServer(t, server.ServerOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := Dial(context.Background(), Opts{Addr: addr, Interval: time.Hour})
	require.NoError(t, err)
	defer c.Close()
	exs, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exs, 1)
}

func TestOpts_Init(t *testing.T) {
	o := Opts{Addr: "127.0.0.1"}
	o.init()
	assert.Equal(t, "127.0.0.1:8080", o.Addr)
	assert.Equal(t, DefaultCount, o.Count)
	assert.Equal(t, DefaultInterval, o.Interval)
	assert.Equal(t, echo.FramingRaw, o.Framing)
	assert.NotNil(t, o.Tuner)
	assert.NotNil(t, o.Logger)

	o = Opts{}
	o.init()
	assert.Equal(t, DefaultAddr, o.Addr)
}
