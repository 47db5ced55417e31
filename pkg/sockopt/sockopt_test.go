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

package sockopt

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// tcpPair returns both ends of a loopback tcp connection.
func tcpPair(tb testing.TB) (client, server net.Conn) {
	tb.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	require.NoError(tb, err)
	server, ok := <-accepted
	require.True(tb, ok, "accept failed")
	tb.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func readBackOrSkip(t *testing.T, c net.Conn) Report {
	t.Helper()
	r, err := ReadBack(c)
	if errors.Is(err, ErrUnsupported) {
		t.Skip(err)
	}
	require.NoError(t, err)
	return r
}

func TestTuner_Apply(t *testing.T) {
	c, s := tcpPair(t)
	tuner := NewTuner(DefaultOptions())

	for _, conn := range []net.Conn{c, s} {
		rs := tuner.Apply(conn)
		require.Len(t, rs, 4)
		assert.Empty(t, rs.Failed())

		var names []string
		for _, r := range rs {
			names = append(names, r.Option)
		}
		assert.Equal(t, []string{OptNoDelay, OptSendBuffer, OptRecvBuffer, OptKeepAlive}, names)
	}
}

func TestTuner_Apply_Optional(t *testing.T) {
	c, _ := tcpPair(t)
	o := DefaultOptions()
	o.KeepAlivePeriod = time.Second * 30
	o.Linger = 5
	rs := NewTuner(o).Apply(c)
	require.Len(t, rs, 6)
	assert.Empty(t, rs.Failed())
	assert.Equal(t, OptKeepAlivePeriod, rs[4].Option)
	assert.Equal(t, "30s", rs[4].Value)
	assert.Equal(t, OptLinger, rs[5].Option)
}

func TestTuner_Apply_SkipsUnsetBuffers(t *testing.T) {
	c, _ := tcpPair(t)
	rs := NewTuner(Options{NoDelay: true}).Apply(c)
	require.Len(t, rs, 2)
	assert.Equal(t, OptNoDelay, rs[0].Option)
	assert.Equal(t, OptKeepAlive, rs[1].Option)
}

func TestTuner_Apply_NotTCP(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	var rs Results
	assert.NotPanics(t, func() {
		rs = NewTuner(DefaultOptions()).Apply(c1)
	})
	require.Len(t, rs, 4)
	for _, r := range rs {
		assert.ErrorIs(t, r.Err, ErrNotTCP)
	}

	_, err := ReadBack(c1)
	assert.ErrorIs(t, err, ErrNotTCP)
}

func TestReadBack(t *testing.T) {
	c, _ := tcpPair(t)
	NewTuner(DefaultOptions()).Apply(c)

	r := readBackOrSkip(t, c)
	assert.True(t, r.NoDelay)
	assert.True(t, r.KeepAlive)
	// The os may round or double the requested sizes.
	assert.Greater(t, r.SendBuffer, 0)
	assert.Greater(t, r.RecvBuffer, 0)
}

func TestReadBack_Disabled(t *testing.T) {
	c, _ := tcpPair(t)
	NewTuner(Options{NoDelay: false, KeepAlive: false}).Apply(c)

	r := readBackOrSkip(t, c)
	assert.False(t, r.NoDelay)
	assert.False(t, r.KeepAlive)
}

func TestTuner_Apply_Idempotent(t *testing.T) {
	c, _ := tcpPair(t)
	tuner := NewTuner(DefaultOptions())

	tuner.Apply(c)
	once := readBackOrSkip(t, c)
	tuner.Apply(c)
	twice := readBackOrSkip(t, c)
	assert.Equal(t, once, twice)
}

type wrappedConn struct {
	net.Conn
}

func (w *wrappedConn) Raw() net.Conn {
	return w.Conn
}

func TestTuner_Apply_Unwrap(t *testing.T) {
	c, _ := tcpPair(t)
	rs := NewTuner(DefaultOptions()).Apply(&wrappedConn{Conn: c})
	assert.Empty(t, rs.Failed())
}

func TestResults_Log(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rs := Results{
		{Option: OptNoDelay, Value: "true"},
		{Option: OptSendBuffer, Value: "65536", Err: errors.New("denied")},
	}
	rs.Log(zap.New(core))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, OptSendBuffer, entries[1].ContextMap()["option"])
}
