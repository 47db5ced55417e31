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

package coremain

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IrineSistiana/tcptune/pkg/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTcptune(t *testing.T) *Tcptune {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Log.Level = "error"
	cfg.Server.Listen = "127.0.0.1:0"
	m, err := NewTcptune(cfg)
	require.NoError(t, err)
	return m
}

func TestTcptune(t *testing.T) {
	m := newTestTcptune(t)

	c, err := net.DialTimeout("tcp", m.Addr().String(), time.Second)
	require.NoError(t, err)
	defer c.Close()
	c.SetDeadline(time.Now().Add(time.Second * 2))

	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	r := make([]byte, len(echo.Prefix)+5)
	_, err = io.ReadFull(c, r)
	require.NoError(t, err)
	assert.Equal(t, "Server received: hello", string(r))

	// Metrics are exported by the api router.
	w := httptest.NewRecorder()
	m.GetAPIRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tcptune_connections_total 1")

	// Shutdown closes live connections.
	require.NoError(t, m.GetSafeClose().CloseWait())
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestTcptune_InvalidApiRequest(t *testing.T) {
	m := newTestTcptune(t)
	defer m.GetSafeClose().CloseWait()

	w := httptest.NewRecorder()
	m.GetAPIRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.True(t, strings.HasPrefix(w.Body.String(), "Invalid request GET /nope"))
	assert.Contains(t, w.Body.String(), "/metrics")
}

func TestNewTcptune_BindFailure(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Log.Level = "error"
	cfg.Server.Listen = l.Addr().String()
	cfg.Server.ReuseAddr = false
	_, err = NewTcptune(cfg)
	assert.Error(t, err)
}
