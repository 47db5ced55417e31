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

package tools

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/IrineSistiana/tcptune/coremain"
	"github.com/IrineSistiana/tcptune/pkg/server"
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	s := server.NewServer(server.ServerOpts{})
	go s.ServeTCP(l)
	t.Cleanup(s.Close)
	return l.Addr().String()
}

func TestProbeConcurrent(t *testing.T) {
	addr := startServer(t)
	require.NoError(t, ProbeConcurrent(context.Background(), "tcp://"+addr, 10, 20))
}

func TestProbeConcurrent_InvalidArgs(t *testing.T) {
	addr := startServer(t)
	assert.Error(t, ProbeConcurrent(context.Background(), addr, 0, 20))
	assert.Error(t, ProbeConcurrent(context.Background(), addr, 10, 0))
	assert.Error(t, ProbeConcurrent(context.Background(), addr, -1, 1))
}

func TestProbeSockopt(t *testing.T) {
	addr := startServer(t)
	r, err := ProbeSockopt(addr)
	if err == sockopt.ErrUnsupported {
		t.Skip(err)
	}
	require.NoError(t, err)
	assert.True(t, r.NoDelay)
	assert.True(t, r.KeepAlive)
}

func Test_probeAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"127.0.0.1", "127.0.0.1:8080", false},
		{"tcp://127.0.0.1:9000", "127.0.0.1:9000", false},
		{"udp://127.0.0.1", "", true},
		{"tcp://", "", true},
	}
	for _, tt := range tests {
		got, err := probeAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("probeAddr(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("probeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func Test_genCfg(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, genCfg(p))
	assert.Error(t, genCfg(p), "existing file must not be overwritten")

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	cfg := new(coremain.Config)
	require.NoError(t, yaml.Unmarshal(b, cfg))
	assert.Equal(t, coremain.DefaultConfig(), cfg)
}
