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

package utils

import (
	"testing"
	"time"
)

func TestSetDefaultNum(t *testing.T) {
	var i int
	SetDefaultNum(&i, 5)
	if i != 5 {
		t.Fatalf("want 5, got %d", i)
	}
	SetDefaultNum(&i, 7)
	if i != 5 {
		t.Fatalf("non-zero value was overwritten, got %d", i)
	}

	var d time.Duration
	SetDefaultNum(&d, time.Second)
	if d != time.Second {
		t.Fatalf("want 1s, got %s", d)
	}
}

func TestCheckNumRange(t *testing.T) {
	tests := []struct {
		v, min, max int
		want        bool
	}{
		{0, 0, 10, true},
		{10, 0, 10, true},
		{-1, 0, 10, false},
		{11, 0, 10, false},
	}
	for _, tt := range tests {
		if got := CheckNumRange(tt.v, tt.min, tt.max); got != tt.want {
			t.Errorf("CheckNumRange(%d, %d, %d) = %v, want %v", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestTryAddPort(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1", "127.0.0.1:8080"},
		{"127.0.0.1:9000", "127.0.0.1:9000"},
		{"localhost", "localhost:8080"},
		{"::1", "[::1]:8080"},
		{"[::1]", "[::1]:8080"},
		{"[::1]:53", "[::1]:53"},
	}
	for _, tt := range tests {
		if got := TryAddPort(tt.addr, 8080); got != tt.want {
			t.Errorf("TryAddPort(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestSplitSchemeAndHost(t *testing.T) {
	tests := []struct {
		addr, wantProto, wantHost string
	}{
		{"tcp://127.0.0.1:8080", "tcp", "127.0.0.1:8080"},
		{"127.0.0.1:8080", "", "127.0.0.1:8080"},
		{"://x", "", "x"},
	}
	for _, tt := range tests {
		p, h := SplitSchemeAndHost(tt.addr)
		if p != tt.wantProto || h != tt.wantHost {
			t.Errorf("SplitSchemeAndHost(%q) = %q, %q, want %q, %q", tt.addr, p, h, tt.wantProto, tt.wantHost)
		}
	}
}
