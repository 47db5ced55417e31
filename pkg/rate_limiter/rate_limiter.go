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

package rate_limiter

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	tableShards = 16
	gcInterval  = time.Minute
)

// Limiter limits how fast each client ip may open new connections.
type Limiter struct {
	limit rate.Limit
	burst int

	closeOnce   sync.Once
	closeNotify chan struct{}
	shards      [tableShards]*shard
}

type shard struct {
	m sync.Mutex
	t map[netip.Addr]*entry
}

type entry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a Limiter that allows each client to open
// perSecond connections per second, with bursts of up to burst.
// burst <= 0 means burst equals perSecond (at least 1).
// Clients idle for longer than 1m are removed by an internal gc.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	l := &Limiter{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		closeNotify: make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{t: make(map[netip.Addr]*entry)}
	}
	go l.gcLoop()
	return l
}

// Allow reports whether a new connection from remote can be served now.
// Addresses that are not ip based (e.g. unix sockets) are always allowed.
func (l *Limiter) Allow(remote net.Addr) bool {
	addr, ok := clientAddr(remote)
	if !ok {
		return true
	}
	return l.AllowAddr(addr, time.Now())
}

// AllowAddr is like Allow but with a parsed addr and an explicit time.
func (l *Limiter) AllowAddr(addr netip.Addr, now time.Time) bool {
	addr = addr.Unmap()
	s := l.shards[shardIdx(addr)]
	s.m.Lock()
	e, ok := s.t[addr]
	if !ok {
		e = &entry{l: rate.NewLimiter(l.limit, l.burst)}
		s.t[addr] = e
	}
	e.lastSeen = now
	s.m.Unlock()
	return e.l.AllowN(now, 1)
}

// Close stops the gc goroutine.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeNotify)
	})
	return nil
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.m.Lock()
		n += len(s.t)
		s.m.Unlock()
	}
	return n
}

func (l *Limiter) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closeNotify:
			return
		case now := <-ticker.C:
			l.gc(now, gcInterval)
		}
	}
}

func (l *Limiter) gc(now time.Time, maxIdle time.Duration) {
	for _, s := range l.shards {
		s.m.Lock()
		for a, e := range s.t {
			if now.Sub(e.lastSeen) > maxIdle {
				delete(s.t, a)
			}
		}
		s.m.Unlock()
	}
}

func clientAddr(a net.Addr) (netip.Addr, bool) {
	switch v := a.(type) {
	case *net.TCPAddr:
		addr, ok := netip.AddrFromSlice(v.IP)
		return addr, ok
	case nil:
		return netip.Addr{}, false
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.Addr{}, false
		}
		return ap.Addr(), true
	}
}

func shardIdx(addr netip.Addr) int {
	var i byte
	if addr.Is4() {
		for _, b := range addr.As4() {
			i ^= b
		}
	} else {
		for _, b := range addr.As16() {
			i ^= b
		}
	}
	return int(i % tableShards)
}
