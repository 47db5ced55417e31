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

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func readBack(c syscall.RawConn) (Report, error) {
	var (
		r          Report
		errSyscall error
	)
	errControl := c.Control(func(fd uintptr) {
		getInt := func(level, opt int) int {
			if errSyscall != nil {
				return 0
			}
			var v int
			v, errSyscall = unix.GetsockoptInt(int(fd), level, opt)
			return v
		}
		r.NoDelay = getInt(unix.IPPROTO_TCP, unix.TCP_NODELAY) != 0
		r.SendBuffer = getInt(unix.SOL_SOCKET, unix.SO_SNDBUF)
		r.RecvBuffer = getInt(unix.SOL_SOCKET, unix.SO_RCVBUF)
		r.KeepAlive = getInt(unix.SOL_SOCKET, unix.SO_KEEPALIVE) != 0
	})
	if errControl != nil {
		return Report{}, errControl
	}
	if errSyscall != nil {
		return Report{}, errSyscall
	}
	return r, nil
}

// ListenerControl returns a net.ListenConfig control func that applies opt.
func ListenerControl(opt ListenerOpts) ControlFunc {
	return func(network, address string, c syscall.RawConn) error {
		var errSyscall error
		errControl := c.Control(func(fd uintptr) {
			if opt.ReuseAddr {
				errSyscall = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}
		})
		if errControl != nil {
			return errControl
		}
		return errSyscall
	}
}
