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

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package sockopt

import "syscall"

func readBack(_ syscall.RawConn) (Report, error) {
	return Report{}, ErrUnsupported
}

// ListenerControl returns a control func that does nothing. Listener
// options are not supported on this platform.
func ListenerControl(_ ListenerOpts) ControlFunc {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}
