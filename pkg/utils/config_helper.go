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
	"time"

	"golang.org/x/exp/constraints"
)

// SetDefaultNum sets *p to d if *p is zero.
func SetDefaultNum[K constraints.Integer | constraints.Float](p *K, d K) {
	if *p == 0 {
		*p = d
	}
}

func SetDefaultString(p *string, s string) {
	if len(*p) == 0 {
		*p = s
	}
}

func CheckNumRange[K constraints.Integer | constraints.Float](v, min, max K) bool {
	if v < min || v > max {
		return false
	}
	return true
}

// Seconds converts a config value in seconds to a time.Duration.
func Seconds[K constraints.Integer](n K) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a config value in milliseconds to a time.Duration.
func Millis[K constraints.Integer](n K) time.Duration {
	return time.Duration(n) * time.Millisecond
}
