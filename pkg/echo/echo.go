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

// Package echo implements the plain-text echo wire format.
package echo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/IrineSistiana/tcptune/pkg/pool"
)

const (
	// Prefix is prepended to every echoed message.
	Prefix = "Server received: "

	// Sentinel ends a session. It is matched exactly.
	Sentinel = "quit"

	// BufSize is the max size of a single message read.
	BufSize = 1024
)

var ErrMsgTooLarge = errors.New("message exceeds buffer size")

// Framing selects how messages are delimited on the wire.
type Framing string

const (
	// FramingRaw has no delimiter. Each read of up to BufSize bytes is
	// one message. Fragmented or coalesced writes are not reassembled.
	FramingRaw Framing = "raw"

	// FramingLine delimits messages with '\n'. A line, excluding the
	// delimiter, must be shorter than BufSize.
	FramingLine Framing = "line"
)

func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingLine:
		return FramingLine, nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

func IsSentinel(b []byte) bool {
	return string(b) == Sentinel
}

// AppendReply appends the echo reply of msg to dst.
func AppendReply(dst, msg []byte) []byte {
	dst = append(dst, Prefix...)
	return append(dst, msg...)
}

var bufPool = pool.NewBytesBufPool(BufSize+len(Prefix)+1, 4*BufSize)

// Conn reads and writes framed messages. It is not safe for concurrent use.
type Conn struct {
	rw      io.ReadWriter
	framing Framing

	rbuf []byte        // raw
	br   *bufio.Reader // line
}

// NewConn wraps rw. An empty framing means FramingRaw.
func NewConn(rw io.ReadWriter, framing Framing) *Conn {
	c := &Conn{rw: rw, framing: framing}
	if framing == FramingLine {
		c.br = bufio.NewReaderSize(rw, BufSize)
	} else {
		c.framing = FramingRaw
		c.rbuf = make([]byte, BufSize)
	}
	return c
}

func (c *Conn) Framing() Framing {
	return c.framing
}

// ReadMsg reads the next message. The returned slice is only valid until
// the next call of ReadMsg. A peer that closed the connection gives io.EOF.
func (c *Conn) ReadMsg() ([]byte, error) {
	if c.framing == FramingLine {
		return c.readLine()
	}
	n, err := c.rw.Read(c.rbuf)
	if n > 0 {
		return c.rbuf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (c *Conn) readLine() ([]byte, error) {
	line, err := c.br.ReadSlice('\n')
	switch {
	case err == nil:
		return line[:len(line)-1], nil
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, ErrMsgTooLarge
	case errors.Is(err, io.EOF) && len(line) > 0:
		// Unterminated last line.
		return line, nil
	default:
		return nil, err
	}
}

// WriteMsg writes msg as one message.
func (c *Conn) WriteMsg(msg []byte) error {
	return c.write(nil, msg)
}

// WriteReply writes Prefix + msg as one message.
func (c *Conn) WriteReply(msg []byte) error {
	return c.write([]byte(Prefix), msg)
}

func (c *Conn) write(prefix, msg []byte) error {
	b := bufPool.Get()
	defer bufPool.Release(b)

	b.Write(prefix)
	b.Write(msg)
	if c.framing == FramingLine {
		if bytes.IndexByte(msg, '\n') >= 0 {
			return fmt.Errorf("line message contains a delimiter")
		}
		b.WriteByte('\n')
	}
	_, err := c.rw.Write(b.Bytes())
	return err
}
