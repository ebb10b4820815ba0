// Copyright 2026 The objcap Authors
// This file is part of objcap.
//
// objcap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// objcap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with objcap.  If not, see <http://www.gnu.org/licenses/>.

// Package transport defines the minimal duplex byte-stream contract the
// connection engine needs and a net.Conn-backed implementation of it.
// Building a production-grade transport (multiplexed streams, TLS
// configuration, reconnect policy) is out of scope here; this package
// only needs to get length-delimited frames on and off a socket.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/objcap/objcap/wire"
)

// Conn is a duplex stream of framed messages. Implementations must allow
// one concurrent ReadMsg and one concurrent WriteMsg call at a time, but
// need not allow more than that; the connection engine itself serializes
// writers above this interface.
type Conn interface {
	ReadMsg(ctx context.Context) ([]byte, error)
	WriteMsg(ctx context.Context, frame []byte) error
	Close() error
}

// netConn adapts a net.Conn into a transport.Conn using wire's
// length-delimited framing.
type netConn struct {
	nc net.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewNetConn wraps an already-established net.Conn (e.g. from net.Dial or
// a net.Listener.Accept) for use by the connection engine.
func NewNetConn(nc net.Conn) Conn {
	return &netConn{nc: nc}
}

func (c *netConn) ReadMsg(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(dl)
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
	return wire.ReadMsg(c.nc)
}

func (c *netConn) WriteMsg(ctx context.Context, frame []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}
	return wire.WriteMsg(c.nc, frame)
}

func (c *netConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
