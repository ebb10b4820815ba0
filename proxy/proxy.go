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

// Package proxy implements the local stand-in for an object that lives on
// the far end of a connection. A Proxy satisfies capability.Object by
// turning every Call/CallMut into an outbound request over whatever
// Dispatcher it was built with, and frees its remote id once nothing
// local references it anymore.
package proxy

import (
	"context"
	"runtime"
	"sync"

	"github.com/objcap/objcap/capability"
	"github.com/objcap/objcap/errs"
)

// Dispatcher is the subset of a connection engine a Proxy needs to do its
// job: issue an outbound call and ask the peer to drop an id it no longer
// needs. This package never imports the conn package; conn's *Conn
// satisfies Dispatcher structurally, which is what lets conn import proxy
// without forming an import cycle.
type Dispatcher interface {
	Call(ctx context.Context, objectID uint64, mutable bool, methodID uint64, arg *capability.Local, storeResult bool) (*capability.Local, error)
	Free(objectID uint64)
}

// Proxy is safe for concurrent use; Call and CallMut may be invoked from
// multiple goroutines at once, same as any capability.Object.
type Proxy struct {
	dispatcher Dispatcher
	id         uint64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// New wraps id, a remote object on the peer reachable through d, as a
// local Proxy. Callers normally receive a Proxy automatically when a Ref
// arrives over the wire rather than constructing one directly.
func New(d Dispatcher, id uint64) *Proxy {
	p := &Proxy{dispatcher: d, id: id}
	runtime.SetFinalizer(p, (*Proxy).finalize)
	return p
}

// Dispatcher returns the connection this proxy forwards calls through.
func (p *Proxy) Dispatcher() Dispatcher { return p.dispatcher }

// RemoteID returns the id this proxy stands in for, on the peer reachable
// through its Dispatcher.
func (p *Proxy) RemoteID() uint64 { return p.id }

func (p *Proxy) Call(ctx context.Context, methodID uint64, arg *capability.Local) (*capability.Local, error) {
	return p.invoke(ctx, false, methodID, arg)
}

func (p *Proxy) CallMut(ctx context.Context, methodID uint64, arg *capability.Local) (*capability.Local, error) {
	return p.invoke(ctx, true, methodID, arg)
}

func (p *Proxy) invoke(ctx context.Context, mutable bool, methodID uint64, arg *capability.Local) (*capability.Local, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, capability.ErrComm
	}

	// store_result is always requested: the proxy has no way to know
	// ahead of time whether the callee's result will be a literal or an
	// object, and an object-typed result the callee doesn't store can
	// never be named by a later call.
	result, err := p.dispatcher.Call(ctx, p.id, mutable, methodID, arg, true)
	if err != nil {
		if _, ok := err.(*capability.CallError); ok {
			return nil, err
		}
		return nil, errs.Wrap(capability.ErrComm, err.Error())
	}
	return result, nil
}

func (p *Proxy) ProxyInfo() (capability.ProxyInfo, bool) {
	return capability.ProxyInfo{ObjectID: p.id}, true
}

// Close frees the remote id eagerly. It is safe to call multiple times
// and runs automatically from a finalizer if the caller never calls it,
// though relying on the garbage collector for this is discouraged since
// finalizer timing is unspecified.
func (p *Proxy) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.dispatcher.Free(p.id)
	})
}

func (p *Proxy) finalize() {
	p.Close()
}
