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

// Package capability defines the data model shared by every other package
// in the module: the wire-level Value sum type, the pool-level Local sum
// type, and the Object contract that both local objects and remote proxies
// implement.
package capability

import (
	"context"
	"fmt"
)

// Ref identifies an object living on some peer in the connection graph.
// Owner is always 0 in this implementation: every Ref a peer hands out or
// receives names an object local to the peer that minted the id, and the
// owner field exists so a future multi-hop router can tell peers apart
// without changing the wire shape.
type Ref struct {
	Owner uint32
	ID    uint64
}

func (r Ref) String() string {
	return fmt.Sprintf("ref{owner:%d,id:%d}", r.Owner, r.ID)
}

type valueKind uint8

const (
	kindLit valueKind = iota
	kindRef
)

// Value is what crosses the wire: either an opaque immutable byte payload
// or a reference to an object owned by some peer. Exactly one of Lit/Ref
// is meaningful, as reported by IsLit/IsRef.
type Value struct {
	kind valueKind
	lit  []byte
	ref  Ref
}

// NewLit wraps an opaque payload as a literal value. The byte slice is not
// copied; callers must not mutate it after handing it to NewLit.
func NewLit(b []byte) *Value {
	return &Value{kind: kindLit, lit: b}
}

// NewRef wraps a cross-peer object reference as a value.
func NewRef(owner uint32, id uint64) *Value {
	return &Value{kind: kindRef, ref: Ref{Owner: owner, ID: id}}
}

func (v *Value) IsLit() bool { return v != nil && v.kind == kindLit }
func (v *Value) IsRef() bool { return v != nil && v.kind == kindRef }

// Lit returns the literal payload; callers should check IsLit first.
func (v *Value) Lit() []byte { return v.lit }

// Ref returns the reference payload; callers should check IsRef first.
func (v *Value) Ref() Ref { return v.ref }

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.IsRef() {
		return v.ref.String()
	}
	return fmt.Sprintf("lit(%d bytes)", len(v.lit))
}

// ObjectID is a pool key: either a low-range id (callee-allocated, counts
// up from 0) or a high-range id (locally-exposed, counts down from
// MaxUint64).
type ObjectID = uint64

// ProxyInfo is the metadata a local object exposes when it is itself
// standing in for a remote object (i.e. when it is a Proxy). Objects that
// are not proxies return ok=false from ProxyInfo.
type ProxyInfo struct {
	ObjectID ObjectID
}

// Object is the capability contract: the same interface is implemented by
// genuinely local objects and by Proxy stand-ins for remote objects, so a
// caller never needs to know which kind of object it is holding.
//
// Call takes a shared (read) lock on the object's state; CallMut takes an
// exclusive (write) lock. Implementations backing a single mutable value
// typically route both through a sync.RWMutex.
type Object interface {
	Call(ctx context.Context, methodID uint64, arg *Local) (*Local, error)
	CallMut(ctx context.Context, methodID uint64, arg *Local) (*Local, error)
	ProxyInfo() (ProxyInfo, bool)
}

// Local is what sits inside the pool: either a literal byte payload or a
// handle to an Object (which may itself be a Proxy for a remote object).
type Local struct {
	isObject bool
	lit      []byte
	object   Object
}

// LitLocal wraps a literal payload as a pool value.
func LitLocal(b []byte) Local {
	return Local{lit: b}
}

// ObjectLocal wraps an object handle as a pool value.
func ObjectLocal(o Object) Local {
	return Local{isObject: true, object: o}
}

func (l Local) IsObject() bool { return l.isObject }
func (l Local) Object() Object { return l.object }
func (l Local) Bytes() []byte  { return l.lit }

func (l Local) String() string {
	if l.isObject {
		return "local(object)"
	}
	return fmt.Sprintf("local(%d bytes)", len(l.lit))
}

// CallError enumerates the closed set of ways a Call/CallMut can fail.
// Transports and callers should map unexpected errors to ErrFailed rather
// than inventing new variants.
type CallError struct {
	kind callErrKind
	msg  string
}

type callErrKind uint8

const (
	errInvalidResponse callErrKind = iota
	errFailed
	errComm
	errUnknownMethod
	errInvalidArgument
)

func (e *CallError) Error() string { return e.msg }

func newCallError(k callErrKind, msg string) *CallError {
	return &CallError{kind: k, msg: msg}
}

var (
	ErrInvalidResponse = newCallError(errInvalidResponse, "capability: invalid response")
	ErrFailed          = newCallError(errFailed, "capability: call failed")
	ErrComm            = newCallError(errComm, "capability: communication error")
	ErrUnknownMethod   = newCallError(errUnknownMethod, "capability: unknown method")
	ErrInvalidArgument = newCallError(errInvalidArgument, "capability: invalid argument")
)

// Is lets errors.Is match sentinel CallErrors by kind, independent of the
// wrapped message text.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return e.kind == t.kind
}
