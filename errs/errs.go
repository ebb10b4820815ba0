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

// Package errs collects the sentinel errors shared by the pool and
// connection engine, following the closed-taxonomy style used throughout
// the rest of this module's ambient stack: a small fixed set of
// comparable errors, wrapped with github.com/pkg/errors when context needs
// to be attached, and always matchable with errors.Is by callers upstream.
package errs

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyExists is returned by InsertUnresolved/InsertResolved when
	// the id is already present in the pool.
	ErrAlreadyExists = stderrors.New("objcap: id already exists")

	// ErrAlreadyResolved is returned by Resolve when the target entry has
	// already been resolved; the pool leaves the existing value in place.
	ErrAlreadyResolved = stderrors.New("objcap: id already resolved")

	// ErrNotFound is returned by Resolve, Remove and Get when the id is
	// not present in the pool.
	ErrNotFound = stderrors.New("objcap: id not found")

	// ErrUnresolvable is returned by Get when the entry's waiters were
	// released without ever being resolved (the pool or connection is
	// shutting down).
	ErrUnresolvable = stderrors.New("objcap: id will never resolve")

	// ErrOutOfKeys is returned by Expose, or by the connection engine's
	// low-range allocator, when the relevant counter has exhausted its
	// half of the id space.
	ErrOutOfKeys = stderrors.New("objcap: id space exhausted")

	// ErrSessionClosed is returned by connection-engine operations once
	// the connection has left the Running state.
	ErrSessionClosed = stderrors.New("objcap: connection closed")

	// ErrFramingError is returned by the wire codec when a message cannot
	// be parsed as well-formed framing (short buffer, unknown tag).
	ErrFramingError = stderrors.New("objcap: malformed wire frame")

	// ErrEncodingError is returned by the connection engine when a
	// message is well-framed but carries a value the engine cannot
	// accept, such as a reference with a non-zero owner it has no way to
	// route. Like ErrFramingError, it is fatal to the session.
	ErrEncodingError = stderrors.New("objcap: invalid encoded value")
)

// Wrap attaches a message to err, preserving errors.Is/As compatibility
// with the sentinel above it.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrap(err, fmt.Sprintf(format, args...))
}
