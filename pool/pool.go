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

// Package pool implements the async keyed object store that sits at the
// center of every connection: callers can reserve a slot before its value
// is known (InsertUnresolved), fill it in later (Resolve), insert an
// already-known value outright (InsertResolved), mint a fresh high-range
// key for a local object (Expose), and block until a slot's value is
// available (Get).
//
// Every entry starts in one of two states, Unresolved or Resolved, and
// only ever moves Unresolved -> Resolved, never back. Resolving an entry
// that is already resolved is rejected and leaves the existing value
// untouched; this mirrors the resolve-on-resolved policy in the actor this
// package was modeled on.
package pool

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/objcap/objcap/capability"
	"github.com/objcap/objcap/errs"
)

// Partition is the boundary between the low range (ids counted up from 0
// by InsertUnresolved/InsertResolved callers, typically the connection
// engine allocating stored-result slots) and the high range (ids counted
// down from MaxUint64 by Expose). The two ranges never meet as long as
// each counter is checked against Partition before it is used, so no
// coordination between the two allocators is required.
const Partition = uint64(1) << 63

type entry struct {
	mu           sync.Mutex
	resolved     bool
	unresolvable bool
	value        capability.Local
	done         chan struct{}
}

// Pool is safe for concurrent use by multiple goroutines.
type Pool struct {
	mu          sync.Mutex
	entries     map[uint64]*entry
	exposed     mapset.Set[uint64]
	highCounter uint64
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		entries:     make(map[uint64]*entry),
		exposed:     mapset.NewSet[uint64](),
		highCounter: ^uint64(0),
	}
}

// InsertUnresolved reserves id with no value yet. It fails with
// ErrAlreadyExists if id is already present, resolved or not.
func (p *Pool) InsertUnresolved(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; ok {
		return errs.ErrAlreadyExists
	}
	p.entries[id] = &entry{done: make(chan struct{})}
	return nil
}

// InsertResolved inserts id with a value already known, bypassing the
// unresolved stage entirely. It fails with ErrAlreadyExists if id is
// already present.
func (p *Pool) InsertResolved(id uint64, v capability.Local) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; ok {
		return errs.ErrAlreadyExists
	}
	e := &entry{done: make(chan struct{}), resolved: true, value: v}
	close(e.done)
	p.entries[id] = e
	return nil
}

// Resolve fills in the value for a previously-reserved id, waking every
// goroutine blocked in Get on that id. If the entry does not exist it
// returns ErrNotFound; if it is already resolved it returns
// ErrAlreadyResolved and leaves the existing value untouched.
func (p *Pool) Resolve(id uint64, v capability.Local) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return errs.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return errs.ErrAlreadyResolved
	}
	if e.unresolvable {
		return errs.ErrNotFound
	}
	e.value = v
	e.resolved = true
	close(e.done)
	return nil
}

// Expose mints a fresh high-range id for v and inserts it resolved. It
// fails with ErrOutOfKeys once the high-range counter has decremented
// across Partition.
func (p *Pool) Expose(v capability.Local) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.highCounter < Partition {
		return 0, errs.ErrOutOfKeys
	}
	id := p.highCounter
	p.highCounter--

	e := &entry{done: make(chan struct{}), resolved: true, value: v}
	close(e.done)
	p.entries[id] = e
	p.exposed.Add(id)
	return id, nil
}

// Get returns id's value, blocking until it is resolved if necessary. It
// returns ErrNotFound if id was never inserted, ErrUnresolvable if the
// entry was removed or the pool shut down before resolution, and the
// ctx error if ctx is done first.
func (p *Pool) Get(ctx context.Context, id uint64) (capability.Local, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return capability.Local{}, errs.ErrNotFound
	}

	e.mu.Lock()
	if e.resolved {
		v := e.value
		e.mu.Unlock()
		return v, nil
	}
	if e.unresolvable {
		e.mu.Unlock()
		return capability.Local{}, errs.ErrUnresolvable
	}
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.resolved {
			return e.value, nil
		}
		return capability.Local{}, errs.ErrUnresolvable
	case <-ctx.Done():
		return capability.Local{}, ctx.Err()
	}
}

// Remove deletes id from the pool, returning its value if it had one.
// Waiters blocked in Get on an unresolved id being removed observe
// ErrUnresolvable.
func (p *Pool) Remove(id uint64) (capability.Local, bool, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
		p.exposed.Remove(id)
	}
	p.mu.Unlock()
	if !ok {
		return capability.Local{}, false, errs.ErrNotFound
	}

	e.mu.Lock()
	resolved := e.resolved
	v := e.value
	if !e.resolved && !e.unresolvable {
		e.unresolvable = true
		close(e.done)
	}
	e.mu.Unlock()

	if resolved {
		return v, true, nil
	}
	return capability.Local{}, false, nil
}

// Shutdown releases every goroutine blocked in Get with ErrUnresolvable
// and empties the pool. It is meant to run once, when the owning
// connection is tearing down.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uint64]*entry)
	p.exposed = mapset.NewSet[uint64]()
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if !e.resolved && !e.unresolvable {
			e.unresolvable = true
			close(e.done)
		}
		e.mu.Unlock()
	}
}

// Len reports the number of entries currently held, resolved or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ExposedIDs returns a sorted snapshot of every id minted by Expose and
// still present in the pool. Intended for diagnostics and tests.
func (p *Pool) ExposedIDs() []uint64 {
	p.mu.Lock()
	ids := p.exposed.ToSlice()
	p.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// ExposedCount reports how many ids currently exposed by Expose are still
// present in the pool, without the allocation ExposedIDs pays for a full
// snapshot; intended for metrics gauges updated on every pool mutation.
func (p *Pool) ExposedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exposed.Cardinality()
}
