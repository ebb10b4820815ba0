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

// Package event is a small channel-based publish/subscribe bus used by the
// connection engine to announce lifecycle transitions (dialed, draining,
// closed) to anything that wants to observe them without coupling the
// engine to a specific logger or metrics sink.
package event

import "sync"

// Channel is a subscriber's mailbox; the bus never blocks trying to
// deliver to it and drops an event if the channel's buffer is full.
type Channel chan interface{}

// Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	mu       sync.Mutex
	channels map[int]Channel
	funcs    map[int]func(interface{})
	nextID   int
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		channels: make(map[int]Channel),
		funcs:    make(map[int]func(interface{})),
	}
}

// RegisterChannel subscribes an existing channel to every event posted to
// the bus. It returns an id usable with Unregister.
func (b *Bus) RegisterChannel(ch Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.channels[id] = ch
	return id
}

// Register creates and subscribes a new buffered channel, returning it
// along with its id.
func (b *Bus) Register(buf int) (Channel, int) {
	ch := make(Channel, buf)
	return ch, b.RegisterChannel(ch)
}

// RegisterFunc subscribes a callback invoked synchronously, from the
// posting goroutine, for every event. It returns an id usable with
// Unregister.
func (b *Bus) RegisterFunc(f func(interface{})) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.funcs[id] = f
	return id
}

// On subscribes either a Channel or a func(interface{}), matching
// whichever was passed; it panics for any other type. This mirrors the
// polymorphic On helper used elsewhere in the corpus so callers don't
// need to pick between RegisterChannel and RegisterFunc by hand.
func (b *Bus) On(subscriber interface{}) int {
	switch s := subscriber.(type) {
	case Channel:
		return b.RegisterChannel(s)
	case chan interface{}:
		return b.RegisterChannel(Channel(s))
	case func(interface{}):
		return b.RegisterFunc(s)
	default:
		panic("event: On requires a Channel or func(interface{})")
	}
}

// Unregister removes a subscriber previously returned by
// RegisterChannel/Register/RegisterFunc/On. It is a no-op if id is
// unknown.
func (b *Bus) Unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, id)
	delete(b.funcs, id)
}

// Post delivers ev to every current subscriber. Channel subscribers that
// are full are skipped rather than blocking the poster.
func (b *Bus) Post(ev interface{}) {
	b.mu.Lock()
	channels := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, ch)
	}
	funcs := make([]func(interface{}), 0, len(b.funcs))
	for _, f := range b.funcs {
		funcs = append(funcs, f)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, f := range funcs {
		f(ev)
	}
}

// Lifecycle events posted by the connection engine.
type (
	// Dialed is posted once the connection's pumps have started.
	Dialed struct{}
	// Draining is posted when the connection stops accepting new
	// outbound calls but continues serving outstanding ones.
	Draining struct{}
	// Closed is posted once the connection has fully torn down. Err is
	// the error that ended Run; it is non-nil even after a clean local
	// Close, where it is the closed transport's read error.
	Closed struct{ Err error }
)
