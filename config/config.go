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

// Package config loads the small set of tunables the connection engine
// and metrics server need: built-in defaults, optionally overridden field
// by field from a TOML file.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of a running connection engine.
type Config struct {
	// MaxInboundConcurrency bounds how many inbound requests are
	// dispatched to local objects at once; additional requests wait for a
	// semaphore slot. Each inbound request still gets its own goroutine, so
	// this limits concurrent dispatch, not the number of goroutines.
	MaxInboundConcurrency int `toml:"max_inbound_concurrency"`

	// FreeQueueDepth bounds the buffered channel used to batch outgoing
	// Free requests when a proxy is dropped.
	FreeQueueDepth int `toml:"free_queue_depth"`

	// FreeFlushInterval is how often queued Free requests are flushed to
	// the wire if the queue hasn't already filled up.
	FreeFlushInterval time.Duration `toml:"free_flush_interval"`

	// CallTimeout bounds how long an outbound Call waits for its
	// response before returning context.DeadlineExceeded. Zero disables
	// the timeout.
	CallTimeout time.Duration `toml:"call_timeout"`

	// MetricsAddr, if non-empty, is the address the Prometheus metrics
	// server listens on.
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the configuration this module ships with out of the
// box.
func Default() Config {
	return Config{
		MaxInboundConcurrency: 64,
		FreeQueueDepth:        256,
		FreeFlushInterval:     50 * time.Millisecond,
		CallTimeout:           30 * time.Second,
		MetricsAddr:           "",
	}
}

// Load reads a TOML configuration file, starting from Default and
// overriding whichever fields the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
