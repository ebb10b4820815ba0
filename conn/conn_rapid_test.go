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

package conn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/objcap/objcap/capability"
)

// TestOutstandingTableDrainsAfterEveryCallCompletes touches invariant 4
// (request ids are never reused) indirectly: if an id were ever reused
// while its original call was still outstanding, completing the calls in
// any order would leave a stale entry behind instead of draining to
// empty.
func TestOutstandingTableDrainsAfterEveryCallCompletes(t *testing.T) {
	ca, cb, stop := newPair(t)
	defer stop()
	require.NoError(t, cb.Pool().InsertResolved(0, capability.ObjectLocal(&counter{})))

	n := 12
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _ = ca.Call(context.Background(), 0, true, methodIncrement, nil, false)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	require.Empty(t, ca.Outstanding())
}

// TestProxyDropEventuallyFreesRemoteObject covers invariant 7 in part:
// closing a proxy leads, through the peer's Free handling, to the freed
// object leaving the pool that exposed it. It does not count how many Free
// requests were sent.
func TestProxyDropEventuallyFreesRemoteObject(t *testing.T) {
	ca, cb, stop := newPair(t)
	defer stop()

	// Echoing an object argument through cb causes ca to expose it in
	// its own pool; cb lifts it into a proxy, stores that proxy under the
	// stored-result id ca asked for and hands back a reference to it. We
	// then drop ca's proxy for that stored result: cb frees the entry,
	// which closes cb's proxy, and the exposed entry disappears from ca's
	// pool once cb's Free request lands.
	local := capability.ObjectLocal(&counter{value: 3})
	require.NoError(t, cb.Pool().InsertResolved(0, capability.ObjectLocal(&counter{})))
	result, err := ca.Call(context.Background(), 0, false, methodEcho, &local, true)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.IsObject())

	exposed := ca.Pool().ExposedIDs()
	require.NotEmpty(t, exposed)

	// Drop deterministically via Close rather than relying on GC
	// finalizer timing, which is unspecified; Close is the same path the
	// finalizer itself calls.
	if obj, ok := result.Object().(interface{ Close() }); ok {
		obj.Close()
	}

	require.Eventually(t, func() bool {
		for _, id := range ca.Pool().ExposedIDs() {
			if id == exposed[0] {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}
