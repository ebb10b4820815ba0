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

package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objcap/objcap/transport"
	"github.com/objcap/objcap/wire"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()
	defer b.Close()

	frame := wire.EncodeMsg(wire.DirReq, []byte("hello"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.WriteMsg(context.Background(), frame)
	}()

	got, err := b.ReadMsg(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, frame, got)
}

func TestPipeCloseUnblocksRead(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()

	require.NoError(t, b.Close())
	_, err := a.ReadMsg(context.Background())
	require.Error(t, err)
}
