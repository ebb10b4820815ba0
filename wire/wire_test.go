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

package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/objcap/objcap/capability"
	"github.com/objcap/objcap/wire"
)

func TestReqCallRoundTrip(t *testing.T) {
	to := uint64(42)
	req := &wire.Req{
		ID:   7,
		Type: wire.ReqCall,
		Call: wire.Call{
			Mutable:    true,
			ObjectID:   9,
			MethodID:   3,
			Argument:   capability.NewRef(0, 100),
			ToObjectID: &to,
		},
	}
	got, err := wire.DecodeReq(wire.EncodeReq(req))
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Type, got.Type)
	assert.Equal(t, req.Call.Mutable, got.Call.Mutable)
	assert.Equal(t, req.Call.ObjectID, got.Call.ObjectID)
	assert.Equal(t, req.Call.MethodID, got.Call.MethodID)
	require.NotNil(t, got.Call.Argument)
	assert.True(t, got.Call.Argument.IsRef())
	assert.Equal(t, capability.Ref{Owner: 0, ID: 100}, got.Call.Argument.Ref())
	require.NotNil(t, got.Call.ToObjectID)
	assert.Equal(t, to, *got.Call.ToObjectID)
}

func TestReqCallWithLiteralArgumentAndNoStoreResult(t *testing.T) {
	req := &wire.Req{
		ID:   1,
		Type: wire.ReqCall,
		Call: wire.Call{
			ObjectID: 1,
			MethodID: 1,
			Argument: capability.NewLit([]byte("payload")),
		},
	}
	got, err := wire.DecodeReq(wire.EncodeReq(req))
	require.NoError(t, err)
	assert.Nil(t, got.Call.ToObjectID)
	require.True(t, got.Call.Argument.IsLit())
	assert.Equal(t, []byte("payload"), got.Call.Argument.Lit())
}

func TestReqFreeRoundTrip(t *testing.T) {
	req := &wire.Req{ID: 5, Type: wire.ReqFree, Free: wire.Free{ObjectID: 77}}
	got, err := wire.DecodeReq(wire.EncodeReq(req))
	require.NoError(t, err)
	assert.Equal(t, wire.ReqFree, got.Type)
	assert.Equal(t, uint64(77), got.Free.ObjectID)
}

func TestResCallRoundTripWithNoValue(t *testing.T) {
	res := &wire.Res{ID: 3, Type: wire.ResCall}
	got, err := wire.DecodeRes(wire.EncodeRes(res))
	require.NoError(t, err)
	assert.Equal(t, wire.ResCall, got.Type)
	assert.Nil(t, got.Return.Value)
}

func TestResFreeRoundTrip(t *testing.T) {
	res := &wire.Res{ID: 4, Type: wire.ResFree}
	got, err := wire.DecodeRes(wire.EncodeRes(res))
	require.NoError(t, err)
	assert.Equal(t, wire.ResFree, got.Type)
}

func TestMsgRoundTrip(t *testing.T) {
	payload := wire.EncodeReq(&wire.Req{ID: 1, Type: wire.ReqFree, Free: wire.Free{ObjectID: 2}})
	frame := wire.EncodeMsg(wire.DirReq, payload)

	msg, err := wire.DecodeMsg(frame)
	require.NoError(t, err)
	assert.Equal(t, wire.DirReq, msg.Dir)
	assert.Equal(t, payload, msg.Data)
}

func TestStreamFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{[]byte("one"), []byte("two-longer"), {}}
	for _, f := range frames {
		require.NoError(t, wire.WriteMsg(&buf, f))
	}
	for _, want := range frames {
		got, err := wire.ReadMsg(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeRejectsUnknownTags(t *testing.T) {
	_, err := wire.DecodeReq([]byte{0, 0, 0, 0, 0, 0, 0, 1, 9})
	assert.Error(t, err)
	_, err = wire.DecodeRes([]byte{0, 0, 0, 0, 0, 0, 0, 1, 9})
	assert.Error(t, err)
	_, err = wire.DecodeMsg([]byte{9})
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	req := &wire.Req{ID: 1, Type: wire.ReqFree, Free: wire.Free{ObjectID: 2}}
	full := wire.EncodeReq(req)
	for n := 0; n < len(full); n++ {
		_, err := wire.DecodeReq(full[:n])
		assert.Error(t, err, "truncating to %d bytes should fail to decode", n)
	}
}

// TestValueRoundTripIsLossless encodes the invariant that any Value
// produced by the wire types survives an encode/decode cycle unchanged.
func TestValueRoundTripIsLossless(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var arg *capability.Value
		if rapid.Bool().Draw(t, "isRef") {
			owner := rapid.Uint32().Draw(t, "owner")
			id := rapid.Uint64().Draw(t, "id")
			arg = capability.NewRef(owner, id)
		} else {
			n := rapid.IntRange(0, 64).Draw(t, "litLen")
			b := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "lit")
			arg = capability.NewLit(b)
		}

		req := &wire.Req{
			ID:   rapid.Uint64().Draw(t, "reqID"),
			Type: wire.ReqCall,
			Call: wire.Call{
				Mutable:  rapid.Bool().Draw(t, "mutable"),
				ObjectID: rapid.Uint64().Draw(t, "objectID"),
				MethodID: rapid.Uint64().Draw(t, "methodID"),
				Argument: arg,
			},
		}
		got, err := wire.DecodeReq(wire.EncodeReq(req))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Call.Argument.IsRef() != arg.IsRef() {
			t.Fatalf("kind mismatch")
		}
		if arg.IsRef() {
			if got.Call.Argument.Ref() != arg.Ref() {
				t.Fatalf("ref mismatch: %v != %v", got.Call.Argument.Ref(), arg.Ref())
			}
		} else if !bytes.Equal(got.Call.Argument.Lit(), arg.Lit()) {
			t.Fatalf("lit mismatch")
		}
	})
}
