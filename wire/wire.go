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

// Package wire implements the bit-exact binary encoding for messages
// exchanged between peers. This is deliberately not a generic
// serialization format: every shape is fixed and tag-then-payload, there
// is no schema negotiation, and unknown variant tags are a hard decode
// error rather than something to skip over. That rigidity is the point -
// both peers always agree on exactly one encoding for a given Go type, so
// there is nothing left to negotiate at runtime.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/objcap/objcap/capability"
	"github.com/objcap/objcap/errs"
)

// Dir tags which of Req/Res a Msg's payload holds.
type Dir uint8

const (
	DirReq Dir = 0
	DirRes Dir = 1
)

// ReqType tags which kind of request a Req carries.
type ReqType uint8

const (
	ReqCall ReqType = 0
	ReqFree ReqType = 1
)

// ResType tags which kind of response a Res carries.
type ResType uint8

const (
	ResCall ResType = 0
	ResFree ResType = 1
)

// Call is the body of an outstanding method invocation request.
type Call struct {
	Mutable    bool
	ObjectID   uint64
	MethodID   uint64
	Argument   *capability.Value // nil if the call takes no argument
	ToObjectID *uint64           // non-nil if the callee should store the result
}

// Free is the body of a request telling the callee it may drop the
// reservation for ObjectID; the caller holds no more references to it.
type Free struct {
	ObjectID uint64
}

// Req is one request message: either a Call or a Free, tagged by Type.
type Req struct {
	ID   uint64
	Type ReqType
	Call Call
	Free Free
}

// Return is the body of a successful Call response.
type Return struct {
	Value *capability.Value // nil if the call produced no storable value
}

// Res is one response message: either the Return for a Call or an
// acknowledgement of a Free, tagged by Type and correlated to its
// request by ID.
type Res struct {
	ID     uint64
	Type   ResType
	Return Return
}

// Msg is the outermost envelope: Dir says whether Data decodes as a Req
// or a Res.
type Msg struct {
	Dir  Dir
	Data []byte
}

// --- encoder/decoder primitives -------------------------------------------

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) byte(b byte)      { e.buf.WriteByte(b) }
func (e *encoder) bool(v bool)      { if v { e.byte(1) } else { e.byte(0) } }
func (e *encoder) u32(v uint32)     { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); e.buf.Write(b[:]) }
func (e *encoder) u64(v uint64)     { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); e.buf.Write(b[:]) }
func (e *encoder) bytesLP(b []byte) { var lb [8]byte; binary.BigEndian.PutUint64(lb[:], uint64(len(b))); e.buf.Write(lb[:]); e.buf.Write(b) }

func (e *encoder) optionU64(v *uint64) {
	if v == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.u64(*v)
}

func (e *encoder) value(v *capability.Value) {
	if v == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	if v.IsRef() {
		e.byte(1)
		r := v.Ref()
		e.u32(r.Owner)
		e.u64(r.ID)
	} else {
		e.byte(0)
		e.bytesLP(v.Lit())
	}
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int { return len(d.data) - d.off }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errs.Wrap(errs.ErrFramingError, "wire: truncated byte")
	}
	b := d.data[d.off]
	d.off++
	return b, nil
}

func (d *decoder) boolean() (bool, error) {
	b, err := d.byte()
	return b != 0, err
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, errs.Wrap(errs.ErrFramingError, "wire: truncated uint32")
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, errs.Wrap(errs.ErrFramingError, "wire: truncated uint64")
	}
	v := binary.BigEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) bytesLP() ([]byte, error) {
	n, err := d.u64()
	if err != nil {
		return nil, err
	}
	if uint64(d.remaining()) < n {
		return nil, errs.Wrap(errs.ErrFramingError, "wire: truncated byte string")
	}
	b := make([]byte, n)
	copy(b, d.data[d.off:d.off+int(n)])
	d.off += int(n)
	return b, nil
}

func (d *decoder) optionU64() (*uint64, error) {
	present, err := d.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := d.u64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *decoder) value() (*capability.Value, error) {
	present, err := d.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		b, err := d.bytesLP()
		if err != nil {
			return nil, err
		}
		return capability.NewLit(b), nil
	case 1:
		owner, err := d.u32()
		if err != nil {
			return nil, err
		}
		id, err := d.u64()
		if err != nil {
			return nil, err
		}
		return capability.NewRef(owner, id), nil
	default:
		return nil, errs.Wrapf(errs.ErrFramingError, "wire: unknown value tag %d", tag)
	}
}

// --- Req ------------------------------------------------------------------

// EncodeReq produces the byte representation of a Req.
func EncodeReq(req *Req) []byte {
	var e encoder
	e.u64(req.ID)
	switch req.Type {
	case ReqCall:
		e.byte(0)
		e.bool(req.Call.Mutable)
		e.u64(req.Call.ObjectID)
		e.u64(req.Call.MethodID)
		e.value(req.Call.Argument)
		e.optionU64(req.Call.ToObjectID)
	case ReqFree:
		e.byte(1)
		e.u64(req.Free.ObjectID)
	}
	return e.buf.Bytes()
}

// DecodeReq parses a Req from bytes produced by EncodeReq.
func DecodeReq(data []byte) (*Req, error) {
	d := decoder{data: data}
	id, err := d.u64()
	if err != nil {
		return nil, err
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	req := &Req{ID: id}
	switch tag {
	case 0:
		req.Type = ReqCall
		if req.Call.Mutable, err = d.boolean(); err != nil {
			return nil, err
		}
		if req.Call.ObjectID, err = d.u64(); err != nil {
			return nil, err
		}
		if req.Call.MethodID, err = d.u64(); err != nil {
			return nil, err
		}
		if req.Call.Argument, err = d.value(); err != nil {
			return nil, err
		}
		if req.Call.ToObjectID, err = d.optionU64(); err != nil {
			return nil, err
		}
	case 1:
		req.Type = ReqFree
		if req.Free.ObjectID, err = d.u64(); err != nil {
			return nil, err
		}
	default:
		return nil, errs.Wrapf(errs.ErrFramingError, "wire: unknown req tag %d", tag)
	}
	return req, nil
}

// --- Res ------------------------------------------------------------------

// EncodeRes produces the byte representation of a Res.
func EncodeRes(res *Res) []byte {
	var e encoder
	e.u64(res.ID)
	switch res.Type {
	case ResCall:
		e.byte(0)
		e.value(res.Return.Value)
	case ResFree:
		e.byte(1)
	}
	return e.buf.Bytes()
}

// DecodeRes parses a Res from bytes produced by EncodeRes.
func DecodeRes(data []byte) (*Res, error) {
	d := decoder{data: data}
	id, err := d.u64()
	if err != nil {
		return nil, err
	}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	res := &Res{ID: id}
	switch tag {
	case 0:
		res.Type = ResCall
		if res.Return.Value, err = d.value(); err != nil {
			return nil, err
		}
	case 1:
		res.Type = ResFree
	default:
		return nil, errs.Wrapf(errs.ErrFramingError, "wire: unknown res tag %d", tag)
	}
	return res, nil
}

// --- Msg --------------------------------------------------------------

// EncodeMsg wraps an already-encoded Req or Res payload in a Msg frame.
func EncodeMsg(dir Dir, payload []byte) []byte {
	var e encoder
	e.byte(byte(dir))
	e.bytesLP(payload)
	return e.buf.Bytes()
}

// DecodeMsg parses a Msg frame, returning the direction and the nested
// Req/Res payload (still encoded; decode it with DecodeReq or DecodeRes
// according to Dir).
func DecodeMsg(data []byte) (*Msg, error) {
	d := decoder{data: data}
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	var dir Dir
	switch tag {
	case 0:
		dir = DirReq
	case 1:
		dir = DirRes
	default:
		return nil, errs.Wrapf(errs.ErrFramingError, "wire: unknown msg dir %d", tag)
	}
	payload, err := d.bytesLP()
	if err != nil {
		return nil, err
	}
	return &Msg{Dir: dir, Data: payload}, nil
}

// WriteMsg writes a length-delimited Msg frame to w: a big-endian uint32
// byte count followed by the frame itself. This outer framing is what
// lets a stream transport (e.g. a TCP socket) recover message boundaries;
// Msg/Req/Res encode the logical content once that boundary is known.
func WriteMsg(w io.Writer, frame []byte) error {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(frame)))
	if _, err := w.Write(lb[:]); err != nil {
		return errs.Wrap(err, "wire: write frame length")
	}
	if _, err := w.Write(frame); err != nil {
		return errs.Wrap(err, "wire: write frame body")
	}
	return nil
}

// ReadMsg reads one length-delimited frame written by WriteMsg.
func ReadMsg(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, errs.Wrap(err, "wire: read frame body")
	}
	return frame, nil
}
