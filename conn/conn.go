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

// Package conn implements the connection engine: the component that owns
// a transport, a pool, the table of outstanding outbound calls, and the
// two id allocators (request ids and low-range stored-result ids). It
// runs an inbound message pump that dispatches incoming requests to local
// objects and completes outbound calls from incoming responses, and an
// outbound path that issues calls and batches Free notifications for
// dropped proxies.
package conn

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/objcap/objcap/capability"
	"github.com/objcap/objcap/config"
	"github.com/objcap/objcap/errs"
	"github.com/objcap/objcap/event"
	"github.com/objcap/objcap/log"
	"github.com/objcap/objcap/metrics"
	"github.com/objcap/objcap/pool"
	"github.com/objcap/objcap/proxy"
	"github.com/objcap/objcap/transport"
	"github.com/objcap/objcap/wire"
)

// State is the connection's lifecycle stage.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type outboundResult struct {
	value *capability.Value
	err   error
}

// Conn is a single bidirectional connection to a peer. The zero value is
// not usable; build one with New.
type Conn struct {
	id    uuid.UUID
	cfg   config.Config
	log   log.Logger
	mx    *metrics.Registry
	ev    *event.Bus
	trans transport.Conn
	pl    *pool.Pool

	reqCounter uint64
	lowCounter uint64

	writeMu sync.Mutex

	mu          sync.Mutex
	outstanding map[uint64]chan outboundResult

	state int32

	sem       chan struct{}
	freeQueue chan uint64
	freeSeen  *lru.Cache[uint64, struct{}]

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Conn at construction time.
type Option func(*Conn)

func WithConfig(cfg config.Config) Option  { return func(c *Conn) { c.cfg = cfg } }
func WithLogger(l log.Logger) Option       { return func(c *Conn) { c.log = l } }
func WithMetrics(m *metrics.Registry) Option { return func(c *Conn) { c.mx = m } }
func WithEvents(b *event.Bus) Option       { return func(c *Conn) { c.ev = b } }

// New builds a Conn over an already-established transport. Call Run to
// start its pumps.
func New(t transport.Conn, opts ...Option) *Conn {
	c := &Conn{
		id:          uuid.New(),
		cfg:         config.Default(),
		log:         log.Root(),
		ev:          event.New(),
		trans:       t,
		pl:          pool.New(),
		outstanding: make(map[uint64]chan outboundResult),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mx == nil {
		c.mx = metrics.NewRegistry("objcap")
	}
	c.log = c.log.With("conn", c.id.String())
	c.sem = make(chan struct{}, maxInt(c.cfg.MaxInboundConcurrency, 1))
	c.freeQueue = make(chan uint64, maxInt(c.cfg.FreeQueueDepth, 1))
	freeSeen, _ := lru.New[uint64, struct{}](maxInt(c.cfg.FreeQueueDepth, 1))
	c.freeSeen = freeSeen
	return c
}

// ID is a process-local correlation id for this connection, used only in
// logs and metrics labels; it never appears on the wire.
func (c *Conn) ID() uuid.UUID { return c.id }

// Outstanding returns a sorted snapshot of request ids currently awaiting
// a response. Intended for diagnostics and tests.
func (c *Conn) Outstanding() []uint64 {
	c.mu.Lock()
	ids := maps.Keys(c.outstanding)
	c.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Dial opens a TCP connection to addr and wraps it as a Conn. Call Run to
// start it.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Conn, error) {
	nc, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return New(transport.NewNetConn(nc), opts...), nil
}

// Pool exposes the connection's object pool, so applications can register
// well-known local objects (e.g. at a fixed id) before calling Run.
func (c *Conn) Pool() *pool.Pool { return c.pl }

// Events exposes the connection's lifecycle event bus.
func (c *Conn) Events() *event.Bus { return c.ev }

// State reports the connection's current lifecycle stage.
func (c *Conn) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Conn) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
	c.mx.ConnectionState.Set(float64(s))
}

// Done returns a channel that is closed once the connection has finished
// tearing down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run starts the inbound dispatch pump and the outbound free-batching
// pump, blocking until the transport fails, ctx is cancelled, or Close is
// called. It always returns a non-nil error: context.Canceled when ctx is
// cancelled, and the closed transport's read error after Close.
func (c *Conn) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runInbound(gctx) })
	g.Go(func() error { return c.runFreeFlush(gctx) })
	g.Go(func() error {
		// The transport's ReadMsg does not observe cancellation, so
		// closing it is what unblocks the inbound pump.
		<-gctx.Done()
		c.trans.Close()
		return gctx.Err()
	})
	c.ev.Post(event.Dialed{})

	err := g.Wait()
	c.teardown(err)
	return err
}

// Close begins a graceful shutdown: the connection stops accepting new
// work and its transport is closed, which unblocks Run.
func (c *Conn) Close() error {
	c.setState(StateDraining)
	c.ev.Post(event.Draining{})
	return c.trans.Close()
}

func (c *Conn) teardown(runErr error) {
	c.setState(StateClosed)
	c.pl.Shutdown()
	c.syncPoolMetrics()

	c.mu.Lock()
	outstanding := c.outstanding
	c.outstanding = nil
	c.mu.Unlock()
	c.mx.Outstanding.Set(0)
	for _, ch := range outstanding {
		ch <- outboundResult{err: errs.ErrSessionClosed}
	}

	c.closeOnce.Do(func() { close(c.done) })
	c.ev.Post(event.Closed{Err: runErr})
}

// --- inbound pump -----------------------------------------------------

func (c *Conn) runInbound(ctx context.Context) error {
	for {
		frame, err := c.trans.ReadMsg(ctx)
		if err != nil {
			return err
		}
		// A frame that fails to decode is fatal to the session.
		msg, err := wire.DecodeMsg(frame)
		if err != nil {
			c.log.Error("malformed message frame, closing session", "err", err)
			return err
		}
		switch msg.Dir {
		case wire.DirReq:
			req, err := wire.DecodeReq(msg.Data)
			if err != nil {
				c.log.Error("malformed request, closing session", "err", err)
				return err
			}
			c.mx.RequestsReceived.Inc()
			go c.handleReq(ctx, req)
		case wire.DirRes:
			res, err := wire.DecodeRes(msg.Data)
			if err != nil {
				c.log.Error("malformed response, closing session", "err", err)
				return err
			}
			c.handleRes(res)
		}
	}
}

func (c *Conn) handleReq(ctx context.Context, req *wire.Req) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.sem }()

	var res *wire.Res
	switch req.Type {
	case wire.ReqCall:
		res = c.handleCall(ctx, req)
	case wire.ReqFree:
		c.handleFree(req)
		res = &wire.Res{ID: req.ID, Type: wire.ResFree}
	}
	if res == nil {
		return
	}
	if err := c.sendRes(ctx, res); err != nil {
		c.log.Warn("failed to send response", "req_id", req.ID, "err", err)
	}
}

func (c *Conn) handleCall(ctx context.Context, req *wire.Req) *wire.Res {
	call := req.Call

	lv, err := c.pl.Get(ctx, call.ObjectID)
	if err != nil {
		c.log.Debug("call on unknown or unresolvable object", "object_id", call.ObjectID, "err", err)
		return &wire.Res{ID: req.ID, Type: wire.ResCall}
	}
	if !lv.IsObject() {
		// Calling a literal is a defined no-op: nothing to invoke.
		return &wire.Res{ID: req.ID, Type: wire.ResCall}
	}

	var arg *capability.Local
	if call.Argument != nil {
		lifted, err := c.liftValue(call.Argument, capability.ErrInvalidArgument)
		if err != nil {
			c.mx.CallErrors.WithLabelValues(callErrLabel(err)).Inc()
			c.log.Debug("rejected call argument", "object_id", call.ObjectID, "method_id", call.MethodID, "err", err)
			return &wire.Res{ID: req.ID, Type: wire.ResCall}
		}
		arg = &lifted
	}

	obj := lv.Object()
	var result *capability.Local
	if call.Mutable {
		result, err = obj.CallMut(ctx, call.MethodID, arg)
	} else {
		result, err = obj.Call(ctx, call.MethodID, arg)
	}
	if err != nil {
		c.mx.CallErrors.WithLabelValues(callErrLabel(err)).Inc()
		c.log.Debug("object call failed", "object_id", call.ObjectID, "method_id", call.MethodID, "err", err)
		return &wire.Res{ID: req.ID, Type: wire.ResCall}
	}

	return &wire.Res{ID: req.ID, Type: wire.ResCall, Return: wire.Return{
		Value: c.buildReturnValue(call.ToObjectID, result),
	}}
}

// buildReturnValue lowers a local call result into a wire value,
// following one fixed precedence: a requested storage slot always wins
// (the result, literal or object, is stashed in the pool and handed back
// as a reference into it); absent that, a literal result is returned
// directly; an object result with nowhere to be stored cannot be named on
// the wire and is dropped.
func (c *Conn) buildReturnValue(toID *uint64, result *capability.Local) *capability.Value {
	if result == nil {
		return nil
	}
	if toID != nil {
		if err := c.pl.InsertResolved(*toID, *result); err != nil {
			c.log.Warn("failed to store call result", "to_object_id", *toID, "err", err)
			return nil
		}
		c.syncPoolMetrics()
		return capability.NewRef(0, *toID)
	}
	if !result.IsObject() {
		return capability.NewLit(result.Bytes())
	}
	return nil
}

// closer is satisfied by *proxy.Proxy; handleFree uses it to cascade a
// Free through a chain of proxies instead of waiting on GC finalizer
// timing, which is unspecified.
type closer interface{ Close() }

func (c *Conn) handleFree(req *wire.Req) {
	v, existed, err := c.pl.Remove(req.Free.ObjectID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		c.log.Warn("error removing freed object", "object_id", req.Free.ObjectID, "err", err)
		return
	}
	if existed {
		c.mx.FreedObjects.Inc()
		c.syncPoolMetrics()
		if v.IsObject() {
			if cl, ok := v.Object().(closer); ok {
				cl.Close()
			}
		}
	}
}

// syncPoolMetrics refreshes the pool-size and exposed-object gauges from
// the pool's own counts. Called after the connection itself stores,
// exposes or frees a resolved entry, and at teardown, rather than
// continuously, since these are diagnostic gauges rather than values
// anything blocks on; changes made directly through Pool() show up at the
// next such refresh.
func (c *Conn) syncPoolMetrics() {
	c.mx.PoolSize.Set(float64(c.pl.Len()))
	c.mx.ExposedObjects.Set(float64(c.pl.ExposedCount()))
}

// registerOutstanding records a request id's response channel and reports
// ok=false once the connection has torn down its outstanding table.
func (c *Conn) registerOutstanding(reqID uint64, ch chan outboundResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding == nil {
		return false
	}
	c.outstanding[reqID] = ch
	c.mx.Outstanding.Set(float64(len(c.outstanding)))
	return true
}

// removeOutstanding deletes a request id from the outstanding table, if
// still present, updating the gauge, and returns its response channel
// with ok=true when it was present.
func (c *Conn) removeOutstanding(reqID uint64) (chan outboundResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding == nil {
		return nil, false
	}
	ch, ok := c.outstanding[reqID]
	if ok {
		delete(c.outstanding, reqID)
		c.mx.Outstanding.Set(float64(len(c.outstanding)))
	}
	return ch, ok
}

func (c *Conn) handleRes(res *wire.Res) {
	ch, ok := c.removeOutstanding(res.ID)
	if !ok {
		c.log.Debug("response for unknown or already-completed request, dropping", "req_id", res.ID)
		return
	}
	switch res.Type {
	case wire.ResCall:
		ch <- outboundResult{value: res.Return.Value}
	case wire.ResFree:
		ch <- outboundResult{}
	}
}

// --- outbound calls ----------------------------------------------------

// Call issues an outbound method invocation on objectID and blocks for
// the response. It satisfies proxy.Dispatcher, so a *Conn can always back
// a Proxy directly.
func (c *Conn) Call(ctx context.Context, objectID uint64, mutable bool, methodID uint64, arg *capability.Local, storeResult bool) (*capability.Local, error) {
	if c.State() != StateRunning {
		return nil, errs.ErrSessionClosed
	}

	reqID := atomic.AddUint64(&c.reqCounter, 1)

	var wireArg *capability.Value
	if arg != nil {
		wa, err := c.lowerLocal(*arg)
		if err != nil {
			return nil, err
		}
		wireArg = wa
	}

	var toID *uint64
	if storeResult {
		id, err := c.nextLowID()
		if err != nil {
			return nil, err
		}
		toID = &id
	}

	resCh := make(chan outboundResult, 1)
	if !c.registerOutstanding(reqID, resCh) {
		return nil, errs.ErrSessionClosed
	}

	req := &wire.Req{ID: reqID, Type: wire.ReqCall, Call: wire.Call{
		Mutable:    mutable,
		ObjectID:   objectID,
		MethodID:   methodID,
		Argument:   wireArg,
		ToObjectID: toID,
	}}
	if err := c.sendReq(ctx, req); err != nil {
		c.removeOutstanding(reqID)
		if c.State() != StateRunning {
			return nil, errs.ErrSessionClosed
		}
		return nil, err
	}

	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, r.err
		}
		if r.value == nil {
			return nil, nil
		}
		lifted, err := c.liftValue(r.value, errs.ErrEncodingError)
		if err != nil {
			c.log.Error("malformed reference in response, closing session", "err", err)
			go c.Close()
			return nil, err
		}
		return &lifted, nil
	case <-callCtx.Done():
		c.removeOutstanding(reqID)
		return nil, callCtx.Err()
	case <-c.done:
		return nil, errs.ErrSessionClosed
	}
}

// Free queues a notification telling the peer that objectID may be
// dropped. It never blocks the caller: if the batching queue is full the
// notification is sent immediately on its own goroutine instead. Once the
// connection has left the Running state the notification is dropped.
func (c *Conn) Free(objectID uint64) {
	if c.State() != StateRunning {
		return
	}
	select {
	case c.freeQueue <- objectID:
	default:
		go func() {
			if err := c.sendFreeNow(context.Background(), objectID); err != nil {
				c.log.Debug("failed to send overflow free", "object_id", objectID, "err", err)
			}
		}()
	}
}

func (c *Conn) runFreeFlush(ctx context.Context) error {
	ticker := time.NewTicker(maxDuration(c.cfg.FreeFlushInterval, time.Millisecond))
	defer ticker.Stop()

	pending := make(map[uint64]struct{})
	flush := func() {
		for id := range pending {
			if _, seen := c.freeSeen.Get(id); seen {
				continue
			}
			c.freeSeen.Add(id, struct{}{})
			if err := c.sendFreeNow(ctx, id); err != nil {
				c.log.Debug("failed to send free", "object_id", id, "err", err)
			}
		}
		pending = make(map[uint64]struct{})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case id := <-c.freeQueue:
			pending[id] = struct{}{}
			if len(pending) >= c.cfg.FreeQueueDepth {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func (c *Conn) sendFreeNow(ctx context.Context, objectID uint64) error {
	reqID := atomic.AddUint64(&c.reqCounter, 1)
	resCh := make(chan outboundResult, 1)
	c.registerOutstanding(reqID, resCh)

	req := &wire.Req{ID: reqID, Type: wire.ReqFree, Free: wire.Free{ObjectID: objectID}}
	if err := c.sendReq(ctx, req); err != nil {
		c.removeOutstanding(reqID)
		return err
	}

	// Fire-and-forget: the caller never learns whether the peer
	// acknowledged a Free, it just stops occupying the outstanding table.
	go func() {
		select {
		case <-resCh:
		case <-c.done:
		case <-time.After(c.cfg.CallTimeout + time.Second):
		}
		c.removeOutstanding(reqID)
	}()
	return nil
}

// --- id allocation and value lifting ------------------------------------

func (c *Conn) nextLowID() (uint64, error) {
	id := atomic.AddUint64(&c.lowCounter, 1) - 1
	if id >= pool.Partition {
		return 0, errs.ErrOutOfKeys
	}
	return id, nil
}

// lowerLocal turns a local value into a wire value for an outbound
// message. Every object value, proxies included, is exposed in the local
// pool under a fresh high-range id, so the Ref sent always names an entry
// of this peer's pool.
func (c *Conn) lowerLocal(v capability.Local) (*capability.Value, error) {
	if !v.IsObject() {
		return capability.NewLit(v.Bytes()), nil
	}
	id, err := c.pl.Expose(v)
	if err != nil {
		return nil, err
	}
	c.syncPoolMetrics()
	return capability.NewRef(0, id), nil
}

// liftValue turns a wire value arriving from the peer into a local value:
// a literal passes through unchanged, a reference becomes a Proxy bound
// to this connection. Owner is reserved for future cross-peer routing and
// is not currently meaningful, so a non-zero value on a decoded reference
// is rejected rather than silently misrouted; ownerErr lets each call site
// report that rejection in its own taxonomy (a call-scoped CallError for
// an inbound argument, a connection-fatal error for a decoded response).
func (c *Conn) liftValue(v *capability.Value, ownerErr error) (capability.Local, error) {
	if v.IsRef() {
		ref := v.Ref()
		if ref.Owner != 0 {
			return capability.Local{}, ownerErr
		}
		return capability.ObjectLocal(proxy.New(c, ref.ID)), nil
	}
	return capability.LitLocal(v.Lit()), nil
}

// --- wire I/O -----------------------------------------------------------

func (c *Conn) sendReq(ctx context.Context, req *wire.Req) error {
	frame := wire.EncodeMsg(wire.DirReq, wire.EncodeReq(req))
	c.mx.RequestsSent.Inc()
	return c.send(ctx, frame)
}

func (c *Conn) sendRes(ctx context.Context, res *wire.Res) error {
	frame := wire.EncodeMsg(wire.DirRes, wire.EncodeRes(res))
	c.mx.ResponsesSent.Inc()
	return c.send(ctx, frame)
}

func (c *Conn) send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.trans.WriteMsg(ctx, frame)
}

func callErrLabel(err error) string {
	switch {
	case errors.Is(err, capability.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, capability.ErrFailed):
		return "failed"
	case errors.Is(err, capability.ErrComm):
		return "comm"
	case errors.Is(err, capability.ErrUnknownMethod):
		return "unknown_method"
	case errors.Is(err, capability.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "other"
	}
}
