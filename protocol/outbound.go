// File: protocol/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound flow: producers hand messages to a lock-free queue, the owning
// worker moves them into per-stream FIFOs and offers frames round-robin
// across streams, honouring substrate back pressure.

package protocol

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
	"github.com/momentics/hioload-flow/internal/concurrency"
)

const (
	handoffMinWait = 50 * time.Microsecond
	handoffMaxWait = 5 * time.Millisecond
)

type sendRequest struct {
	stream  int32
	payload []byte
	done    func(error)
}

type pendingMessage struct {
	req       *sendRequest
	index     int
	count     int
	refusedAt time.Time
}

type outStream struct {
	id     int32
	fifo   *queue.Queue // *sendRequest
	seq    uint32
	cur    *pendingMessage
	active bool
}

func (st *outStream) idle() bool { return st.cur == nil && st.fifo.Length() == 0 }

type controlFrame struct {
	typ  core.ControlType
	body []byte
}

type outboundState struct {
	submit  *concurrency.LockFreeQueue[*sendRequest]
	queued  atomic.Int64
	limit   int64
	streams map[int32]*outStream
	active  []*outStream
	rr      int

	control    *queue.Queue // controlFrame
	controlSeq uint32
	lastOffer  time.Time
}

func (o *outboundState) init(capacity int) {
	o.submit = concurrency.NewLockFreeQueue[*sendRequest](capacity)
	o.limit = int64(capacity)
	o.streams = make(map[int32]*outStream)
	o.control = queue.New()
}

// Outbound is the sending half of a connection. The zero value is unusable;
// obtain one from Connection.Outbound.
type Outbound struct {
	c      *Connection
	stream int32
}

// StreamID returns the data stream this outbound writes to.
func (o *Outbound) StreamID() int32 { return o.stream }

// Stream returns an outbound for another data stream of the same session.
// Stream ids must be positive; zero is reserved for control messages.
func (o *Outbound) Stream(id int32) *Outbound {
	return &Outbound{c: o.c, stream: id}
}

// Send blocks until every frame of payload was accepted by the substrate or
// the send failed. If ctx ends after the hand-off the message may still be
// delivered.
func (o *Outbound) Send(ctx context.Context, payload []byte) error {
	res := make(chan error, 1)
	if err := o.SendAsync(ctx, payload, func(err error) { res <- err }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAsync hands payload to the owning worker. done runs exactly once, on
// the worker, when the message was fully accepted or failed. A non-nil
// return means the hand-off did not happen and done will not run. payload
// must not be modified until done ran.
func (o *Outbound) SendAsync(ctx context.Context, payload []byte, done func(error)) error {
	c := o.c
	if o.stream <= core.ControlStreamID {
		return api.NewError(api.ErrCodeInvalidArgument, "data stream id must be positive").
			WithContext("stream", o.stream)
	}
	if len(payload) > c.opts.MaxMessageSize {
		return api.NewError(api.ErrCodeInvalidArgument, "message exceeds max size").
			WithContext("size", len(payload)).WithContext("max", c.opts.MaxMessageSize)
	}
	if done == nil {
		done = func(error) {}
	}
	req := &sendRequest{stream: o.stream, payload: payload, done: done}

	wait := handoffMinWait
	var timer *time.Timer
	for {
		if c.closed.Load() {
			return c.closedErr()
		}
		if c.out.queued.Add(1) <= c.out.limit && c.out.submit.Enqueue(req) {
			break
		}
		c.out.queued.Add(-1)
		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.closedErr()
		case <-timer.C:
		}
		if wait *= 2; wait > handoffMaxWait {
			wait = handoffMaxWait
		}
	}
	c.worker.Wake()
	if c.closed.Load() {
		// raced with teardown; whoever dequeues fails the request
		c.out.submit.Drain(0, func(r *sendRequest) { c.complete(r, c.cause) })
	}
	return nil
}

// SendFrom sends every message received from msgs until it is closed, then
// waits for the outstanding sends. It returns the first failure.
func (o *Outbound) SendFrom(ctx context.Context, msgs <-chan []byte) error {
	var (
		first   atomic.Pointer[error]
		pending atomic.Int64
		drained = make(chan struct{})
		closed  atomic.Bool
	)
	finish := func() {
		if pending.Add(-1) == 0 && closed.Load() {
			close(drained)
		}
	}
	done := func(err error) {
		if err != nil {
			first.CompareAndSwap(nil, &err)
		}
		finish()
	}
	pending.Add(1)
	for {
		if p := first.Load(); p != nil {
			break
		}
		var (
			msg []byte
			ok  bool
		)
		select {
		case msg, ok = <-msgs:
		case <-ctx.Done():
			first.CompareAndSwap(nil, ptr(ctx.Err()))
		}
		if !ok {
			break
		}
		pending.Add(1)
		if err := o.SendAsync(ctx, msg, done); err != nil {
			first.CompareAndSwap(nil, &err)
			pending.Add(-1)
			break
		}
	}
	closed.Store(true)
	finish()
	select {
	case <-drained:
	case <-ctx.Done():
		first.CompareAndSwap(nil, ptr(ctx.Err()))
	}
	if p := first.Load(); p != nil {
		return *p
	}
	return nil
}

func ptr(err error) *error { return &err }

func (c *Connection) closedErr() error {
	if c.cause != nil {
		return c.cause
	}
	return ErrDisposed
}

// complete finishes a request. Runs on the worker except for the teardown
// race handled in SendAsync.
func (c *Connection) complete(r *sendRequest, err error) {
	c.out.queued.Add(-1)
	r.done(err)
}

func (c *Connection) drainSubmissions() int {
	return c.out.submit.Drain(int(c.out.limit), c.enqueue)
}

func (c *Connection) enqueue(r *sendRequest) {
	o := &c.out
	st := o.streams[r.stream]
	if st == nil {
		st = &outStream{id: r.stream, fifo: queue.New()}
		o.streams[r.stream] = st
	}
	st.fifo.Add(r)
	if !st.active {
		st.active = true
		o.active = append(o.active, st)
	}
}

func (c *Connection) queueControl(msg core.Control) {
	body, err := core.EncodeControl(msg)
	if err != nil {
		c.log.Error("control encode", zap.Error(err))
		return
	}
	c.out.control.Add(controlFrame{typ: msg.Type, body: body})
	c.worker.Wake()
}

// DoOutbound implements reactor.Agent.
func (c *Connection) DoOutbound(now time.Time) int {
	if c.released {
		return 0
	}
	c.now = now
	work := c.drainSubmissions()
	if c.sess.Status() >= api.SessionClosing || c.pub == nil {
		return work
	}
	n, ok := c.offerControl(now)
	work += n
	if !ok || c.sess.Status() != api.SessionConnected {
		return work
	}
	work += c.offerData(now)
	if c.sess.Status() == api.SessionConnected {
		c.maybeHeartbeat(now)
	}
	return work
}

// offerControl drains the control queue. It reports false while control
// frames are still pending or the connection was torn down.
func (c *Connection) offerControl(now time.Time) (int, bool) {
	o := &c.out
	sent := 0
	for o.control.Length() > 0 {
		f := o.control.Peek().(controlFrame)
		h := core.Header{
			SessionID: c.sess.SessionID(),
			StreamID:  core.ControlStreamID,
			Flags:     core.FlagsUnfragmented,
			Sequence:  o.controlSeq,
		}
		n, err := core.EncodeFrame(c.scratch, h, f.body)
		if err != nil {
			o.control.Remove()
			c.log.Error("control frame encode", zap.Error(err))
			continue
		}
		r := c.pub.Offer(c.scratch[:n])
		switch {
		case r == api.OfferSuccess:
			o.control.Remove()
			o.controlSeq++
			o.lastOffer = now
			sent++
			c.opts.Observer.FramesOut(c.worker.ID(), 1)
			if f.typ == core.ControlConnectAck {
				c.onAckSent()
				if c.closed.Load() {
					return sent, false
				}
			}
		case r.Retryable():
			return sent, false
		case r == api.OfferNotConnected && c.sess.Status() == api.SessionConnecting:
			return sent, false
		default:
			c.teardown(offerFailure(r))
			return sent + 1, false
		}
	}
	return sent, true
}

type offerOutcome uint8

const (
	offerSent offerOutcome = iota
	offerIdle
	offerBlocked
	offerFatal
)

func (c *Connection) offerData(now time.Time) int {
	o := &c.out
	frames := 0
	for frames < c.opts.MaxFramesPerTick && len(o.active) > 0 {
		if o.rr >= len(o.active) {
			o.rr = 0
		}
		st := o.active[o.rr]
		switch c.offerNext(st, now) {
		case offerSent:
			frames++
			o.rr++
		case offerIdle:
			st.active = false
			o.active = append(o.active[:o.rr], o.active[o.rr+1:]...)
		case offerBlocked:
			return frames + c.retire(st)
		case offerFatal:
			return frames + 1
		}
	}
	return frames
}

// retire drops an emptied stream from the rotation after a failed message.
func (c *Connection) retire(st *outStream) int {
	if !st.idle() || !st.active {
		return 0
	}
	o := &c.out
	for i, s := range o.active {
		if s == st {
			st.active = false
			o.active = append(o.active[:i], o.active[i+1:]...)
			break
		}
	}
	return 1
}

// offerNext offers the next frame of st.
func (c *Connection) offerNext(st *outStream, now time.Time) offerOutcome {
	if st.cur == nil {
		if st.fifo.Length() == 0 {
			return offerIdle
		}
		req := st.fifo.Remove().(*sendRequest)
		st.cur = &pendingMessage{req: req, count: c.frag.Count(len(req.payload))}
	}
	p := st.cur
	chunk, flags := c.frag.Chunk(p.req.payload, p.index)
	h := core.Header{
		SessionID: c.sess.SessionID(),
		StreamID:  st.id,
		Flags:     flags,
		Sequence:  st.seq,
	}
	n, err := core.EncodeFrame(c.scratch, h, chunk)
	if err != nil {
		st.cur = nil
		c.complete(p.req, err)
		return offerSent
	}

	r := c.pub.Offer(c.scratch[:n])
	switch {
	case r == api.OfferSuccess:
		st.seq++
		p.index++
		p.refusedAt = time.Time{}
		c.out.lastOffer = now
		c.sess.Touch(now)
		c.opts.Observer.FramesOut(c.worker.ID(), 1)
		if p.index == p.count {
			st.cur = nil
			c.opts.Observer.MessagesOut(c.worker.ID(), 1)
			c.complete(p.req, nil)
		}
		return offerSent
	case r.Retryable():
		if p.refusedAt.IsZero() {
			p.refusedAt = now
			return offerBlocked
		}
		if now.Sub(p.refusedAt) < c.opts.BackoffBudget {
			return offerBlocked
		}
		if p.index > 0 {
			c.queueControl(core.Control{Type: core.ControlAbort, StreamID: st.id})
		}
		st.cur = nil
		c.complete(p.req, api.NewError(api.ErrCodeBackpressureTimeout, api.ErrBackpressureTimeout.Message).
			WithContext("stream", st.id).
			WithContext("frames_accepted", p.index).
			WithContext("budget", c.opts.BackoffBudget.String()))
		return offerBlocked
	default:
		c.teardown(offerFailure(r))
		return offerFatal
	}
}

func (c *Connection) maybeHeartbeat(now time.Time) {
	iv := c.opts.HeartbeatInterval
	if iv <= 0 || c.out.control.Length() > 0 || now.Sub(c.out.lastOffer) < iv {
		return
	}
	c.queueControl(core.Control{Type: core.ControlHeartbeat})
	// the interval restarts at the attempt, accepted or not
	c.out.lastOffer = now
}

// failOutbound fails every queued and in-flight message with cause.
func (c *Connection) failOutbound(cause error) {
	o := &c.out
	for _, st := range o.streams {
		if st.cur != nil {
			c.complete(st.cur.req, cause)
			st.cur = nil
		}
		for st.fifo.Length() > 0 {
			c.complete(st.fifo.Remove().(*sendRequest), cause)
		}
		st.active = false
	}
	o.active = o.active[:0]
	o.submit.Drain(0, func(r *sendRequest) { c.complete(r, cause) })
	for o.control.Length() > 0 {
		o.control.Remove()
	}
}

func offerFailure(r api.OfferResult) error {
	return api.NewError(api.ErrCodeSessionUnavailable, "publication refused offer").
		WithContext("result", r.String())
}

func substrateFailure(op string, err error) error {
	return api.NewError(api.ErrCodeSubstrateFailure, op).WithCause(errors.WithStack(err))
}
