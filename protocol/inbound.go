// File: protocol/inbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbound flow: the owning worker polls the substrate only while the
// subscriber has outstanding demand, reassembles frames and delivers
// complete messages synchronously.

package protocol

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
)

type consumerBox struct {
	c api.Consumer
}

type inboundState struct {
	demand       DemandCounter
	consumer     atomic.Pointer[consumerBox]
	cancelled    atomic.Bool
	terminalSent atomic.Bool
	polled       int

	controlSeq  uint32
	controlSeen bool
}

// Inbound is the receiving half of a connection.
type Inbound struct {
	c *Connection
}

// Subscription is the handle a consumer uses to pull messages.
type Subscription struct {
	c *Connection
}

// Subscribe attaches the single consumer of this inbound. Nothing is
// delivered until demand is requested through the returned subscription.
func (in *Inbound) Subscribe(consumer api.Consumer) (*Subscription, error) {
	if consumer == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil consumer")
	}
	c := in.c
	if !c.in.consumer.CompareAndSwap(nil, &consumerBox{c: consumer}) {
		return nil, ErrAlreadySubscribed
	}
	if c.closed.Load() {
		// terminated before anyone listened
		if err := c.worker.Execute(c.signalTerminal); err != nil {
			c.signalTerminal()
		}
	}
	return &Subscription{c: c}, nil
}

// Request grants n more messages. Non-positive n is ignored; the total
// saturates at the configured maximum demand.
//
// While demand is zero the substrate is not polled and the liveness timeout
// is suspended, so a peer that went silent is only noticed once demand is
// granted again. Image loss and local disposal still tear down at once.
func (s *Subscription) Request(n int64) {
	if n <= 0 {
		return
	}
	s.c.in.demand.Add(n)
	s.c.worker.Wake()
}

// Demand returns the outstanding demand.
func (s *Subscription) Demand() int64 { return s.c.in.demand.Load() }

// Cancel stops delivery and tears the connection down on its next tick.
// The consumer receives no terminal signal after cancelling.
func (s *Subscription) Cancel() {
	if s.c.in.cancelled.CompareAndSwap(false, true) {
		s.c.worker.Wake()
	}
}

// DoInbound implements reactor.Agent.
func (c *Connection) DoInbound(now time.Time) int {
	if c.released || c.source == nil {
		return 0
	}
	c.now = now
	if c.in.cancelled.Load() {
		c.teardown(errCancelled)
		return 1
	}
	limit := 1
	if c.sess.Status() == api.SessionConnected {
		d := c.in.demand.Load()
		if d <= 0 {
			// not reading is not the peer's fault
			c.sess.Touch(now)
			return 0
		}
		limit = c.opts.MaxFragmentsPerPoll
		if d < int64(limit) {
			limit = int(d)
		}
	}
	c.in.polled = 0
	n := c.source.Poll(c.onFragment, limit)
	if n > 0 {
		c.opts.Observer.FramesIn(c.worker.ID(), c.in.polled)
	}
	return n
}

func (c *Connection) onFragment(buf []byte, _ int32) {
	if c.sess.Status() >= api.SessionClosing {
		return
	}
	h, payload, err := core.DecodeFrame(buf)
	if err != nil {
		c.teardown(err)
		return
	}
	if h.SessionID != c.sess.SessionID() {
		return
	}
	c.in.polled++
	c.sess.Touch(c.now)
	if h.StreamID == core.ControlStreamID {
		if err := c.checkControlFrame(h); err != nil {
			c.teardown(err)
			return
		}
		c.onControl(payload)
		return
	}
	if c.sess.Status() != api.SessionConnected {
		c.teardown(api.NewError(api.ErrCodeProtocolViolation, "data frame before handshake").
			WithContext("stream", h.StreamID))
		return
	}
	if err := c.reasm.OnFrame(h, payload, c.deliver); err != nil {
		c.teardown(err)
	}
}

// checkControlFrame enforces single-frame control messages in sequence.
func (c *Connection) checkControlFrame(h core.Header) error {
	if h.Flags != core.FlagsUnfragmented {
		return api.NewError(api.ErrCodeProtocolViolation, "fragmented control frame").
			WithContext("flags", h.Flags)
	}
	if c.in.controlSeen && h.Sequence != c.in.controlSeq+1 {
		return api.NewError(api.ErrCodeProtocolViolation, "control sequence gap").
			WithContext("sequence", h.Sequence).WithContext("expected", c.in.controlSeq+1)
	}
	c.in.controlSeen = true
	c.in.controlSeq = h.Sequence
	return nil
}

func (c *Connection) deliver(stream int32, msg []byte) {
	if c.sess.Status() >= api.SessionClosing {
		return
	}
	box := c.in.consumer.Load()
	if box == nil || !c.in.demand.Consume() {
		c.teardown(api.NewError(api.ErrCodeInternal, "message delivered without demand").
			WithContext("stream", stream))
		return
	}
	c.opts.Observer.MessagesIn(c.worker.ID(), 1)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("consumer panic", zap.Any("panic", r), zap.Stack("stack"))
			c.teardown(api.NewError(api.ErrCodeInternal, "consumer panic").
				WithContext("panic", fmt.Sprint(r)))
		}
	}()
	box.c.OnMessage(api.Message{StreamID: stream, Payload: msg})
}

// signalTerminal delivers the terminal signal once, if someone listens and
// did not cancel.
func (c *Connection) signalTerminal() {
	if c.in.cancelled.Load() {
		return
	}
	box := c.in.consumer.Load()
	if box == nil || !c.in.terminalSent.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("consumer terminal panic", zap.Any("panic", r))
		}
	}()
	if api.IsGraceful(c.cause) {
		box.c.OnComplete()
		return
	}
	box.c.OnError(c.cause)
}
