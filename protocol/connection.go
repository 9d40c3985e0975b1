// File: protocol/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection pairs an outbound and an inbound flow with one session and
// is driven exclusively by its owning worker.

package protocol

import (
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
	"github.com/momentics/hioload-flow/internal/session"
	"github.com/momentics/hioload-flow/reactor"
)

var _ reactor.Agent = (*Connection)(nil)

// Teardown causes raised by the connection itself.
var (
	ErrDisposed          = api.NewError(api.ErrCodeClosed, "connection disposed")
	ErrAlreadySubscribed = api.NewError(api.ErrCodeInvalidArgument, "inbound already has a subscriber")

	errPeerClosed = api.NewError(api.ErrCodeSessionUnavailable, "peer closed session")
	errCancelled  = api.NewError(api.ErrCodeClosed, "inbound cancelled")
)

// Connection is one established (or establishing) session.
type Connection struct {
	id      uint64
	m       *Manager
	opts    *Options
	log     *zap.Logger
	worker  *reactor.Worker
	sess    *session.Session
	monitor session.Monitor

	endpoints api.Endpoints
	pub       api.Publication
	sub       api.Subscription // initiator only; acceptors poll their image
	source    api.Pollable
	acceptor  *Acceptor
	handler   func(*Connection)
	peerImage atomic.Int32
	connected chan struct{}

	frag    core.Fragmenter
	reasm   *core.Reassembler
	scratch []byte
	now     time.Time

	out     outboundState
	in      inboundState
	inbound Inbound

	cause     error
	closed    atomic.Bool
	disposing atomic.Bool
	done      chan struct{}
	released  bool
}

func (m *Manager) newConnection(w *reactor.Worker, role api.Role, sessionID int32, ep api.Endpoints) *Connection {
	id := m.nextID.Add(1)
	c := &Connection{
		id:        id,
		m:         m,
		opts:      &m.opts,
		worker:    w,
		sess:      session.New(id, role, sessionID, time.Now()),
		monitor:   session.Monitor{LivenessTimeout: m.opts.LivenessTimeout, ConnectTimeout: m.opts.ConnectTimeout},
		endpoints: ep,
		connected: make(chan struct{}),
		reasm:     core.NewReassembler(m.opts.MaxMessageSize, m.opts.Buffers),
		done:      make(chan struct{}),
	}
	c.log = m.log.With(
		zap.Uint64("conn", id),
		zap.Int32("session", sessionID),
		zap.Stringer("role", role),
		zap.Int("worker", w.ID()),
	)
	c.out.init(m.opts.SendQueueCapacity)
	c.in.demand.max = m.opts.MaxDemand
	c.inbound.c = c
	return c
}

// attachPublication binds the outbound publication and sizes frames for it.
func (c *Connection) attachPublication(pub api.Publication) error {
	seg, err := core.SegmentSize(pub.MaxPayloadLength(), c.opts.SegmentSize)
	if err != nil {
		return err
	}
	c.pub = pub
	c.frag = core.NewFragmenter(seg)
	// control bodies are not segmented and may exceed a small segment size
	c.scratch = make([]byte, max(pub.MaxPayloadLength(), core.FrameLength(seg)))
	return nil
}

// ID returns the local connection id.
func (c *Connection) ID() uint64 { return c.id }

// SessionID returns the negotiated substrate session id.
func (c *Connection) SessionID() int32 { return c.sess.SessionID() }

// Role tells which side of the handshake created the connection.
func (c *Connection) Role() api.Role { return c.sess.Role() }

// Status returns the lifecycle state.
func (c *Connection) Status() api.SessionStatus { return c.sess.Status() }

// Endpoints returns the channels the connection runs on.
func (c *Connection) Endpoints() api.Endpoints { return c.endpoints }

// Inbound returns the receiving half.
func (c *Connection) Inbound() *Inbound { return &c.inbound }

// Outbound returns the sending half bound to the default data stream.
func (c *Connection) Outbound() *Outbound { return &Outbound{c: c, stream: core.DefaultStreamID} }

// Worker returns the owning worker.
func (c *Connection) Worker() *reactor.Worker { return c.worker }

// OnDispose is closed once the connection reached CLOSED.
func (c *Connection) OnDispose() <-chan struct{} { return c.done }

// Err reports why the connection closed. It is nil while open and after a
// local Dispose.
func (c *Connection) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	if api.CodeOf(c.cause) == api.ErrCodeClosed {
		return nil
	}
	return c.cause
}

func (c *Connection) String() string {
	return "conn-" + strconv.FormatUint(c.id, 10)
}

// Dispose requests a graceful teardown, carried out on the next tick of
// the owning worker. It returns immediately; wait on OnDispose for
// completion. Idempotent.
func (c *Connection) Dispose() {
	if c.closed.Load() || !c.disposing.CompareAndSwap(false, true) {
		return
	}
	c.worker.Wake()
}

// Sweep implements reactor.Agent.
func (c *Connection) Sweep(now time.Time) int {
	if c.released {
		return 0
	}
	if c.disposing.Load() {
		c.teardown(ErrDisposed)
		return 1
	}
	if err := c.monitor.Check(c.sess, now); err != nil {
		c.teardown(err)
		return 1
	}
	return 0
}

// Terminate implements reactor.Agent.
func (c *Connection) Terminate(cause error) {
	c.teardown(cause)
	c.released = true
}

// Closed implements reactor.Agent.
func (c *Connection) Closed() bool { return c.released }

// signalUnavailable records an image loss from any goroutine.
func (c *Connection) signalUnavailable() {
	c.sess.MarkUnavailable()
	if err := c.worker.Execute(func() { c.teardown(session.ErrImageUnavailable) }); err != nil {
		c.log.Debug("unavailability not scheduled", zap.Error(err))
	}
}

func (c *Connection) onInitiatorImageAvailable(img api.Image) {
	c.sess.Touch(time.Now())
	c.log.Debug("image available", zap.Int32("image", img.SessionID()), zap.String("source", img.SourceIdentity()))
}

func (c *Connection) onInitiatorImageUnavailable(img api.Image) {
	if img.SessionID() == c.peerImage.Load() {
		c.signalUnavailable()
	}
}

func (c *Connection) onControl(payload []byte) {
	msg, err := core.DecodeControl(payload)
	if err != nil {
		c.teardown(err)
		return
	}
	switch msg.Type {
	case core.ControlConnect:
		c.onConnect(msg)
	case core.ControlConnectAck:
		c.onConnectAck(msg)
	case core.ControlHeartbeat:
	case core.ControlClose:
		c.teardown(errPeerClosed)
	case core.ControlAbort:
		c.reasm.Abort(msg.StreamID)
	}
}

// onConnect runs on an acceptor-side connection.
func (c *Connection) onConnect(msg core.Control) {
	if c.sess.Role() != api.RoleAcceptor || c.pub != nil {
		return
	}
	if msg.SessionID != c.sess.SessionID() {
		c.teardown(api.NewError(api.ErrCodeProtocolViolation, "connect session mismatch").
			WithContext("image", c.sess.SessionID()).WithContext("claimed", msg.SessionID))
		return
	}
	pub, err := c.m.substrate.AddPublication(msg.ReplyChannel, c.endpoints.StreamID)
	if err != nil {
		c.teardown(substrateFailure("add reply publication", err))
		return
	}
	if err := c.attachPublication(pub); err != nil {
		_ = pub.Close()
		c.teardown(err)
		return
	}
	c.endpoints.ClientChannel = msg.ReplyChannel
	c.queueControl(core.Control{
		Type:            core.ControlConnectAck,
		SessionID:       msg.SessionID,
		ServerSessionID: pub.SessionID(),
	})
	c.log.Debug("connect received", zap.String("reply", msg.ReplyChannel))
}

// onConnectAck runs on an initiator-side connection.
func (c *Connection) onConnectAck(msg core.Control) {
	if c.sess.Role() != api.RoleInitiator || msg.SessionID != c.sess.SessionID() {
		return
	}
	c.peerImage.Store(msg.ServerSessionID)
	c.markConnected()
}

// onAckSent completes the acceptor side of the handshake.
func (c *Connection) onAckSent() {
	if !c.markConnected() || c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("accept handler panic", zap.Any("panic", r), zap.Stack("stack"))
			c.teardown(api.NewError(api.ErrCodeInternal, "accept handler panic"))
		}
	}()
	c.handler(c)
}

func (c *Connection) markConnected() bool {
	if c.sess.Status() != api.SessionConnecting || !c.sess.Transition(api.SessionConnected) {
		return false
	}
	c.sess.Touch(c.now)
	c.out.lastOffer = c.now
	close(c.connected)
	c.log.Debug("session connected", zap.Int32("peer_image", c.peerImage.Load()))
	return true
}

// teardown is the single exit path. It runs on the owning worker.
func (c *Connection) teardown(cause error) {
	if !c.sess.Transition(api.SessionClosing) {
		return
	}
	if cause == nil {
		cause = ErrDisposed
	}
	c.cause = cause
	if c.pub != nil && api.CodeOf(cause) != api.ErrCodeSessionUnavailable {
		c.offerClose()
	}
	c.closed.Store(true)
	c.failOutbound(cause)
	c.release()
	c.sess.Transition(api.SessionClosed)

	code := api.CodeOf(cause)
	switch code {
	case api.ErrCodeClosed:
		c.log.Debug("connection closed", zap.Error(cause))
	case api.ErrCodeSubstrateFailure, api.ErrCodeInternal:
		c.log.Error("connection failed", zap.Error(cause))
	default:
		c.log.Warn("connection torn down", zap.Stringer("cause", code), zap.Error(cause))
	}
	c.opts.Observer.ConnectionClosed(code.String())
	c.signalTerminal()
	c.m.forget(c)
	close(c.done)
	c.released = true
}

// offerClose makes one best-effort attempt at telling the peer.
func (c *Connection) offerClose() {
	body, _ := core.EncodeControl(core.Control{Type: core.ControlClose})
	h := core.Header{
		SessionID: c.sess.SessionID(),
		StreamID:  core.ControlStreamID,
		Flags:     core.FlagsUnfragmented,
		Sequence:  c.out.controlSeq,
	}
	if n, err := core.EncodeFrame(c.scratch, h, body); err == nil {
		c.pub.Offer(c.scratch[:n])
	}
}

func (c *Connection) release() {
	if c.pub != nil {
		if err := c.pub.Close(); err != nil {
			c.log.Debug("publication close", zap.Error(err))
		}
	}
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.log.Debug("subscription close", zap.Error(err))
		}
	}
	if c.acceptor != nil {
		c.acceptor.forget(c)
	}
	c.reasm.Reset()
}
