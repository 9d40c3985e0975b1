// File: protocol/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/internal/session"
	"github.com/momentics/hioload-flow/reactor"
)

var _ reactor.Agent = (*Acceptor)(nil)

// Acceptor turns every image on its subscription into a pending server
// connection. It lives on a worker like any connection but does no tick
// work; every state change arrives as a worker task.
type Acceptor struct {
	id      uint64
	m       *Manager
	opts    BindOptions
	handler func(*Connection)
	log     *zap.Logger
	worker  *reactor.Worker
	sub     api.Subscription

	conns    *session.Registry[*Connection] // by substrate session id
	closing  atomic.Bool
	released bool
	done     chan struct{}
}

func sessionKey(id int32) uint64 { return uint64(uint32(id)) }

// ID returns the local acceptor id.
func (a *Acceptor) ID() uint64 { return a.id }

// Channel returns the channel being accepted on.
func (a *Acceptor) Channel() string { return a.opts.Channel }

// Connections returns a snapshot of the accepted connections still open.
func (a *Acceptor) Connections() []*Connection { return a.conns.Snapshot() }

// OnDispose is closed once the acceptor stopped and released its
// subscription.
func (a *Acceptor) OnDispose() <-chan struct{} { return a.done }

// Dispose disposes every accepted connection and closes the subscription.
// Idempotent; it does not wait.
func (a *Acceptor) Dispose() {
	if !a.closing.CompareAndSwap(false, true) {
		return
	}
	if err := a.worker.Execute(func() { a.shutdown(ErrDisposed) }); err != nil {
		a.log.Debug("acceptor dispose not scheduled", zap.Error(err))
	}
}

func (a *Acceptor) onImageAvailable(img api.Image) {
	if err := a.worker.Execute(func() { a.accept(img) }); err != nil {
		a.log.Warn("image dropped", zap.Int32("image", img.SessionID()), zap.Error(err))
	}
}

func (a *Acceptor) onImageUnavailable(img api.Image) {
	c, ok := a.conns.Get(sessionKey(img.SessionID()))
	if !ok || c.source != api.Pollable(img) {
		return
	}
	c.signalUnavailable()
}

// accept runs on the acceptor's worker.
func (a *Acceptor) accept(img api.Image) {
	if a.closing.Load() || img.IsClosed() {
		return
	}
	key := sessionKey(img.SessionID())
	if _, dup := a.conns.Get(key); dup {
		a.log.Debug("image for bound session ignored",
			zap.Int32("image", img.SessionID()), zap.String("source", img.SourceIdentity()))
		return
	}
	w := a.m.pool.Assign()
	c := a.m.newConnection(w, api.RoleAcceptor, img.SessionID(), api.Endpoints{
		ServerChannel: a.opts.Channel,
		StreamID:      a.opts.StreamID,
	})
	c.source = img
	c.acceptor = a
	c.handler = a.handler
	a.conns.Put(key, c)
	if err := a.m.register(c); err != nil {
		a.conns.Delete(key)
		a.log.Warn("accept failed", zap.Int32("image", img.SessionID()), zap.Error(err))
		return
	}
	c.log.Debug("image accepted", zap.String("source", img.SourceIdentity()))
}

// forget runs on the connection's worker during teardown.
func (a *Acceptor) forget(c *Connection) {
	key := sessionKey(c.SessionID())
	if cur, ok := a.conns.Get(key); ok && cur == c {
		a.conns.Delete(key)
	}
}

func (a *Acceptor) shutdown(cause error) {
	if a.released {
		return
	}
	a.closing.Store(true)
	for _, c := range a.conns.Snapshot() {
		c.Dispose()
	}
	if err := a.sub.Close(); err != nil {
		a.log.Debug("subscription close", zap.Error(err))
	}
	a.m.acceptors.Delete(a.id)
	a.released = true
	close(a.done)
	a.log.Info("acceptor stopped", zap.Stringer("cause", api.CodeOf(cause)))
}

// Sweep implements reactor.Agent.
func (a *Acceptor) Sweep(time.Time) int { return 0 }

// DoOutbound implements reactor.Agent.
func (a *Acceptor) DoOutbound(time.Time) int { return 0 }

// DoInbound implements reactor.Agent.
func (a *Acceptor) DoInbound(time.Time) int { return 0 }

// Terminate implements reactor.Agent.
func (a *Acceptor) Terminate(cause error) { a.shutdown(cause) }

// Closed implements reactor.Agent.
func (a *Acceptor) Closed() bool { return a.released }
