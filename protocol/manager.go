// File: protocol/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager creates initiator connections and acceptors over one substrate
// and one worker pool, and tracks everything it created.

package protocol

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
	"github.com/momentics/hioload-flow/internal/session"
	"github.com/momentics/hioload-flow/reactor"
)

// ErrManagerClosed is returned by Connect and Bind after Dispose.
var ErrManagerClosed = api.NewError(api.ErrCodeClosed, "connection manager disposed")

// ConnectOptions locate the acceptor and the reply channel of a new session.
type ConnectOptions struct {
	ServerChannel string
	ClientChannel string
	StreamID      int32
}

// BindOptions locate the channel an acceptor listens on.
type BindOptions struct {
	Channel  string
	StreamID int32
}

// Manager owns connections and acceptors.
type Manager struct {
	substrate api.Substrate
	pool      *reactor.Pool
	opts      Options
	log       *zap.Logger

	nextID    atomic.Uint64
	conns     *session.Registry[*Connection]
	acceptors *session.Registry[*Acceptor]
	closed    atomic.Bool
}

// NewManager binds a manager to a substrate and a started worker pool.
func NewManager(substrate api.Substrate, pool *reactor.Pool, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		substrate: substrate,
		pool:      pool,
		opts:      opts,
		log:       opts.Logger.Named("flow"),
		conns:     session.NewRegistry[*Connection](pool.NumWorkers() * 4),
		acceptors: session.NewRegistry[*Acceptor](4),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// Connect establishes an initiator session. It returns once CONNECT_ACK
// arrived, the connect timeout expired or ctx ended.
func (m *Manager) Connect(ctx context.Context, o ConnectOptions) (*Connection, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if o.ServerChannel == "" || o.ClientChannel == "" {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "server and client channels are required")
	}
	pub, err := m.substrate.AddPublication(o.ServerChannel, o.StreamID)
	if err != nil {
		return nil, substrateFailure("add publication", err)
	}
	connect := core.Control{Type: core.ControlConnect, SessionID: pub.SessionID(), ReplyChannel: o.ClientChannel}
	body, err := core.EncodeControl(connect)
	if err == nil && core.FrameLength(len(body)) > pub.MaxPayloadLength() {
		err = api.NewError(api.ErrCodeInvalidArgument, "reply channel does not fit one frame").
			WithContext("reply_len", len(o.ClientChannel)).WithContext("mtu", pub.MaxPayloadLength())
	}
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	w := m.pool.Assign()
	c := m.newConnection(w, api.RoleInitiator, pub.SessionID(), api.Endpoints{
		ServerChannel: o.ServerChannel,
		ClientChannel: o.ClientChannel,
		StreamID:      o.StreamID,
	})
	if err := c.attachPublication(pub); err != nil {
		_ = pub.Close()
		w.Unassign()
		return nil, err
	}
	sub, err := m.substrate.AddSubscription(o.ClientChannel, o.StreamID,
		c.onInitiatorImageAvailable, c.onInitiatorImageUnavailable)
	if err != nil {
		_ = pub.Close()
		w.Unassign()
		return nil, substrateFailure("add subscription", err)
	}
	c.sub = sub
	c.source = sub
	c.queueControl(connect)
	if err := m.register(c); err != nil {
		_ = sub.Close()
		_ = pub.Close()
		return nil, err
	}
	c.log.Debug("connecting", zap.String("server", o.ServerChannel), zap.String("reply", o.ClientChannel))

	select {
	case <-c.connected:
		return c, nil
	case <-c.done:
		return nil, c.cause
	case <-ctx.Done():
		c.Dispose()
		return nil, ctx.Err()
	}
}

// Bind starts accepting sessions on a channel. handler runs on the worker
// of each accepted connection once it is CONNECTED.
func (m *Manager) Bind(ctx context.Context, o BindOptions, handler func(*Connection)) (*Acceptor, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if o.Channel == "" || handler == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "channel and handler are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := m.pool.Assign()
	a := &Acceptor{
		id:      m.nextID.Add(1),
		m:       m,
		opts:    o,
		handler: handler,
		worker:  w,
		conns:   session.NewRegistry[*Connection](8),
		done:    make(chan struct{}),
	}
	a.log = m.log.With(zap.Uint64("acceptor", a.id), zap.String("channel", o.Channel))
	sub, err := m.substrate.AddSubscription(o.Channel, o.StreamID, a.onImageAvailable, a.onImageUnavailable)
	if err != nil {
		w.Unassign()
		return nil, substrateFailure("add subscription", err)
	}
	a.sub = sub
	m.acceptors.Put(a.id, a)
	if err := w.Add(a); err != nil {
		m.acceptors.Delete(a.id)
		_ = sub.Close()
		w.Unassign()
		return nil, err
	}
	a.log.Info("accepting", zap.Int32("stream", o.StreamID))
	return a, nil
}

// register tracks c and attaches it to its assigned worker.
func (m *Manager) register(c *Connection) error {
	m.conns.Put(c.id, c)
	m.opts.Observer.ConnectionOpened()
	if err := c.worker.Add(c); err != nil {
		m.conns.Delete(c.id)
		c.worker.Unassign()
		m.opts.Observer.ConnectionClosed(api.CodeOf(err).String())
		return err
	}
	return nil
}

func (m *Manager) forget(c *Connection) {
	m.conns.Delete(c.id)
}

// Connections returns a snapshot of the live connections.
func (m *Manager) Connections() []*Connection {
	return m.conns.Snapshot()
}

// Acceptors returns a snapshot of the live acceptors.
func (m *Manager) Acceptors() []*Acceptor {
	return m.acceptors.Snapshot()
}

// Dispose stops accepting and disposes every live connection and acceptor.
// It does not wait; see Shutdown.
func (m *Manager) Dispose() {
	if m.closed.CompareAndSwap(false, true) {
		m.log.Debug("manager disposing")
	}
	for _, a := range m.acceptors.Snapshot() {
		a.Dispose()
	}
	for _, c := range m.conns.Snapshot() {
		c.Dispose()
	}
}

// Shutdown disposes the manager and waits until every connection and
// acceptor reached CLOSED or ctx ended.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Dispose()
	for {
		acceptors := m.acceptors.Snapshot()
		conns := m.conns.Snapshot()
		if len(acceptors) == 0 && len(conns) == 0 {
			return nil
		}
		for _, a := range acceptors {
			if err := await(ctx, a.OnDispose()); err != nil {
				return err
			}
		}
		for _, c := range conns {
			c.Dispose()
			if err := await(ctx, c.OnDispose()); err != nil {
				return err
			}
		}
	}
}

func await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
