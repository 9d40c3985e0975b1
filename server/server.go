// File: server/server.go
// Package server is the acceptor-role entry point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/protocol"
)

// Handler is invoked on the owning worker once an accepted connection is
// CONNECTED.
type Handler func(*protocol.Connection)

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Binder creates acceptors. *protocol.Manager implements it.
type Binder interface {
	Bind(ctx context.Context, o protocol.BindOptions, handler func(*protocol.Connection)) (*protocol.Acceptor, error)
}

// NewHandlerChain wraps h so that the first middleware runs outermost.
func NewHandlerChain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Bind starts accepting on channel and returns immediately.
func Bind(ctx context.Context, b Binder, channel string, h Handler, opts ...Option) (*protocol.Acceptor, error) {
	if h == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil handler")
	}
	c := config{stream: 1}
	for _, o := range opts {
		o(&c)
	}
	chain := NewHandlerChain(h, c.middleware...)
	return b.Bind(ctx, protocol.BindOptions{Channel: channel, StreamID: c.stream}, chain)
}

// Serve accepts on channel until ctx ends, then disposes the acceptor and
// its connections and waits for them.
func Serve(ctx context.Context, b Binder, channel string, h Handler, opts ...Option) error {
	c := config{log: zap.NewNop()}
	for _, o := range opts {
		o(&c)
	}
	a, err := Bind(ctx, b, channel, h, opts...)
	if err != nil {
		return err
	}
	c.log.Info("serving", zap.String("channel", channel))
	select {
	case <-ctx.Done():
	case <-a.OnDispose():
		return nil
	}
	conns := a.Connections()
	a.Dispose()
	<-a.OnDispose()
	for _, conn := range conns {
		<-conn.OnDispose()
	}
	c.log.Info("serve stopped", zap.String("channel", channel), zap.Int("connections", len(conns)))
	return ctx.Err()
}

// Recover turns a handler panic into a teardown of that connection only.
func Recover(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(c *protocol.Connection) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic", zap.Uint64("conn", c.ID()), zap.Any("panic", r))
					c.Dispose()
				}
			}()
			next(c)
		}
	}
}

// LogAccepted logs every accepted session.
func LogAccepted(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(c *protocol.Connection) {
			ep := c.Endpoints()
			log.Info("session accepted",
				zap.Uint64("conn", c.ID()),
				zap.Int32("session", c.SessionID()),
				zap.String("reply", ep.ClientChannel))
			next(c)
		}
	}
}
