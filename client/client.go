// File: client/client.go
// Package client is the initiator-role entry point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connect wraps Manager.Connect with reply channel generation and optional
// retry with exponential backoff while the acceptor is unreachable.

package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/protocol"
)

// Dialer establishes sessions. *protocol.Manager implements it.
type Dialer interface {
	Connect(ctx context.Context, o protocol.ConnectOptions) (*protocol.Connection, error)
}

// Option customises Connect.
type Option func(*config)

type config struct {
	stream     int32
	reply      string
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *zap.Logger
}

// WithStreamID selects the substrate stream id of both channels.
func WithStreamID(id int32) Option {
	return func(c *config) { c.stream = id }
}

// WithReplyChannel fixes the channel the acceptor answers on. Several
// clients may share one.
func WithReplyChannel(ch string) Option {
	return func(c *config) { c.reply = ch }
}

// WithRetry makes Connect try up to attempts times while the session is
// unavailable, sleeping backoff and doubling it each time.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *config) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithLogger logs retries to l.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// ReplyChannel derives a unique reply channel for server.
func ReplyChannel(server string) string {
	return server + ".reply." + uuid.NewString()
}

// Connect establishes an initiator session with the acceptor on server.
func Connect(ctx context.Context, d Dialer, server string, opts ...Option) (*protocol.Connection, error) {
	c := config{stream: 1, attempts: 1, backoff: 50 * time.Millisecond, maxBackoff: 2 * time.Second, log: zap.NewNop()}
	for _, o := range opts {
		o(&c)
	}
	if c.reply == "" {
		c.reply = ReplyChannel(server)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	o := protocol.ConnectOptions{ServerChannel: server, ClientChannel: c.reply, StreamID: c.stream}

	wait := c.backoff
	for attempt := 1; ; attempt++ {
		conn, err := d.Connect(ctx, o)
		if err == nil {
			return conn, nil
		}
		if attempt >= c.attempts || api.CodeOf(err) != api.ErrCodeSessionUnavailable {
			return nil, err
		}
		c.log.Debug("connect retry", zap.String("server", server), zap.Int("attempt", attempt),
			zap.Duration("backoff", wait), zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
}
