// File: server/options.go
// Package server defines functional options for the acceptor entry points.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "go.uber.org/zap"

// Option customises Bind and Serve.
type Option func(*config)

type config struct {
	stream     int32
	middleware []Middleware
	log        *zap.Logger
}

// WithStreamID selects the substrate stream id to accept on.
func WithStreamID(id int32) Option {
	return func(c *config) { c.stream = id }
}

// WithMiddleware attaches middleware in FIFO order.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) { c.middleware = append(c.middleware, mw...) }
}

// WithLogger sets the logger used by Serve.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}
