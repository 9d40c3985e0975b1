// File: protocol/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
)

// Options tune every connection created by a Manager. A SegmentSize of zero
// uses the publication MTU minus the frame header. A HeartbeatInterval of
// zero resolves to a quarter of LivenessTimeout; a negative one disables
// heartbeats.
type Options struct {
	SegmentSize         int
	MaxMessageSize      int
	LivenessTimeout     time.Duration
	ConnectTimeout      time.Duration
	BackoffBudget       time.Duration
	HeartbeatInterval   time.Duration
	MaxFragmentsPerPoll int
	MaxFramesPerTick    int
	MaxDemand           int64
	SendQueueCapacity   int

	Logger   *zap.Logger
	Observer Observer
	Buffers  api.BytePool
}

// DefaultOptions mirrors control.Default.
func DefaultOptions() Options {
	return Options{
		MaxMessageSize:      core.DefaultMaxMessageSize,
		LivenessTimeout:     5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		BackoffBudget:       time.Second,
		MaxFragmentsPerPoll: 64,
		MaxFramesPerTick:    64,
		MaxDemand:           math.MaxInt64,
		SendQueueCapacity:   1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = d.LivenessTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.BackoffBudget <= 0 {
		o.BackoffBudget = d.BackoffBudget
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = o.LivenessTimeout / 4
	}
	if o.MaxFragmentsPerPoll <= 0 {
		o.MaxFragmentsPerPoll = d.MaxFragmentsPerPoll
	}
	if o.MaxFramesPerTick <= 0 {
		o.MaxFramesPerTick = d.MaxFramesPerTick
	}
	if o.MaxDemand <= 0 {
		o.MaxDemand = d.MaxDemand
	}
	if o.SendQueueCapacity <= 0 {
		o.SendQueueCapacity = d.SendQueueCapacity
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Observer receives data-path counters. control.Metrics implements it.
type Observer interface {
	FramesOut(worker, n int)
	FramesIn(worker, n int)
	MessagesOut(worker, n int)
	MessagesIn(worker, n int)
	ConnectionOpened()
	ConnectionClosed(cause string)
}

type nopObserver struct{}

func (nopObserver) FramesOut(int, int)      {}
func (nopObserver) FramesIn(int, int)       {}
func (nopObserver) MessagesOut(int, int)    {}
func (nopObserver) MessagesIn(int, int)     {}
func (nopObserver) ConnectionOpened()       {}
func (nopObserver) ConnectionClosed(string) {}
