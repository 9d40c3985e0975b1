// File: facade/hioload.go
// Resource context for hioload-flow.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Resources aggregates every long-lived component behind one explicit
// lifecycle: the worker pool, the connection manager, the reassembly buffer
// pool, logging and metrics. Start launches the workers; Dispose tears
// everything down in dependency order.

package facade

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/control"
	"github.com/momentics/hioload-flow/pool"
	"github.com/momentics/hioload-flow/protocol"
	"github.com/momentics/hioload-flow/reactor"
)

// DisposeTimeout bounds how long Dispose waits for connections to close.
const DisposeTimeout = 5 * time.Second

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Resources)(nil)

// Option customises New.
type Option func(*settings)

type settings struct {
	name         string
	logger       *zap.Logger
	ownSubstrate bool
}

// WithName overrides the generated resource name.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger uses l instead of building one from the log configuration.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithOwnedSubstrate makes Dispose close the substrate as well.
func WithOwnedSubstrate() Option {
	return func(s *settings) { s.ownSubstrate = true }
}

// Resources is the resource context.
type Resources struct {
	name      string
	cfg       *control.Config
	log       *zap.Logger
	level     *zap.AtomicLevel
	substrate api.Substrate
	owned     bool
	pool      *reactor.Pool
	buffers   *pool.BytePool
	metrics   *control.Metrics
	debug     *control.DebugProbes
	manager   *protocol.Manager

	mu       sync.Mutex
	started  bool
	disposed atomic.Bool
	err      error
	done     chan struct{}
}

// New builds a resource context over substrate. cfg may be nil for
// defaults. Nothing runs until Start.
func New(cfg *control.Config, substrate api.Substrate, opts ...Option) (*Resources, error) {
	if substrate == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "substrate is required")
	}
	if cfg == nil {
		cfg = control.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if s.name == "" {
		s.name = "flow-" + uuid.NewString()
	}

	r := &Resources{
		name:      s.name,
		cfg:       cfg,
		substrate: substrate,
		owned:     s.ownSubstrate,
		done:      make(chan struct{}),
	}
	if s.logger != nil {
		r.log = s.logger
	} else {
		l, level, err := control.SetupLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		r.log, r.level = l, &level
	}
	r.log = r.log.With(zap.String("resources", r.name))

	r.metrics = control.NewMetrics(r.name, cfg.NumWorkers)
	r.pool = reactor.NewPool(reactor.Config{
		Workers:           cfg.NumWorkers,
		TaskQueueCapacity: cfg.TaskQueueCapacity,
		IdleMaxPark:       cfg.IdleMaxPark,
		PinWorkers:        cfg.PinWorkers,
		Logger:            r.log.Named("reactor"),
		Recorder:          r.metrics,
	})
	r.buffers = pool.NewBytePool(cfg.MaxMessageSize)
	r.manager = protocol.NewManager(substrate, r.pool, protocol.Options{
		SegmentSize:         cfg.SegmentSize,
		MaxMessageSize:      cfg.MaxMessageSize,
		LivenessTimeout:     cfg.LivenessTimeout,
		ConnectTimeout:      cfg.ConnectTimeout,
		BackoffBudget:       cfg.BackoffBudget,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		MaxFragmentsPerPoll: cfg.MaxFragmentsPerPoll,
		MaxFramesPerTick:    cfg.MaxFramesPerTick,
		MaxDemand:           cfg.MaxDemand,
		SendQueueCapacity:   cfg.SendQueueCapacity,
		Logger:              r.log,
		Observer:            r.metrics,
		Buffers:             r.buffers,
	})

	r.debug = control.NewDebugProbes()
	r.debug.RegisterProbe("resources.name", func() any { return r.name })
	r.debug.RegisterProbe("workers", func() any { return r.pool.Stats() })
	r.debug.RegisterProbe("connections", func() any { return len(r.manager.Connections()) })
	r.debug.RegisterProbe("acceptors", func() any { return len(r.manager.Acceptors()) })
	r.debug.RegisterProbe("buffers", func() any { return r.buffers.Stats() })
	r.debug.RegisterProbe("config", func() any { return *r.cfg })
	return r, nil
}

// Start launches the worker pool. Further calls are no-ops.
func (r *Resources) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed.Load() {
		return api.NewError(api.ErrCodeClosed, "resources disposed").WithContext("name", r.name)
	}
	if r.started {
		return nil
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.started = true
	r.log.Info("resources started",
		zap.Int("workers", r.pool.NumWorkers()),
		zap.Duration("liveness_timeout", r.cfg.LivenessTimeout),
		zap.Bool("pin_workers", r.cfg.PinWorkers))
	return nil
}

// Dispose closes the manager, then the pool, then the substrate if owned.
// Idempotent; blocks until done.
func (r *Resources) Dispose() {
	if !r.disposed.CompareAndSwap(false, true) {
		<-r.done
		return
	}
	var errs []error
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		ctx, cancel := context.WithTimeout(context.Background(), DisposeTimeout)
		if err := r.manager.Shutdown(ctx); err != nil {
			r.log.Warn("connections still open at dispose", zap.Error(err))
			errs = append(errs, err)
		}
		cancel()
	} else {
		r.manager.Dispose()
	}
	if err := r.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.owned {
		if err := r.substrate.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info("resources disposed")
	_ = r.log.Sync()
	r.err = errors.Join(errs...)
	close(r.done)
}

// Shutdown implements api.GracefulShutdown.
func (r *Resources) Shutdown() error {
	r.Dispose()
	return r.err
}

// OnDispose is closed once Dispose completed.
func (r *Resources) OnDispose() <-chan struct{} { return r.done }

// WatchConfig applies log level changes from l to the logger built by New.
// It has no effect when the logger was supplied with WithLogger.
func (r *Resources) WatchConfig(l *control.Loader) {
	l.Watch(func(cfg *control.Config, err error) {
		if err != nil {
			r.log.Warn("config reload rejected", zap.Error(err))
			return
		}
		if r.level == nil {
			return
		}
		lvl := control.ParseLevel(cfg.Log.Level)
		if lvl != r.level.Level() {
			r.level.SetLevel(lvl)
			r.log.Info("log level changed", zap.Stringer("level", lvl))
		}
	})
}

// Name returns the resource name.
func (r *Resources) Name() string { return r.name }

// Config returns the configuration the context was built with.
func (r *Resources) Config() *control.Config { return r.cfg }

// Manager returns the connection manager.
func (r *Resources) Manager() *protocol.Manager { return r.manager }

// Pool returns the worker pool.
func (r *Resources) Pool() *reactor.Pool { return r.pool }

// Metrics returns the prometheus collectors of this context.
func (r *Resources) Metrics() *control.Metrics { return r.metrics }

// Logger returns the root logger.
func (r *Resources) Logger() *zap.Logger { return r.log }

// Debug exposes the probe registry.
func (r *Resources) Debug() api.Debug { return r.debug }

// DumpState evaluates every registered probe.
func (r *Resources) DumpState() map[string]any { return r.debug.DumpState() }
