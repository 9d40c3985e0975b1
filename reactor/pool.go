// File: reactor/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size pool of event loops supervised by an errgroup.

package reactor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-flow/api"
)

var _ api.Executor = (*Pool)(nil)

// ErrPoolClosed is returned by Execute and Start after Close.
var ErrPoolClosed = api.NewError(api.ErrCodeClosed, "worker pool closed")

// Recorder receives one call per worker tick.
type Recorder interface {
	RecordTick(worker, work int)
}

// Config parameterises a Pool.
type Config struct {
	Workers           int
	TaskQueueCapacity int
	IdleMaxPark       time.Duration
	PinWorkers        bool
	Logger            *zap.Logger
	Recorder          Recorder
}

// Pool owns the workers.
type Pool struct {
	cfg     Config
	log     *zap.Logger
	workers []*Worker
	next    atomic.Uint32
	closed  atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewPool creates a stopped pool.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TaskQueueCapacity <= 0 {
		cfg.TaskQueueCapacity = 4096
	}
	if cfg.IdleMaxPark <= 0 {
		cfg.IdleMaxPark = time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Pool{cfg: cfg, log: cfg.Logger}
	p.workers = make([]*Worker, cfg.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p)
	}
	return p
}

// Start launches one goroutine per worker. The workers stop when ctx is
// cancelled or Close is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.started {
		return api.NewError(api.ErrCodeInvalidArgument, "worker pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for _, w := range p.workers {
		p.group.Go(func() error {
			defer p.closed.Store(true)
			return w.run(ctx)
		})
	}
	p.started = true
	p.log.Debug("worker pool started", zap.Int("workers", len(p.workers)))
	return nil
}

// Close stops every worker and waits for them. Agents still registered are
// terminated with ErrPoolClosed. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed.Store(true)
	if !p.started || p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	return p.group.Wait()
}

// Closed reports whether the pool refuses new work.
func (p *Pool) Closed() bool { return p.closed.Load() }

// NumWorkers returns the worker count.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// Worker returns the worker with index i.
func (p *Pool) Worker(i int) *Worker { return p.workers[i] }

// Assign reserves a slot on the least-loaded worker; ties are broken
// round-robin. Follow with Worker.Add or Worker.Unassign.
func (p *Pool) Assign() *Worker {
	n := len(p.workers)
	start := int(p.next.Add(1)-1) % n
	best := p.workers[start]
	for i := 1; i < n; i++ {
		w := p.workers[(start+i)%n]
		if w.Load() < best.Load() {
			best = w
		}
	}
	best.load.Add(1)
	return best
}

// Register assigns a and attaches it to the chosen worker.
func (p *Pool) Register(a Agent) (*Worker, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	w := p.Assign()
	if err := w.Add(a); err != nil {
		w.Unassign()
		return nil, err
	}
	return w, nil
}

// Execute runs task on some worker, chosen round-robin.
func (p *Pool) Execute(task func()) error {
	w := p.workers[int(p.next.Add(1)-1)%len(p.workers)]
	return w.Execute(task)
}

// Stats returns one flight recorder snapshot per worker.
func (p *Pool) Stats() []api.WorkerStats {
	out := make([]api.WorkerStats, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Stats()
	}
	return out
}
