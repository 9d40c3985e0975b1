// File: reactor/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-threaded event loop owning a table of agents.

package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/affinity"
	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/internal/concurrency"
)

const (
	taskBatch = 256
	idleSpins = 10
	idleYield = 5
	minPark   = time.Microsecond
)

// Worker is one event loop.
type Worker struct {
	id    int
	pool  *Pool
	log   *zap.Logger
	tasks *concurrency.LockFreeQueue[func()]
	wake  chan struct{}
	load  atomic.Int32

	// owned by the loop goroutine
	slots []Agent
	free  []AgentID

	ticks     atomic.Uint64
	idleTicks atomic.Uint64
	work      atomic.Uint64
	startedAt atomic.Int64
}

func newWorker(id int, p *Pool) *Worker {
	return &Worker{
		id:    id,
		pool:  p,
		log:   p.log.With(zap.Int("worker", id)),
		tasks: concurrency.NewLockFreeQueue[func()](p.cfg.TaskQueueCapacity),
		wake:  make(chan struct{}, 1),
	}
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.id }

// Load returns the number of agents assigned to the worker.
func (w *Worker) Load() int { return int(w.load.Load()) }

// Execute enqueues task for the worker goroutine. Safe from any goroutine,
// including the worker itself.
func (w *Worker) Execute(task func()) error {
	if w.pool.closed.Load() {
		return ErrPoolClosed
	}
	if !w.tasks.Enqueue(task) {
		return api.NewError(api.ErrCodeResourceExhausted, "worker task queue full").
			WithContext("worker", w.id)
	}
	w.Wake()
	return nil
}

// Wake interrupts a parked worker.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Add attaches an agent previously assigned with Pool.Assign. The agent is
// ticked from the next loop iteration.
func (w *Worker) Add(a Agent) error {
	return w.Execute(func() { w.attach(a) })
}

// Unassign returns an assignment that was never added.
func (w *Worker) Unassign() { w.load.Add(-1) }

// Stats returns the flight recorder snapshot.
func (w *Worker) Stats() api.WorkerStats {
	var started time.Time
	if ns := w.startedAt.Load(); ns != 0 {
		started = time.Unix(0, ns)
	}
	return api.WorkerStats{
		Worker:    w.id,
		Agents:    w.Load(),
		Ticks:     w.ticks.Load(),
		IdleTicks: w.idleTicks.Load(),
		Work:      w.work.Load(),
		StartedAt: started,
	}
}

func (w *Worker) attach(a Agent) AgentID {
	if n := len(w.free); n > 0 {
		id := w.free[n-1]
		w.free = w.free[:n-1]
		w.slots[id] = a
		return id
	}
	w.slots = append(w.slots, a)
	return AgentID(len(w.slots) - 1)
}

func (w *Worker) detach(id AgentID) {
	w.slots[id] = nil
	w.free = append(w.free, id)
	w.load.Add(-1)
}

func (w *Worker) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.ErrCodeInternal, "worker loop panic").
				WithContext("worker", w.id).WithContext("panic", fmt.Sprint(r))
			w.log.Error("worker loop panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	w.startedAt.Store(time.Now().UnixNano())
	if w.pool.cfg.PinWorkers {
		cpu, perr := affinity.PinWorker(w.id)
		defer runtime.UnlockOSThread()
		if perr != nil {
			w.log.Warn("worker pinning failed", zap.Error(perr))
		} else {
			w.log.Debug("worker pinned", zap.Int("cpu", cpu))
		}
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	park := func(d time.Duration) {
		timer.Reset(d)
		select {
		case <-timer.C:
		case <-w.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
	idle := NewBackoffIdleStrategy(idleSpins, idleYield, minPark, w.pool.cfg.IdleMaxPark, park)

	w.log.Debug("worker started")
	for ctx.Err() == nil {
		idle.Idle(w.tick(time.Now()))
	}
	w.shutdown()
	w.log.Debug("worker stopped", zap.Uint64("ticks", w.ticks.Load()))
	return nil
}

// tick runs one loop iteration and returns the work done.
func (w *Worker) tick(now time.Time) int {
	work := 0
	for _, p := range [...]phase{phaseSweep, phaseOutbound, phaseInbound} {
		for i, a := range w.slots {
			if a != nil {
				work += w.call(AgentID(i), a, p, now)
			}
		}
	}
	work += w.tasks.Drain(taskBatch, w.runTask)
	w.reap()

	w.ticks.Add(1)
	if work == 0 {
		w.idleTicks.Add(1)
	} else {
		w.work.Add(uint64(work))
	}
	if r := w.pool.cfg.Recorder; r != nil {
		r.RecordTick(w.id, work)
	}
	return work
}

func (w *Worker) call(id AgentID, a Agent, p phase, now time.Time) (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = 1
			w.fail(id, a, p, r)
		}
	}()
	switch p {
	case phaseSweep:
		return a.Sweep(now)
	case phaseOutbound:
		return a.DoOutbound(now)
	default:
		return a.DoInbound(now)
	}
}

func (w *Worker) fail(id AgentID, a Agent, p phase, r any) {
	w.log.Error("agent panic", zap.Int("agent", int(id)), zap.Stringer("phase", p),
		zap.Any("panic", r), zap.Stack("stack"))
	cause := api.NewError(api.ErrCodeInternal, "agent panic").
		WithContext("phase", p.String()).WithContext("panic", fmt.Sprint(r))
	w.terminate(a, cause)
	if w.slots[id] == a {
		w.detach(id)
	}
}

func (w *Worker) terminate(a Agent, cause error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("agent terminate panic", zap.Any("panic", r))
		}
	}()
	a.Terminate(cause)
}

func (w *Worker) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

func (w *Worker) reap() {
	for i, a := range w.slots {
		if a != nil && w.closed(a) {
			w.detach(AgentID(i))
		}
	}
}

func (w *Worker) closed(a Agent) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			done = true
		}
	}()
	return a.Closed()
}

// shutdown runs queued tasks, then terminates every remaining agent.
func (w *Worker) shutdown() {
	for w.tasks.Drain(taskBatch, w.runTask) > 0 {
	}
	for i, a := range w.slots {
		if a == nil {
			continue
		}
		w.terminate(a, ErrPoolClosed)
		w.detach(AgentID(i))
	}
	// teardown may have queued follow-up work
	for w.tasks.Drain(taskBatch, w.runTask) > 0 {
	}
}
