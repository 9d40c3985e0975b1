package protocol_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/fake"
	"github.com/momentics/hioload-flow/protocol"
	"github.com/momentics/hioload-flow/reactor"
)

const (
	serverChannel = "fake:server"
	clientChannel = "fake:client"
	testStream    = int32(10)
)

type harness struct {
	t      *testing.T
	driver *fake.Driver
	pool   *reactor.Pool
	m      *protocol.Manager
}

func testOptions() protocol.Options {
	o := protocol.DefaultOptions()
	o.ConnectTimeout = 2 * time.Second
	o.LivenessTimeout = 2 * time.Second
	o.HeartbeatInterval = 200 * time.Millisecond
	return o
}

func newHarness(t *testing.T, fo fake.Options, opts protocol.Options) *harness {
	t.Helper()
	d := fake.NewDriver(fo)
	pool := reactor.NewPool(reactor.Config{Workers: 2, IdleMaxPark: 200 * time.Microsecond})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := &harness{t: t, driver: d, pool: pool, m: protocol.NewManager(d, pool, opts)}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.m.Shutdown(ctx); err != nil {
			t.Errorf("manager shutdown: %v", err)
		}
		_ = pool.Close()
		_ = d.Close()
	})
	return h
}

// manager returns a second manager on the same driver and pool.
func (h *harness) manager(opts protocol.Options) *protocol.Manager {
	m := protocol.NewManager(h.driver, h.pool, opts)
	h.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func (h *harness) bind(m *protocol.Manager, handler func(*protocol.Connection)) *protocol.Acceptor {
	h.t.Helper()
	a, err := m.Bind(context.Background(), protocol.BindOptions{Channel: serverChannel, StreamID: testStream}, handler)
	if err != nil {
		h.t.Fatal(err)
	}
	return a
}

func (h *harness) connect(m *protocol.Manager, reply string) *protocol.Connection {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := m.Connect(ctx, protocol.ConnectOptions{
		ServerChannel: serverChannel,
		ClientChannel: reply,
		StreamID:      testStream,
	})
	if err != nil {
		h.t.Fatal(err)
	}
	return c
}

// echo answers every message on the same stream. Demand is granted one
// message per completed echo so the worker never blocks on its own queue.
func echo(window int64) func(*protocol.Connection) {
	return func(c *protocol.Connection) {
		out := c.Outbound()
		var sub *protocol.Subscription
		sub, err := c.Inbound().Subscribe(api.ConsumerFuncs{
			Message: func(m api.Message) {
				buf := append([]byte(nil), m.Payload...)
				err := out.Stream(m.StreamID).SendAsync(context.Background(), buf, func(error) { sub.Request(1) })
				if err != nil {
					sub.Request(1)
				}
			},
		})
		if err != nil {
			panic(err)
		}
		sub.Request(window)
	}
}

// recorder is a consumer collecting copies of what it receives.
type recorder struct {
	mu        sync.Mutex
	msgs      [][]byte
	streams   []int32
	completed int
	errs      []error
	terminal  chan struct{}
}

func newRecorder() *recorder { return &recorder{terminal: make(chan struct{})} }

func (r *recorder) OnMessage(m api.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), m.Payload...))
	r.streams = append(r.streams, m.StreamID)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	close(r.terminal)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	close(r.terminal)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) strings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = string(m)
	}
	return out
}

func (r *recorder) subscribe(t *testing.T, c *protocol.Connection, demand int64) *protocol.Subscription {
	t.Helper()
	sub, err := c.Inbound().Subscribe(r)
	if err != nil {
		t.Fatal(err)
	}
	sub.Request(demand)
	return sub
}

func (r *recorder) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal signal")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDisposed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not disposed")
	}
}

const unbounded = int64(math.MaxInt64)
