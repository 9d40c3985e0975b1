package server_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/fake"
	"github.com/momentics/hioload-flow/protocol"
	"github.com/momentics/hioload-flow/reactor"
	"github.com/momentics/hioload-flow/server"
)

func newManager(t *testing.T) *protocol.Manager {
	t.Helper()
	d := fake.NewDriver(fake.Options{})
	pool := reactor.NewPool(reactor.Config{Workers: 2})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m := protocol.NewManager(d, pool, protocol.DefaultOptions())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		_ = pool.Close()
	})
	return m
}

func connect(t *testing.T, m *protocol.Manager, reply string) *protocol.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := m.Connect(ctx, protocol.ConnectOptions{ServerChannel: "srv", ClientChannel: reply, StreamID: 1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHandlerChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) server.Middleware {
		return func(next server.Handler) server.Handler {
			return func(c *protocol.Connection) {
				order = append(order, name)
				next(c)
			}
		}
	}
	h := server.NewHandlerChain(func(*protocol.Connection) { order = append(order, "handler") }, mw("a"), mw("b"))
	h(nil)
	if diff := cmp.Diff([]string{"a", "b", "handler"}, order); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestBindRejectsNilHandler(t *testing.T) {
	m := newManager(t)
	if _, err := server.Bind(context.Background(), m, "srv", nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("bind = %v", err)
	}
}

func TestRecoverDisposesConnection(t *testing.T) {
	m := newManager(t)
	accepted := make(chan *protocol.Connection, 1)
	capture := func(next server.Handler) server.Handler {
		return func(c *protocol.Connection) {
			accepted <- c
			next(c)
		}
	}
	_, err := server.Bind(context.Background(), m, "srv",
		func(*protocol.Connection) { panic("handler exploded") },
		server.WithMiddleware(capture, server.Recover(zap.NewNop()), server.LogAccepted(zap.NewNop())))
	if err != nil {
		t.Fatal(err)
	}
	connect(t, m, "reply")
	srv := <-accepted
	select {
	case <-srv.OnDispose():
	case <-time.After(5 * time.Second):
		t.Fatal("panicking handler left the connection open")
	}
	if srv.Err() != nil {
		t.Fatalf("recovered panic should dispose locally, got %v", srv.Err())
	}
}

func TestServeStopsOnContext(t *testing.T) {
	m := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, m, "srv", func(*protocol.Connection) {}, server.WithLogger(zap.NewNop()))
	}()

	var c *protocol.Connection
	deadline := time.Now().Add(5 * time.Second)
	for c == nil {
		if len(m.Acceptors()) == 1 {
			c = connect(t, m, "reply")
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("acceptor never bound")
		}
		time.Sleep(time.Millisecond)
	}
	sub, err := c.Inbound().Subscribe(api.ConsumerFuncs{})
	if err != nil {
		t.Fatal(err)
	}
	sub.Request(1)

	cancel()
	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	select {
	case <-c.OnDispose():
	case <-time.After(5 * time.Second):
		t.Fatal("client not told about the acceptor going away")
	}
	if len(m.Acceptors()) != 0 {
		t.Fatal("acceptor still registered")
	}
}
