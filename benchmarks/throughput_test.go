// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-flow components.

package benchmarks

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-flow/api"
	core "github.com/momentics/hioload-flow/core/protocol"
	"github.com/momentics/hioload-flow/fake"
	"github.com/momentics/hioload-flow/internal/concurrency"
	"github.com/momentics/hioload-flow/pool"
	"github.com/momentics/hioload-flow/protocol"
	"github.com/momentics/hioload-flow/reactor"
)

// BenchmarkFrameCodec measures encode plus decode of one data frame.
func BenchmarkFrameCodec(b *testing.B) {
	payload := make([]byte, 1024)
	buf := make([]byte, core.FrameLength(len(payload)))
	h := core.Header{SessionID: 7, StreamID: 1, Flags: core.FlagBegin | core.FlagEnd}

	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Sequence = uint32(i)
		n, err := core.EncodeFrame(buf, h, payload)
		if err != nil {
			b.Fatal(err)
		}
		if _, _, err := core.DecodeFrame(buf[:n]); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReassembly fragments a 16KiB message into 1KiB segments and
// reassembles it.
func BenchmarkReassembly(b *testing.B) {
	const size = 16 << 10
	msg := make([]byte, size)
	frag := core.NewFragmenter(1024)
	r := core.NewReassembler(core.DefaultMaxMessageSize, pool.NewBytePool(core.DefaultMaxMessageSize))
	count := frag.Count(len(msg))
	var delivered int
	deliver := func(int32, []byte) { delivered++ }

	b.SetBytes(size)
	b.ReportAllocs()
	b.ResetTimer()
	var seq uint32
	for i := 0; i < b.N; i++ {
		for idx := 0; idx < count; idx++ {
			chunk, flags := frag.Chunk(msg, idx)
			h := core.Header{StreamID: 1, Flags: flags, Sequence: seq, Length: uint32(len(chunk))}
			seq++
			if err := r.OnFrame(h, chunk, deliver); err != nil {
				b.Fatal(err)
			}
		}
	}
	if delivered != b.N {
		b.Fatalf("delivered %d of %d", delivered, b.N)
	}
}

// BenchmarkBytePool measures reassembly buffer recycling.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool(1 << 20)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Put(p.Get(4096))
		}
	})
}

// BenchmarkSubmitQueue measures the producer hand-off queue.
func BenchmarkSubmitQueue(b *testing.B) {
	q := concurrency.NewLockFreeQueue[int](1024)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if !q.Enqueue(i) {
				q.Dequeue()
			}
			i++
		}
	})
}

// BenchmarkOneWayThroughput streams messages from an initiator to an
// acceptor over the in-memory substrate.
func BenchmarkOneWayThroughput(b *testing.B) {
	for _, size := range []int{64, 1024, 8192} {
		b.Run(byteSize(size), func(b *testing.B) { benchmarkOneWay(b, size) })
	}
}

func benchmarkOneWay(b *testing.B, size int) {
	d := fake.NewDriver(fake.Options{MTU: 4096})
	p := reactor.NewPool(reactor.Config{Workers: 2})
	if err := p.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	m := protocol.NewManager(d, p, protocol.DefaultOptions())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		_ = p.Close()
	}()

	var received atomic.Int64
	all := make(chan struct{})
	target := int64(b.N)
	_, err := m.Bind(context.Background(), protocol.BindOptions{Channel: "bench", StreamID: 1}, func(c *protocol.Connection) {
		sub, err := c.Inbound().Subscribe(api.ConsumerFuncs{
			Message: func(api.Message) {
				if received.Add(1) == target {
					close(all)
				}
			},
		})
		if err != nil {
			panic(err)
		}
		sub.Request(target)
	})
	if err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := m.Connect(ctx, protocol.ConnectOptions{ServerChannel: "bench", ClientChannel: "bench.reply", StreamID: 1})
	cancel()
	if err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, size)
	msgs := make(chan []byte, 256)
	go func() {
		defer close(msgs)
		for i := 0; i < b.N; i++ {
			msgs <- payload
		}
	}()

	b.SetBytes(int64(size))
	b.ResetTimer()
	if err := c.Outbound().SendFrom(context.Background(), msgs); err != nil {
		b.Fatal(err)
	}
	select {
	case <-all:
	case <-time.After(time.Minute):
		b.Fatalf("received %d of %d", received.Load(), b.N)
	}
	b.StopTimer()
}

func byteSize(n int) string {
	if n >= 1<<10 {
		return strconv.Itoa(n>>10) + "KiB"
	}
	return strconv.Itoa(n) + "B"
}
