package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLockFreeQueue_FIFO(t *testing.T) {
	q := NewLockFreeQueue[int](4)
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("enqueue on full queue succeeded")
	}
	if q.Len() != 4 || q.Cap() != 4 {
		t.Fatalf("len=%d cap=%d", q.Len(), q.Cap())
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue got %d,%v want %d", v, ok, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue succeeded")
	}
}

func TestLockFreeQueue_CapacityRounding(t *testing.T) {
	if got := NewLockFreeQueue[int](5).Cap(); got != 8 {
		t.Errorf("Cap() = %d, want 8", got)
	}
	if got := NewLockFreeQueue[int](0).Cap(); got != 2 {
		t.Errorf("Cap() = %d, want 2", got)
	}
}

func TestLockFreeQueue_Drain(t *testing.T) {
	q := NewLockFreeQueue[int](16)
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	var got []int
	if n := q.Drain(3, func(v int) { got = append(got, v) }); n != 3 {
		t.Fatalf("Drain(3) = %d", n)
	}
	if n := q.Drain(0, func(v int) { got = append(got, v) }); n != 7 {
		t.Fatalf("Drain(0) = %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d", i, v)
		}
	}
}

func TestLockFreeQueue_MPSC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 8
	perProducer := 10000

	var wg sync.WaitGroup
	var sent int64
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := pid*perProducer + i + 1
				for !q.Enqueue(v) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sent, int64(v))
			}
		}(p)
	}

	total := producers * perProducer
	// per-producer order must be preserved for a single consumer
	last := make([]int, producers)
	var received int64
	for n := 0; n < total; {
		v, ok := q.Dequeue()
		if !ok {
			runtime.Gosched()
			continue
		}
		pid := (v - 1) / perProducer
		if v <= last[pid] {
			t.Fatalf("producer %d reordered: %d after %d", pid, v, last[pid])
		}
		last[pid] = v
		received += int64(v)
		n++
	}
	wg.Wait()
	if received != atomic.LoadInt64(&sent) {
		t.Fatalf("sum mismatch: sent=%d received=%d", sent, received)
	}
}
