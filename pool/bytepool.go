// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"math/bits"
	"sync/atomic"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/internal/concurrency"
)

var _ api.BytePool = (*BytePool)(nil)

const (
	minClassShift        = 12 // 4 KiB
	defaultClassCapacity = 256
)

// BytePool hands out zero-length slices whose capacity is the smallest
// power-of-two class that fits the hint. Requests above maxSize bypass the
// pool.
type BytePool struct {
	maxSize int
	classes []*concurrency.LockFreeQueue[[]byte]

	allocs atomic.Uint64
	reuses atomic.Uint64
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Allocs uint64
	Reuses uint64
}

// NewBytePool creates a pool that recycles buffers up to maxSize bytes.
func NewBytePool(maxSize int) *BytePool {
	if maxSize < 1<<minClassShift {
		maxSize = 1 << minClassShift
	}
	n := classOf(maxSize) + 1
	p := &BytePool{maxSize: maxSize, classes: make([]*concurrency.LockFreeQueue[[]byte], n)}
	for i := range p.classes {
		p.classes[i] = concurrency.NewLockFreeQueue[[]byte](defaultClassCapacity)
	}
	return p
}

func classOf(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minClassShift
}

// Get returns a buffer with len 0 and cap >= sizeHint.
func (p *BytePool) Get(sizeHint int) []byte {
	if sizeHint > p.maxSize {
		p.allocs.Add(1)
		return make([]byte, 0, sizeHint)
	}
	c := classOf(sizeHint)
	if buf, ok := p.classes[c].Dequeue(); ok {
		p.reuses.Add(1)
		return buf[:0]
	}
	p.allocs.Add(1)
	return make([]byte, 0, 1<<(c+minClassShift))
}

// Put recycles buf. Buffers that do not match a class exactly are dropped.
func (p *BytePool) Put(buf []byte) {
	size := cap(buf)
	if size < 1<<minClassShift || size > p.maxSize || size&(size-1) != 0 {
		return
	}
	p.classes[classOf(size)].Enqueue(buf[:0])
}

// Stats returns allocation counters.
func (p *BytePool) Stats() Stats {
	return Stats{Allocs: p.allocs.Load(), Reuses: p.reuses.Load()}
}
