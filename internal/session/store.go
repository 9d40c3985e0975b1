// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry keyed by connection id.

package session

import "sync"

// Registry stores values by uint64 key across power-of-two shards.
type Registry[V any] struct {
	shards []*shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[uint64]V
}

// NewRegistry constructs a registry with at least shardCount shards.
func NewRegistry[V any](shardCount int) *Registry[V] {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint64(shardCount))
	r := &Registry[V]{shards: make([]*shard[V], n), mask: n - 1}
	for i := range r.shards {
		r.shards[i] = &shard[V]{items: make(map[uint64]V)}
	}
	return r
}

// sequential ids are spread with a Fibonacci hash
func (r *Registry[V]) shard(key uint64) *shard[V] {
	return r.shards[(key*0x9E3779B97F4A7C15>>32)&r.mask]
}

// Put stores v under key, replacing any previous value.
func (r *Registry[V]) Put(key uint64, v V) {
	sh := r.shard(key)
	sh.mu.Lock()
	sh.items[key] = v
	sh.mu.Unlock()
}

// Get fetches the value for key.
func (r *Registry[V]) Get(key uint64) (V, bool) {
	sh := r.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (r *Registry[V]) Delete(key uint64) bool {
	sh := r.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.items[key]
	delete(sh.items, key)
	return ok
}

// Len returns the number of stored values.
func (r *Registry[V]) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot copies all values; the registry may change while the copy is used.
func (r *Registry[V]) Snapshot() []V {
	var out []V
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, v := range sh.items {
			out = append(out, v)
		}
		sh.mu.RUnlock()
	}
	return out
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
