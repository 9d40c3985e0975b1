// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling contract used by reassembly.

package api

// BytePool provides reusable []byte buffers.
type BytePool interface {
	// Get returns an empty slice with capacity of at least n bytes.
	Get(n int) []byte

	// Put returns a buffer to the pool.
	Put(buf []byte)
}
