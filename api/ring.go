// Package api
// Author: momentics@gmail.com
//
// Bounded lock-free queue contract for cross-thread producer/consumer hand-off.

package api

// Ring is a bounded lock-free queue contract.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes oldest item, returns false if empty.
	Dequeue() (T, bool)
	// Len returns an approximate number of queued items.
	Len() int
	// Cap returns the fixed capacity.
	Cap() int
}
