// File: protocol/demand.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "sync/atomic"

// DemandCounter is outstanding pull demand. It never goes negative and
// saturates at its maximum.
type DemandCounter struct {
	v   atomic.Int64
	max int64
}

// NewDemandCounter creates a counter saturating at max.
func NewDemandCounter(max int64) *DemandCounter {
	return &DemandCounter{max: max}
}

// Add grants n more and returns the new total. Non-positive n is ignored.
func (d *DemandCounter) Add(n int64) int64 {
	for {
		cur := d.v.Load()
		if n <= 0 {
			return cur
		}
		next := cur + n
		if next > d.max || next < cur {
			next = d.max
		}
		if d.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Load returns the current demand.
func (d *DemandCounter) Load() int64 { return d.v.Load() }

// Consume takes one unit of demand, reporting false if none was left.
func (d *DemandCounter) Consume() bool {
	for {
		cur := d.v.Load()
		if cur <= 0 {
			return false
		}
		if d.v.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}
