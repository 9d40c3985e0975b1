// File: reactor/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adaptive backoff for idle event loops.

package reactor

import (
	"runtime"
	"time"
)

// IdleStrategy is consulted after every tick with the work it produced.
type IdleStrategy interface {
	Idle(work int)
	Reset()
}

const (
	stateNotIdle = iota
	stateSpinning
	stateYielding
	stateParking
)

// BackoffIdleStrategy spins, then yields, then parks with exponentially
// growing durations up to maxPark. Any work resets it.
type BackoffIdleStrategy struct {
	maxSpins  int
	maxYields int
	minPark   time.Duration
	maxPark   time.Duration
	park      func(time.Duration)

	state   int
	spins   int
	yields  int
	parkFor time.Duration
}

// NewBackoffIdleStrategy creates a strategy. park defaults to time.Sleep.
func NewBackoffIdleStrategy(maxSpins, maxYields int, minPark, maxPark time.Duration, park func(time.Duration)) *BackoffIdleStrategy {
	if minPark <= 0 {
		minPark = time.Microsecond
	}
	if maxPark < minPark {
		maxPark = minPark
	}
	if park == nil {
		park = time.Sleep
	}
	return &BackoffIdleStrategy{
		maxSpins:  maxSpins,
		maxYields: maxYields,
		minPark:   minPark,
		maxPark:   maxPark,
		park:      park,
	}
}

// Idle backs off when work is zero and resets otherwise.
func (b *BackoffIdleStrategy) Idle(work int) {
	if work > 0 {
		b.Reset()
		return
	}
	switch b.state {
	case stateNotIdle:
		b.state = stateSpinning
		b.spins++
	case stateSpinning:
		b.spins++
		if b.spins > b.maxSpins {
			b.state = stateYielding
			b.yields = 0
		}
	case stateYielding:
		b.yields++
		if b.yields > b.maxYields {
			b.state = stateParking
			b.parkFor = b.minPark
		} else {
			runtime.Gosched()
		}
	case stateParking:
		b.park(b.parkFor)
		b.parkFor *= 2
		if b.parkFor > b.maxPark {
			b.parkFor = b.maxPark
		}
	}
}

// Reset returns to the busy state.
func (b *BackoffIdleStrategy) Reset() {
	b.state = stateNotIdle
	b.spins = 0
	b.yields = 0
	b.parkFor = b.minPark
}
