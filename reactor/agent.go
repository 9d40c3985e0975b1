// File: reactor/agent.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "time"

// Agent is a unit of work owned by exactly one worker. Every method is
// invoked on the owning worker goroutine. Tick methods return the amount of
// work done, zero meaning idle.
type Agent interface {
	// Sweep checks liveness and deadlines.
	Sweep(now time.Time) int
	// DoOutbound offers pending frames.
	DoOutbound(now time.Time) int
	// DoInbound polls and delivers.
	DoInbound(now time.Time) int
	// Terminate tears the agent down with cause. Called after a panic escaped
	// a tick method and on pool shutdown.
	Terminate(cause error)
	// Closed reports that the agent released its resources and can be
	// removed from the worker.
	Closed() bool
}

// AgentID indexes a worker's agent table.
type AgentID int32

type phase uint8

const (
	phaseSweep phase = iota
	phaseOutbound
	phaseInbound
)

func (p phase) String() string {
	switch p {
	case phaseSweep:
		return "sweep"
	case phaseOutbound:
		return "outbound"
	default:
		return "inbound"
	}
}
