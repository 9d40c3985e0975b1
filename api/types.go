// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// SessionStatus enumerates the lifecycle state of a session. States only
// move forward in declaration order.
type SessionStatus int32

const (
	SessionConnecting SessionStatus = iota
	SessionConnected
	SessionClosing
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role tells which side of the handshake a session was created on.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// Endpoints describes the substrate channels of one session.
type Endpoints struct {
	ServerChannel string // channel the initiator publishes to
	ClientChannel string // reply channel the acceptor publishes to
	StreamID      int32  // substrate stream id shared by both channels
}

// WorkerStats is a point-in-time view of one worker's flight recorder.
type WorkerStats struct {
	Worker    int
	Agents    int
	Ticks     uint64
	IdleTicks uint64
	Work      uint64
	StartedAt time.Time
}
