// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session record with forward-only lifecycle.

package session

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-flow/api"
)

// epoch anchors activity stamps to the monotonic clock.
var epoch = time.Now()

func stamp(t time.Time) int64 { return int64(t.Sub(epoch)) }

// Session tracks one peer relationship.
type Session struct {
	id        uint64
	role      api.Role
	sessionID atomic.Int32
	status    atomic.Int32
	created   int64

	lastActivity atomic.Int64
	unavailable  atomic.Bool
}

// New creates a CONNECTING session.
func New(id uint64, role api.Role, sessionID int32, now time.Time) *Session {
	s := &Session{id: id, role: role, created: stamp(now)}
	s.sessionID.Store(sessionID)
	s.status.Store(int32(api.SessionConnecting))
	s.lastActivity.Store(s.created)
	return s
}

// ID returns the local connection identifier.
func (s *Session) ID() uint64 { return s.id }

// Role returns the handshake side.
func (s *Session) Role() api.Role { return s.role }

// SessionID returns the substrate session id carried in frame headers.
func (s *Session) SessionID() int32 { return s.sessionID.Load() }

// SetSessionID updates the negotiated session id.
func (s *Session) SetSessionID(id int32) { s.sessionID.Store(id) }

// Status returns the current lifecycle state.
func (s *Session) Status() api.SessionStatus { return api.SessionStatus(s.status.Load()) }

// Transition moves the session to next. It reports false when next is not
// strictly ahead of the current state.
func (s *Session) Transition(next api.SessionStatus) bool {
	for {
		cur := s.status.Load()
		if int32(next) <= cur {
			return false
		}
		if s.status.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Touch records activity at now. Stamps never move backwards.
func (s *Session) Touch(now time.Time) {
	ts := stamp(now)
	for {
		cur := s.lastActivity.Load()
		if ts <= cur || s.lastActivity.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Idle returns how long the session has been silent at now.
func (s *Session) Idle(now time.Time) time.Duration {
	return time.Duration(stamp(now) - s.lastActivity.Load())
}

// Age returns time since creation.
func (s *Session) Age(now time.Time) time.Duration {
	return time.Duration(stamp(now) - s.created)
}

// MarkUnavailable records an explicit peer-loss signal from the substrate.
func (s *Session) MarkUnavailable() { s.unavailable.Store(true) }

// Unavailable reports whether MarkUnavailable was called.
func (s *Session) Unavailable() bool { return s.unavailable.Load() }
