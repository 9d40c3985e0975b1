// File: internal/session/liveness.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"time"

	"github.com/momentics/hioload-flow/api"
)

// Teardown causes raised by the monitor.
var (
	ErrImageUnavailable = api.NewError(api.ErrCodeSessionUnavailable, "peer image unavailable")
	ErrConnectTimeout   = api.NewError(api.ErrCodeSessionUnavailable, "no handshake within connect timeout")
)

// Monitor decides whether a session is still alive.
type Monitor struct {
	LivenessTimeout time.Duration
	ConnectTimeout  time.Duration
}

// Check returns nil for a live session, otherwise the teardown cause.
// An explicit unavailability signal wins over timers.
func (m Monitor) Check(s *Session, now time.Time) error {
	if s.Unavailable() {
		return ErrImageUnavailable
	}
	switch s.Status() {
	case api.SessionConnecting:
		if m.ConnectTimeout > 0 && s.Age(now) > m.ConnectTimeout {
			return api.NewError(api.ErrCodeSessionUnavailable, ErrConnectTimeout.Message).
				WithContext("connect_timeout", m.ConnectTimeout.String())
		}
	case api.SessionConnected:
		if idle := s.Idle(now); m.LivenessTimeout > 0 && idle > m.LivenessTimeout {
			return api.NewError(api.ErrCodeLivenessTimeout, api.ErrLivenessTimeout.Message).
				WithContext("idle", idle.String())
		}
	}
	return nil
}
