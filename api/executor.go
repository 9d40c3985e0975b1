// Package api
// Author: momentics
//
// Executor contract for cross-thread task hand-off onto event loops.

package api

// Executor runs tasks on one of its event loops.
type Executor interface {
	// Execute schedules task for execution. Returns an error once closed.
	Execute(task func()) error

	// NumWorkers returns the number of event loops.
	NumWorkers() int
}
