// Package api
// Author: momentics
//
// Live debug introspection.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState emits a snapshot of system state for diagnostics.
	DumpState() map[string]any

	// RegisterProbe registers a named probe evaluated on every dump.
	RegisterProbe(name string, fn func() any)
}
