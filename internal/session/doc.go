// Package session
// Author: momentics <momentics@gmail.com>
//
// Session lifecycle and liveness tracking.
// A Session is written by its owning worker and read from any goroutine;
// every field is atomic. The Monitor evaluates sessions on each sweep.
package session
