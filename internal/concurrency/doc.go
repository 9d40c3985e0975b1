// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free hand-off primitives for hioload-flow. Every value crossing a
// worker boundary (tasks, send submissions, image events) travels through
// the bounded MPMC queue defined here; everything else is worker-exclusive.
package concurrency
