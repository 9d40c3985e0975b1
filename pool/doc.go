// Package pool
// Author: momentics <momentics@gmail.com>
//
// Size-classed byte buffer recycling for message reassembly.
// Free lists are bounded lock-free queues, so buffers may be returned from
// any worker.
package pool
