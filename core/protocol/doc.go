// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol of hioload-flow.
//
// Includes:
//   - Fixed 17-byte big-endian frame header codec
//   - Segmentation of large messages into MTU-sized frames
//   - Per-stream reassembly with sequence verification
//   - Control-stream messages for handshake and lifecycle
//
// Everything here is single-threaded; callers own the concurrency.
package protocol
