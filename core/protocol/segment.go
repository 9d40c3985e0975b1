// File: core/protocol/segment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Segmentation of messages into frame-sized chunks.

package protocol

import "github.com/momentics/hioload-flow/api"

// SegmentSize derives the payload chunk size from a substrate MTU. Zero
// means the largest chunk the MTU allows; anything above that is rejected.
func SegmentSize(mtu, configured int) (int, error) {
	limit := mtu - HeaderLength
	if limit <= 0 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "mtu smaller than frame header").
			WithContext("mtu", mtu)
	}
	if configured <= 0 {
		return limit, nil
	}
	if configured > limit {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "segment size exceeds mtu minus header").
			WithContext("segment_size", configured).WithContext("max", limit)
	}
	return configured, nil
}

// SegmentCount returns how many frames a message of n bytes needs. An empty
// message still takes one frame.
func SegmentCount(n, segmentSize int) int {
	if n <= segmentSize {
		return 1
	}
	return (n + segmentSize - 1) / segmentSize
}

// Segment returns the index-th chunk of payload together with its flags.
func Segment(payload []byte, index, segmentSize int) ([]byte, uint8) {
	count := SegmentCount(len(payload), segmentSize)
	start := index * segmentSize
	end := start + segmentSize
	if end > len(payload) {
		end = len(payload)
	}
	var flags uint8
	if index == 0 {
		flags |= FlagBegin
	}
	if index == count-1 {
		flags |= FlagEnd
	}
	return payload[start:end], flags
}

// Fragmenter splits messages for one publication.
type Fragmenter struct {
	segmentSize int
}

// NewFragmenter binds a fragmenter to a segment size obtained from SegmentSize.
func NewFragmenter(segmentSize int) Fragmenter {
	return Fragmenter{segmentSize: segmentSize}
}

// SegmentSize returns the chunk size in bytes.
func (f Fragmenter) SegmentSize() int { return f.segmentSize }

// Count returns the number of frames for a payload of n bytes.
func (f Fragmenter) Count(n int) int { return SegmentCount(n, f.segmentSize) }

// Chunk returns the index-th chunk and its flags.
func (f Fragmenter) Chunk(payload []byte, index int) ([]byte, uint8) {
	return Segment(payload, index, f.segmentSize)
}
