// File: core/protocol/reassembler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection, per-stream reassembly of fragmented messages.

package protocol

import (
	"github.com/momentics/hioload-flow/api"
)

// DeliverFunc receives a completed message. msg is valid only for the
// duration of the call.
type DeliverFunc func(streamID int32, msg []byte)

type streamState struct {
	assembling bool
	seen       bool
	lastSeq    uint32
	buf        []byte
}

// Reassembler rebuilds messages from frames. Streams are independent; within
// a stream sequence numbers must increase by exactly one.
type Reassembler struct {
	maxMessageSize int
	buffers        api.BytePool
	streams        map[int32]*streamState
}

// NewReassembler creates a reassembler. buffers may be nil.
func NewReassembler(maxMessageSize int, buffers api.BytePool) *Reassembler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Reassembler{
		maxMessageSize: maxMessageSize,
		buffers:        buffers,
		streams:        make(map[int32]*streamState),
	}
}

func violation(msg string, h Header) *api.Error {
	return api.NewError(api.ErrCodeProtocolViolation, msg).
		WithContext("stream", h.StreamID).WithContext("sequence", h.Sequence)
}

// OnFrame feeds one decoded frame. A returned error is a protocol violation
// and leaves the connection unusable.
func (r *Reassembler) OnFrame(h Header, payload []byte, deliver DeliverFunc) error {
	st := r.streams[h.StreamID]
	if st == nil {
		st = &streamState{}
		r.streams[h.StreamID] = st
	}
	if st.seen && h.Sequence != st.lastSeq+1 {
		return violation("sequence gap", h).WithContext("expected", st.lastSeq+1)
	}
	st.seen = true
	st.lastSeq = h.Sequence

	switch {
	case h.IsBegin() && st.assembling:
		return violation("begin while assembling", h)
	case !h.IsBegin() && !st.assembling:
		return violation("continuation without begin", h)
	}

	if h.IsBegin() && h.IsEnd() {
		if len(payload) > r.maxMessageSize {
			return violation("message exceeds max size", h).WithContext("size", len(payload))
		}
		deliver(h.StreamID, payload)
		return nil
	}

	if h.IsBegin() {
		st.assembling = true
		st.buf = r.get(len(payload) * 2)
	}
	if len(st.buf)+len(payload) > r.maxMessageSize {
		size := len(st.buf) + len(payload)
		r.discard(st)
		return violation("message exceeds max size", h).WithContext("size", size)
	}
	st.buf = append(st.buf, payload...)
	if h.IsEnd() {
		deliver(h.StreamID, st.buf)
		r.discard(st)
	}
	return nil
}

// Abort drops a partially assembled message on streamID. The sequence
// tracking is kept so the next message must still follow on.
func (r *Reassembler) Abort(streamID int32) {
	if st := r.streams[streamID]; st != nil {
		r.discard(st)
	}
}

// Assembling reports whether streamID has a message in progress.
func (r *Reassembler) Assembling(streamID int32) bool {
	st := r.streams[streamID]
	return st != nil && st.assembling
}

// Reset releases every partial buffer and forgets all streams.
func (r *Reassembler) Reset() {
	for id, st := range r.streams {
		r.discard(st)
		delete(r.streams, id)
	}
}

func (r *Reassembler) discard(st *streamState) {
	st.assembling = false
	if st.buf != nil && r.buffers != nil {
		r.buffers.Put(st.buf)
	}
	st.buf = nil
}

func (r *Reassembler) get(hint int) []byte {
	if r.buffers != nil {
		return r.buffers.Get(hint)
	}
	return make([]byte, 0, hint)
}
