// File: core/protocol/frame_codec.go
// Package protocol implements the stateless frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header layout (big-endian):
//
//	sessionId:4 | streamId:4 | flags:1 | sequence:4 | length:4 | payload

package protocol

import (
	"encoding/binary"

	"github.com/momentics/hioload-flow/api"
)

// Header is the fixed frame header.
type Header struct {
	SessionID int32
	StreamID  int32
	Flags     uint8
	Sequence  uint32
	Length    uint32
}

// IsBegin reports whether the frame opens a message.
func (h Header) IsBegin() bool { return h.Flags&FlagBegin != 0 }

// IsEnd reports whether the frame terminates a message.
func (h Header) IsEnd() bool { return h.Flags&FlagEnd != 0 }

// FrameLength returns the encoded size of a frame carrying n payload bytes.
func FrameLength(n int) int { return HeaderLength + n }

func malformed(reason string) *api.Error {
	return api.NewError(api.ErrCodeProtocolViolation, "malformed frame: "+reason)
}

// EncodeFrame writes h followed by payload into dst and returns the number
// of bytes written. h.Length is taken from len(payload).
func EncodeFrame(dst []byte, h Header, payload []byte) (int, error) {
	if h.Flags&^flagsMask != 0 {
		return 0, malformed("invalid flags").WithContext("flags", h.Flags)
	}
	n := FrameLength(len(payload))
	if len(dst) < n {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "frame buffer too small").
			WithContext("need", n).WithContext("have", len(dst))
	}
	binary.BigEndian.PutUint32(dst[0:4], uint32(h.SessionID))
	binary.BigEndian.PutUint32(dst[4:8], uint32(h.StreamID))
	dst[8] = h.Flags
	binary.BigEndian.PutUint32(dst[9:13], h.Sequence)
	binary.BigEndian.PutUint32(dst[13:17], uint32(len(payload)))
	copy(dst[HeaderLength:], payload)
	return n, nil
}

// AppendFrame is EncodeFrame into a freshly allocated buffer.
func AppendFrame(h Header, payload []byte) ([]byte, error) {
	buf := make([]byte, FrameLength(len(payload)))
	if _, err := EncodeFrame(buf, h, payload); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeFrame parses one frame. The returned payload aliases buf.
func DecodeFrame(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLength {
		return Header{}, nil, malformed("short header").WithContext("len", len(buf))
	}
	h := Header{
		SessionID: int32(binary.BigEndian.Uint32(buf[0:4])),
		StreamID:  int32(binary.BigEndian.Uint32(buf[4:8])),
		Flags:     buf[8],
		Sequence:  binary.BigEndian.Uint32(buf[9:13]),
		Length:    binary.BigEndian.Uint32(buf[13:17]),
	}
	if h.Flags&^flagsMask != 0 {
		return Header{}, nil, malformed("invalid flags").WithContext("flags", h.Flags)
	}
	if uint64(h.Length) > uint64(len(buf)-HeaderLength) {
		return Header{}, nil, malformed("declared length exceeds buffer").
			WithContext("length", h.Length).WithContext("available", len(buf)-HeaderLength)
	}
	return h, buf[HeaderLength : HeaderLength+int(h.Length)], nil
}
