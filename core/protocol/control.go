// File: core/protocol/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control-stream messages. Each fits in a single unfragmented frame on
// ControlStreamID. Body layout (big-endian), after a one-byte type:
//
//	CONNECT      sessionId:4 | replyLen:2 | replyChannel
//	CONNECT_ACK  sessionId:4 | serverSessionId:4
//	HEARTBEAT    (empty)
//	CLOSE        (empty)
//	ABORT        streamId:4

package protocol

import (
	"encoding/binary"

	"github.com/momentics/hioload-flow/api"
)

// ControlType identifies a control message.
type ControlType uint8

const (
	ControlConnect ControlType = iota + 1
	ControlConnectAck
	ControlHeartbeat
	ControlClose
	ControlAbort
)

func (t ControlType) String() string {
	switch t {
	case ControlConnect:
		return "CONNECT"
	case ControlConnectAck:
		return "CONNECT_ACK"
	case ControlHeartbeat:
		return "HEARTBEAT"
	case ControlClose:
		return "CLOSE"
	case ControlAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Control is a decoded control message. Only the fields relevant to Type are
// meaningful.
type Control struct {
	Type            ControlType
	SessionID       int32
	ServerSessionID int32
	ReplyChannel    string
	StreamID        int32
}

const maxReplyChannel = 1<<16 - 1

// EncodeControl serialises c.
func EncodeControl(c Control) ([]byte, error) {
	switch c.Type {
	case ControlConnect:
		if len(c.ReplyChannel) > maxReplyChannel {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "reply channel too long").
				WithContext("len", len(c.ReplyChannel))
		}
		b := make([]byte, 1+4+2+len(c.ReplyChannel))
		b[0] = byte(c.Type)
		binary.BigEndian.PutUint32(b[1:5], uint32(c.SessionID))
		binary.BigEndian.PutUint16(b[5:7], uint16(len(c.ReplyChannel)))
		copy(b[7:], c.ReplyChannel)
		return b, nil
	case ControlConnectAck:
		b := make([]byte, 9)
		b[0] = byte(c.Type)
		binary.BigEndian.PutUint32(b[1:5], uint32(c.SessionID))
		binary.BigEndian.PutUint32(b[5:9], uint32(c.ServerSessionID))
		return b, nil
	case ControlHeartbeat, ControlClose:
		return []byte{byte(c.Type)}, nil
	case ControlAbort:
		b := make([]byte, 5)
		b[0] = byte(c.Type)
		binary.BigEndian.PutUint32(b[1:5], uint32(c.StreamID))
		return b, nil
	default:
		return nil, api.NewError(api.ErrCodeInvalidArgument, "unknown control type").
			WithContext("type", uint8(c.Type))
	}
}

func badControl(reason string, t ControlType) *api.Error {
	return api.NewError(api.ErrCodeProtocolViolation, "malformed control message: "+reason).
		WithContext("type", t.String())
}

// DecodeControl parses a control frame payload.
func DecodeControl(b []byte) (Control, error) {
	if len(b) == 0 {
		return Control{}, badControl("empty", 0)
	}
	c := Control{Type: ControlType(b[0])}
	body := b[1:]
	switch c.Type {
	case ControlConnect:
		if len(body) < 6 {
			return Control{}, badControl("short body", c.Type)
		}
		c.SessionID = int32(binary.BigEndian.Uint32(body[0:4]))
		n := int(binary.BigEndian.Uint16(body[4:6]))
		if len(body) < 6+n {
			return Control{}, badControl("reply channel truncated", c.Type)
		}
		c.ReplyChannel = string(body[6 : 6+n])
	case ControlConnectAck:
		if len(body) < 8 {
			return Control{}, badControl("short body", c.Type)
		}
		c.SessionID = int32(binary.BigEndian.Uint32(body[0:4]))
		c.ServerSessionID = int32(binary.BigEndian.Uint32(body[4:8]))
	case ControlHeartbeat, ControlClose:
	case ControlAbort:
		if len(body) < 4 {
			return Control{}, badControl("short body", c.Type)
		}
		c.StreamID = int32(binary.BigEndian.Uint32(body[0:4]))
	default:
		return Control{}, badControl("unknown type", c.Type)
	}
	return c, nil
}
