// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants.

package protocol

const (
	// HeaderLength is sessionId:4 | streamId:4 | flags:1 | sequence:4 | length:4.
	HeaderLength = 17

	// Frame flags.
	FlagBegin         uint8 = 0x01
	FlagEnd           uint8 = 0x02
	FlagsUnfragmented       = FlagBegin | FlagEnd
	flagsMask               = FlagBegin | FlagEnd

	// ControlStreamID carries handshake and lifecycle messages. Data streams
	// start at DefaultStreamID.
	ControlStreamID int32 = 0
	DefaultStreamID int32 = 1

	// DefaultMaxMessageSize caps a single reassembled message.
	DefaultMaxMessageSize = 16 << 20
)
