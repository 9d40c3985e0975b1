package protocol_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/core/protocol"
)

func TestControlRoundTrip(t *testing.T) {
	msgs := []protocol.Control{
		{Type: protocol.ControlConnect, SessionID: 11, ReplyChannel: "mem:client-1"},
		{Type: protocol.ControlConnectAck, SessionID: 11, ServerSessionID: 22},
		{Type: protocol.ControlHeartbeat},
		{Type: protocol.ControlClose},
		{Type: protocol.ControlAbort, StreamID: 4},
	}
	for _, m := range msgs {
		t.Run(m.Type.String(), func(t *testing.T) {
			b, err := protocol.EncodeControl(m)
			if err != nil {
				t.Fatal(err)
			}
			got, err := protocol.DecodeControl(b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(m, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeControlMalformed(t *testing.T) {
	connect, _ := protocol.EncodeControl(protocol.Control{Type: protocol.ControlConnect, ReplyChannel: "abc"})
	cases := map[string][]byte{
		"empty":     nil,
		"unknown":   {99},
		"truncated": connect[:len(connect)-1],
		"short ack": {byte(protocol.ControlConnectAck), 0, 0},
		"abort":     {byte(protocol.ControlAbort), 1},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := protocol.DecodeControl(b); !errors.Is(err, api.ErrProtocolViolation) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
