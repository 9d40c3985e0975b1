package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/core/protocol"
	"github.com/momentics/hioload-flow/pool"
)

type collected struct {
	stream int32
	msg    string
}

func collector(out *[]collected) protocol.DeliverFunc {
	return func(stream int32, msg []byte) {
		*out = append(*out, collected{stream, string(msg)})
	}
}

func frame(stream int32, seq uint32, flags uint8) protocol.Header {
	return protocol.Header{StreamID: stream, Sequence: seq, Flags: flags}
}

func TestReassemblerSingleFrame(t *testing.T) {
	r := protocol.NewReassembler(0, nil)
	var got []collected
	for i, s := range []string{"hello1", "2", "3"} {
		if err := r.OnFrame(frame(1, uint32(i), protocol.FlagsUnfragmented), []byte(s), collector(&got)); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 3 || got[0].msg != "hello1" || got[2].msg != "3" {
		t.Fatalf("got %+v", got)
	}
}

func TestReassemblerMultiFrame(t *testing.T) {
	r := protocol.NewReassembler(0, pool.NewBytePool(1<<16))
	msg := bytes.Repeat([]byte("0123456789"), 300)
	seg := 1000
	n := protocol.SegmentCount(len(msg), seg)
	var got []collected
	for i := 0; i < n; i++ {
		chunk, flags := protocol.Segment(msg, i, seg)
		if err := r.OnFrame(frame(1, uint32(i), flags), chunk, collector(&got)); err != nil {
			t.Fatal(err)
		}
		if i < n-1 && !r.Assembling(1) {
			t.Fatalf("not assembling after frame %d", i)
		}
	}
	if len(got) != 1 || got[0].msg != string(msg) {
		t.Fatalf("reassembled message mismatch, got %d messages", len(got))
	}
	if r.Assembling(1) {
		t.Error("still assembling after END")
	}
}

func TestReassemblerInterleavedStreams(t *testing.T) {
	r := protocol.NewReassembler(0, nil)
	var got []collected
	d := collector(&got)
	steps := []struct {
		h    protocol.Header
		body string
	}{
		{frame(1, 0, protocol.FlagBegin), "a1"},
		{frame(2, 0, protocol.FlagBegin), "b1"},
		{frame(1, 1, protocol.FlagEnd), "a2"},
		{frame(2, 1, 0), "b2"},
		{frame(2, 2, protocol.FlagEnd), "b3"},
	}
	for _, s := range steps {
		if err := r.OnFrame(s.h, []byte(s.body), d); err != nil {
			t.Fatal(err)
		}
	}
	want := []collected{{1, "a1a2"}, {2, "b1b2b3"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReassemblerViolations(t *testing.T) {
	cases := []struct {
		name   string
		frames []protocol.Header
	}{
		{"sequence gap", []protocol.Header{frame(1, 0, protocol.FlagBegin), frame(1, 2, protocol.FlagEnd)}},
		{"begin while assembling", []protocol.Header{frame(1, 0, protocol.FlagBegin), frame(1, 1, protocol.FlagBegin)}},
		{"end while idle", []protocol.Header{frame(1, 0, protocol.FlagEnd)}},
		{"middle while idle", []protocol.Header{frame(1, 0, 0)}},
		{"gap between messages", []protocol.Header{frame(1, 5, protocol.FlagsUnfragmented), frame(1, 7, protocol.FlagsUnfragmented)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := protocol.NewReassembler(0, nil)
			var err error
			for _, h := range tc.frames {
				if err = r.OnFrame(h, []byte("x"), func(int32, []byte) {}); err != nil {
					break
				}
			}
			if !errors.Is(err, api.ErrProtocolViolation) {
				t.Fatalf("err = %v, want protocol violation", err)
			}
		})
	}
}

func TestReassemblerMaxMessageSize(t *testing.T) {
	r := protocol.NewReassembler(8, nil)
	d := func(int32, []byte) { t.Fatal("oversized message delivered") }
	if err := r.OnFrame(frame(1, 0, protocol.FlagBegin), []byte("12345"), d); err != nil {
		t.Fatal(err)
	}
	err := r.OnFrame(frame(1, 1, protocol.FlagEnd), []byte("6789"), d)
	if !errors.Is(err, api.ErrProtocolViolation) {
		t.Fatalf("err = %v", err)
	}

	r = protocol.NewReassembler(4, nil)
	if err := r.OnFrame(frame(1, 0, protocol.FlagsUnfragmented), []byte("12345"), d); err == nil {
		t.Fatal("oversized single frame accepted")
	}
}

func TestReassemblerAbort(t *testing.T) {
	r := protocol.NewReassembler(0, nil)
	var got []collected
	d := collector(&got)
	if err := r.OnFrame(frame(1, 0, protocol.FlagBegin), []byte("partial"), d); err != nil {
		t.Fatal(err)
	}
	r.Abort(1)
	if r.Assembling(1) {
		t.Fatal("still assembling after abort")
	}
	if err := r.OnFrame(frame(1, 1, protocol.FlagsUnfragmented), []byte("next"), d); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].msg != "next" {
		t.Fatalf("got %+v", got)
	}
	r.Reset()
	if err := r.OnFrame(frame(1, 100, protocol.FlagsUnfragmented), []byte("fresh"), d); err != nil {
		t.Fatalf("reset did not clear sequence tracking: %v", err)
	}
}
