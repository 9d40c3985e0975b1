package fake_test

import (
	"testing"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/fake"
)

type images struct {
	available, unavailable []api.Image
}

func (i *images) handlers() (api.ImageHandler, api.ImageHandler) {
	return func(img api.Image) { i.available = append(i.available, img) },
		func(img api.Image) { i.unavailable = append(i.unavailable, img) }
}

func TestOfferPollAcrossImages(t *testing.T) {
	d := fake.NewDriver(fake.Options{})
	pub, err := d.AddPublication("server", 1)
	if err != nil {
		t.Fatal(err)
	}
	if r := pub.Offer([]byte("x")); r != api.OfferNotConnected {
		t.Fatalf("offer without subscriber = %v", r)
	}

	var seen images
	onAvail, onUnavail := seen.handlers()
	sub, err := d.AddSubscription("server", 1, onAvail, onUnavail)
	if err != nil {
		t.Fatal(err)
	}
	if len(seen.available) != 1 || seen.available[0].SessionID() != pub.SessionID() {
		t.Fatalf("available = %v", seen.available)
	}
	pub2, _ := d.AddPublication("server", 1)
	if len(seen.available) != 2 || pub2.SessionID() == pub.SessionID() {
		t.Fatal("second publication not announced with its own session")
	}

	for _, s := range []string{"hello1", "2", "3"} {
		if r := pub.Offer([]byte(s)); r != api.OfferSuccess {
			t.Fatalf("offer = %v", r)
		}
	}
	pub2.Offer([]byte("other"))

	var got []string
	var sessions []int32
	n := sub.Poll(func(buf []byte, session int32) {
		got = append(got, string(buf))
		sessions = append(sessions, session)
	}, 10)
	if n != 4 {
		t.Fatalf("polled %d", n)
	}
	var fromFirst []string
	for i, s := range got {
		if sessions[i] == pub.SessionID() {
			fromFirst = append(fromFirst, s)
		}
	}
	if len(fromFirst) != 3 || fromFirst[0] != "hello1" || fromFirst[2] != "3" {
		t.Errorf("per-image order broken: %v", fromFirst)
	}
}

func TestBackPressureAndFaults(t *testing.T) {
	d := fake.NewDriver(fake.Options{TermCapacity: 2, MTU: 64})
	sub, _ := d.AddSubscription("c", 1, nil, nil)
	pub, _ := d.AddPublication("c", 1)
	if pub.MaxPayloadLength() != 64 {
		t.Fatalf("mtu = %d", pub.MaxPayloadLength())
	}
	pub.Offer([]byte("a"))
	pub.Offer([]byte("b"))
	if r := pub.Offer([]byte("c")); r != api.OfferBackPressured {
		t.Fatalf("full image offer = %v", r)
	}
	if n := d.Buffered("c"); n != 2 {
		t.Fatalf("buffered = %d", n)
	}
	sub.Poll(func([]byte, int32) {}, 1)
	if r := pub.Offer([]byte("c")); r != api.OfferSuccess {
		t.Fatalf("offer after drain = %v", r)
	}

	d.SetBackPressured("c", true)
	sub.Poll(func([]byte, int32) {}, 10)
	if r := pub.Offer([]byte("d")); r != api.OfferBackPressured {
		t.Fatalf("forced back pressure = %v", r)
	}
	d.SetOfferResult("c", api.OfferAdminAction)
	if r := pub.Offer([]byte("d")); r != api.OfferAdminAction {
		t.Fatalf("forced admin action = %v", r)
	}
	d.SetBackPressured("c", false)
	if r := pub.Offer([]byte("d")); r != api.OfferSuccess {
		t.Fatalf("cleared fault = %v", r)
	}
}

func TestImageUnavailableAfterDrain(t *testing.T) {
	d := fake.NewDriver(fake.Options{})
	var seen images
	onAvail, onUnavail := seen.handlers()
	sub, _ := d.AddSubscription("c", 1, onAvail, onUnavail)
	pub, _ := d.AddPublication("c", 1)
	pub.Offer([]byte("last words"))
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	if r := pub.Offer([]byte("x")); r != api.OfferClosed {
		t.Fatalf("offer after close = %v", r)
	}
	if len(seen.unavailable) != 0 {
		t.Fatal("unavailable before buffered frames were drained")
	}
	img := seen.available[0]
	var got string
	if n := img.Poll(func(b []byte, _ int32) { got = string(b) }, 10); n != 1 || got != "last words" {
		t.Fatalf("poll = %d %q", n, got)
	}
	if len(seen.unavailable) != 1 || !img.IsClosed() {
		t.Fatal("image not retired after drain")
	}
	if n := sub.Poll(func([]byte, int32) {}, 10); n != 0 {
		t.Fatalf("retired image still polled: %d", n)
	}

	pub2, _ := d.AddPublication("c", 1)
	pub2.Close()
	if len(seen.unavailable) != 2 {
		t.Fatal("empty image not retired immediately on close")
	}
}

func TestDriverClose(t *testing.T) {
	d := fake.NewDriver(fake.Options{})
	d.AddSubscription("c", 1, nil, nil)
	pub, _ := d.AddPublication("c", 1)
	d.Close()
	if r := pub.Offer([]byte("x")); r != api.OfferClosed {
		t.Fatalf("offer after driver close = %v", r)
	}
	if _, err := d.AddPublication("c", 1); err == nil {
		t.Fatal("add after close succeeded")
	}
}
