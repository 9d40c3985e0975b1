// File: fake/subscription.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"strconv"

	"github.com/momentics/hioload-flow/api"
)

var (
	_ api.Subscription = (*Subscription)(nil)
	_ api.Image        = (*Image)(nil)
)

// Subscription polls all of its images in round-robin order.
type Subscription struct {
	d             *Driver
	key           key
	images        []*Image
	rr            int
	closed        bool
	onAvailable   api.ImageHandler
	onUnavailable api.ImageHandler
}

type fragment struct {
	buf     []byte
	session int32
}

func (s *Subscription) Channel() string { return s.key.channel }
func (s *Subscription) StreamID() int32 { return s.key.stream }

// Poll implements api.Pollable.
func (s *Subscription) Poll(handler api.FragmentHandler, fragmentLimit int) int {
	d := s.d
	d.mu.Lock()
	if s.closed || len(s.images) == 0 {
		d.mu.Unlock()
		return 0
	}
	var out []fragment
	n := len(s.images)
	start := s.rr % n
	for i := 0; i < n && len(out) < fragmentLimit; i++ {
		out = s.images[(start+i)%n].take(out, fragmentLimit)
	}
	s.rr = start + 1
	notices := s.retireDrained()
	d.mu.Unlock()

	for _, f := range out {
		handler(f.buf, f.session)
	}
	fire(notices)
	return len(out)
}

// retireDrained must be called with the driver lock held.
func (s *Subscription) retireDrained() []notice {
	var notices []notice
	for i := 0; i < len(s.images); {
		img := s.images[i]
		if img.pubClosed && len(img.frames) == 0 {
			notices = append(notices, img.retire())
			continue
		}
		i++
	}
	return notices
}

// Close detaches the subscription without image callbacks.
func (s *Subscription) Close() error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	d.subs[s.key] = remove(d.subs[s.key], s)
	for _, img := range s.images {
		img.pub.images = remove(img.pub.images, img)
		img.closed = true
	}
	s.images = nil
	return nil
}

// Image is the view of one publication through one subscription.
type Image struct {
	pub       *Publication
	sub       *Subscription
	frames    [][]byte
	pubClosed bool
	closed    bool
}

func (img *Image) SessionID() int32 { return img.pub.session }

func (img *Image) SourceIdentity() string {
	return "fake:" + strconv.Itoa(int(img.pub.session))
}

// IsClosed reports whether the image was retired.
func (img *Image) IsClosed() bool {
	d := img.pub.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return img.closed
}

// Poll drains this image only.
func (img *Image) Poll(handler api.FragmentHandler, fragmentLimit int) int {
	d := img.pub.d
	d.mu.Lock()
	if img.closed {
		d.mu.Unlock()
		return 0
	}
	out := img.take(nil, fragmentLimit)
	var notices []notice
	if img.pubClosed && len(img.frames) == 0 {
		notices = append(notices, img.retire())
	}
	d.mu.Unlock()

	for _, f := range out {
		handler(f.buf, f.session)
	}
	fire(notices)
	return len(out)
}

// take must be called with the driver lock held.
func (img *Image) take(out []fragment, limit int) []fragment {
	for len(out) < limit && len(img.frames) > 0 {
		out = append(out, fragment{img.frames[0], img.pub.session})
		img.frames[0] = nil
		img.frames = img.frames[1:]
	}
	return out
}

// retire must be called with the driver lock held.
func (img *Image) retire() notice {
	img.closed = true
	img.sub.images = remove(img.sub.images, img)
	img.pub.images = remove(img.pub.images, img)
	return notice{img.sub.onUnavailable, img}
}
