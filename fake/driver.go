// File: fake/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"

	"github.com/momentics/hioload-flow/api"
)

var _ api.Substrate = (*Driver)(nil)

// Defaults.
const (
	DefaultMTU          = 1408
	DefaultTermCapacity = 1024
)

// ErrDriverClosed is returned after Close.
var ErrDriverClosed = api.NewError(api.ErrCodeClosed, "fake driver closed")

// Options configure a Driver.
type Options struct {
	// MTU bounds a single offer.
	MTU int
	// TermCapacity is the number of frames an image buffers before offers
	// report back pressure.
	TermCapacity int
	// FirstSessionID seeds session id allocation; zero picks 1000.
	FirstSessionID int32
}

type key struct {
	channel string
	stream  int32
}

// Driver is a process-local substrate. Image callbacks run on the goroutine
// whose call caused them and never under the driver lock.
type Driver struct {
	mu          sync.Mutex
	opts        Options
	nextSession int32
	pubs        map[key][]*Publication
	subs        map[key][]*Subscription
	faults      map[string]api.OfferResult
	closed      bool
}

// NewDriver creates a driver.
func NewDriver(opts Options) *Driver {
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if opts.TermCapacity <= 0 {
		opts.TermCapacity = DefaultTermCapacity
	}
	if opts.FirstSessionID == 0 {
		opts.FirstSessionID = 1000
	}
	return &Driver{
		opts:        opts,
		nextSession: opts.FirstSessionID,
		pubs:        make(map[key][]*Publication),
		subs:        make(map[key][]*Subscription),
		faults:      make(map[string]api.OfferResult),
	}
}

type notice struct {
	fn  api.ImageHandler
	img *Image
}

func fire(list []notice) {
	for _, n := range list {
		if n.fn != nil {
			n.fn(n.img)
		}
	}
}

// AddPublication implements api.Substrate.
func (d *Driver) AddPublication(channel string, streamID int32) (api.Publication, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDriverClosed
	}
	k := key{channel, streamID}
	p := &Publication{d: d, key: k, session: d.allocSession()}
	var notices []notice
	for _, s := range d.subs[k] {
		img := link(p, s)
		notices = append(notices, notice{s.onAvailable, img})
	}
	d.pubs[k] = append(d.pubs[k], p)
	d.mu.Unlock()
	fire(notices)
	return p, nil
}

// AddSubscription implements api.Substrate.
func (d *Driver) AddSubscription(channel string, streamID int32, onAvailable, onUnavailable api.ImageHandler) (api.Subscription, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDriverClosed
	}
	k := key{channel, streamID}
	s := &Subscription{d: d, key: k, onAvailable: onAvailable, onUnavailable: onUnavailable}
	var notices []notice
	for _, p := range d.pubs[k] {
		img := link(p, s)
		notices = append(notices, notice{onAvailable, img})
	}
	d.subs[k] = append(d.subs[k], s)
	d.mu.Unlock()
	fire(notices)
	return s, nil
}

// Close closes every publication and subscription without callbacks.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, list := range d.pubs {
		for _, p := range list {
			p.closed = true
			for _, img := range p.images {
				img.closed = true
			}
		}
	}
	for _, list := range d.subs {
		for _, s := range list {
			s.closed = true
		}
	}
	d.pubs = map[key][]*Publication{}
	d.subs = map[key][]*Subscription{}
	return nil
}

// SetOfferResult forces every offer on channel to return r. OfferSuccess
// clears the fault.
func (d *Driver) SetOfferResult(channel string, r api.OfferResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r == api.OfferSuccess {
		delete(d.faults, channel)
		return
	}
	d.faults[channel] = r
}

// SetBackPressured toggles a back-pressure fault on channel.
func (d *Driver) SetBackPressured(channel string, on bool) {
	if on {
		d.SetOfferResult(channel, api.OfferBackPressured)
		return
	}
	d.SetOfferResult(channel, api.OfferSuccess)
}

// Buffered returns the number of frames waiting in images of channel.
func (d *Driver) Buffered(channel string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, list := range d.subs {
		if k.channel != channel {
			continue
		}
		for _, s := range list {
			for _, img := range s.images {
				n += len(img.frames)
			}
		}
	}
	return n
}

func (d *Driver) allocSession() int32 {
	id := d.nextSession
	d.nextSession++
	if d.nextSession == 0 {
		d.nextSession = 1
	}
	return id
}

// link must be called with d.mu held.
func link(p *Publication, s *Subscription) *Image {
	img := &Image{pub: p, sub: s}
	p.images = append(p.images, img)
	s.images = append(s.images, img)
	return img
}

func remove[T comparable](list []T, v T) []T {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
