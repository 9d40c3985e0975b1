// File: fake/publication.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"fmt"

	"github.com/momentics/hioload-flow/api"
)

var _ api.Publication = (*Publication)(nil)

// Publication appends to one image per connected subscription.
type Publication struct {
	d       *Driver
	key     key
	session int32
	images  []*Image
	closed  bool
}

func (p *Publication) Channel() string       { return p.key.channel }
func (p *Publication) StreamID() int32       { return p.key.stream }
func (p *Publication) SessionID() int32      { return p.session }
func (p *Publication) MaxPayloadLength() int { return p.d.opts.MTU }

// IsConnected reports whether any subscription receives this publication.
func (p *Publication) IsConnected() bool {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return !p.closed && len(p.images) > 0
}

// Offer copies buf into every image. The slowest image decides back pressure.
func (p *Publication) Offer(buf []byte) api.OfferResult {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.closed {
		return api.OfferClosed
	}
	if r, ok := d.faults[p.key.channel]; ok {
		return r
	}
	if len(buf) > d.opts.MTU {
		panic(fmt.Sprintf("fake: offer of %d bytes exceeds mtu %d", len(buf), d.opts.MTU))
	}
	if len(p.images) == 0 {
		return api.OfferNotConnected
	}
	for _, img := range p.images {
		if len(img.frames) >= d.opts.TermCapacity {
			return api.OfferBackPressured
		}
	}
	frame := append([]byte(nil), buf...)
	for _, img := range p.images {
		img.frames = append(img.frames, frame)
	}
	return api.OfferSuccess
}

// Close detaches the publication. Each image turns unavailable once its
// buffered frames were polled.
func (p *Publication) Close() error {
	d := p.d
	d.mu.Lock()
	if p.closed {
		d.mu.Unlock()
		return nil
	}
	p.closed = true
	d.pubs[p.key] = remove(d.pubs[p.key], p)
	var notices []notice
	for _, img := range append([]*Image(nil), p.images...) {
		img.pubClosed = true
		if len(img.frames) == 0 {
			notices = append(notices, img.retire())
		}
	}
	d.mu.Unlock()
	fire(notices)
	return nil
}
