// File: api/substrate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contract of the messaging substrate consumed by the connection layer:
// non-blocking publications (try-offer) and poll-mode subscriptions with
// image availability callbacks.

package api

// OfferResult is the outcome of a non-blocking offer.
type OfferResult int

const (
	OfferSuccess OfferResult = iota
	OfferBackPressured
	OfferNotConnected
	OfferAdminAction
	OfferClosed
)

func (r OfferResult) String() string {
	switch r {
	case OfferSuccess:
		return "success"
	case OfferBackPressured:
		return "back_pressured"
	case OfferNotConnected:
		return "not_connected"
	case OfferAdminAction:
		return "admin_action"
	case OfferClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Retryable reports whether the offer may succeed on a later attempt.
func (r OfferResult) Retryable() bool {
	return r == OfferBackPressured || r == OfferAdminAction
}

// FragmentHandler receives one fragment. buf is only valid for the duration
// of the call; sessionID identifies the image the fragment came from.
type FragmentHandler func(buf []byte, sessionID int32)

// Pollable is anything that can be drained in poll mode.
type Pollable interface {
	// Poll hands at most fragmentLimit fragments to handler and returns how
	// many were read. It never blocks.
	Poll(handler FragmentHandler, fragmentLimit int) int
}

// Image is the substrate's per-peer inbound stream on a subscription.
type Image interface {
	Pollable
	SessionID() int32
	SourceIdentity() string
	IsClosed() bool
}

// ImageHandler is notified of image availability changes. Substrates may
// invoke it from any goroutine.
type ImageHandler func(Image)

// Publication is an outbound substrate handle.
type Publication interface {
	Channel() string
	StreamID() int32
	SessionID() int32
	// MaxPayloadLength is the largest buffer accepted by a single Offer.
	MaxPayloadLength() int
	// Offer tries to append buf without blocking.
	Offer(buf []byte) OfferResult
	IsConnected() bool
	Close() error
}

// Subscription is an inbound substrate handle over every image of a channel.
type Subscription interface {
	Pollable
	Channel() string
	StreamID() int32
	Close() error
}

// Substrate creates publications and subscriptions.
type Substrate interface {
	AddPublication(channel string, streamID int32) (Publication, error)
	AddSubscription(channel string, streamID int32, onAvailable, onUnavailable ImageHandler) (Subscription, error)
	Close() error
}
