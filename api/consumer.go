// File: api/consumer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pull-based consumer contract for inbound flows.

package api

// Message is one reassembled message. Payload may alias transport memory and
// is valid only while the consumer callback runs; copy it to retain it.
type Message struct {
	StreamID int32
	Payload  []byte
}

// Consumer receives messages up to the demand it granted, then exactly one
// terminal signal. All methods run on the owning worker goroutine.
type Consumer interface {
	OnMessage(msg Message)
	OnComplete()
	OnError(err error)
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are skipped.
type ConsumerFuncs struct {
	Message  func(Message)
	Complete func()
	Error    func(error)
}

func (c ConsumerFuncs) OnMessage(msg Message) {
	if c.Message != nil {
		c.Message(msg)
	}
}

func (c ConsumerFuncs) OnComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

func (c ConsumerFuncs) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}
