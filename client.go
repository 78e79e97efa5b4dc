package psmq

import (
	"time"

	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/internal/sublist"
	"github.com/RoanBrand/psmq/internal/topic"
	"github.com/RoanBrand/psmq/transport"
)

// client is one registry slot. The slot is free while ch is nil.
type client struct {
	ch   transport.Channel
	name string // of ch

	subs sublist.List

	missed    uint8 // consecutive failed deliveries
	timeoutMS uint16
}

func (c *client) used() bool {
	return c.ch != nil
}

func (c *client) replyTimeout() time.Duration {
	return time.Duration(c.timeoutMS) * time.Millisecond
}

// subscribed reports whether any of c's patterns match the published topic.
func (c *client) subscribed(t string) bool {
	return c.subs.Any(func(pattern string) bool {
		return topic.Match(t, pattern)
	})
}

func (c *client) reset() {
	c.subs.Destroy()
	*c = client{}
}

// registry is allocated once and never grows. The slot id is the index.
type registry []client

// allocate returns the first free slot.
func (r registry) allocate() (uint8, bool) {
	for i := range r {
		if !r[i].used() {
			return uint8(i), true
		}
	}
	return model.SlotInvalid, false
}

// get returns the client in slot, or nil if the slot is out of range or free.
func (r registry) get(slot uint8) *client {
	if int(slot) >= len(r) || !r[slot].used() {
		return nil
	}
	return &r[slot]
}

func (r registry) count() (n int) {
	for i := range r {
		if r[i].used() {
			n++
		}
	}
	return
}
