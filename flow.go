package psmq

import (
	"context"

	"github.com/RoanBrand/psmq/internal/model"
	log "github.com/sirupsen/logrus"
)

// send encodes f and delivers it to slot.
func (s *Server) send(slot uint8, f *model.Frame, prio uint32) error {
	b, err := f.Append(s.tx[:0], model.Reply)
	if err != nil {
		return err
	}
	return s.deliver(slot, b, prio)
}

// deliver queues b on the channel of slot, waiting no longer than the
// client's reply timeout. Failures are counted until the next success.
func (s *Server) deliver(slot uint8, b []byte, prio uint32) error {
	c := &s.clients[slot]
	if err := c.ch.Send(context.Background(), b, prio, c.replyTimeout()); err != nil {
		if c.missed < model.StatusMax {
			c.missed++
		}
		s.count(statMiss)
		return err
	}

	c.missed = 0
	return nil
}

// evict drops the oldest frame waiting on the channel of slot to make room
// for the CLOSE that closeClient sends.
func (s *Server) evict(slot uint8) {
	c := &s.clients[slot]
	log.WithFields(log.Fields{"slot": slot, "channel": c.name, "missed": c.missed}).Warn("Client is not receiving, closing it")

	if _, _, err := c.ch.Receive(context.Background(), s.scratch, 0); err != nil {
		log.WithError(err).WithField("slot", slot).Debug("Nothing drained from client channel")
	}

	s.count(statEvict)
	s.closeClient(slot)
}
