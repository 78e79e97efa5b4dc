package psmq

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/internal/sublist"
	"github.com/RoanBrand/psmq/internal/topic"
	log "github.com/sirupsen/logrus"
)

var (
	errInvalidSlot = errors.New("request from unknown slot")
	errNoSlot      = errors.New("no free client slot")
)

func (s *Server) dispatch(b []byte, prio uint32) {
	f, err := model.Decode(b, model.Request)
	if err != nil {
		s.malformed(b, err)
		return
	}

	if f.Cmd != model.OPEN && s.clients.get(f.Ctrl) == nil {
		s.malformed(b, errInvalidSlot)
		return
	}

	switch f.Cmd {
	case model.OPEN:
		s.handleOpen(&f)
	case model.CLOSE:
		log.WithFields(log.Fields{"slot": f.Ctrl, "channel": s.clients[f.Ctrl].name}).Info("Client disconnected")
		s.closeClient(f.Ctrl)
	case model.SUBSCRIBE:
		s.handleSubscribe(&f)
	case model.UNSUBSCRIBE:
		s.handleUnsubscribe(&f)
	case model.PUBLISH:
		s.handlePublish(&f, prio)
	case model.IOCTL:
		s.handleIoctl(&f)
	default:
		log.WithFields(log.Fields{"cmd": fmt.Sprintf("%q", f.Cmd), "slot": f.Ctrl}).Warn("Unknown command")
	}
}

func (s *Server) malformed(b []byte, err error) {
	s.count(statMalformed)
	s.malformedLog.Do(func() {
		log.WithError(err).WithField("len", len(b)).Warn("Dropping malformed frame")
	})
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithError(err).Debug("Malformed frame:\n" + hex.Dump(b))
	}
}

// statusOf maps an error to the status byte sent back to a client.
func statusOf(err error) uint8 {
	var errno int
	switch {
	case err == nil:
		errno = model.StatusOK
	case errors.Is(err, sublist.ErrEmpty), errors.Is(err, sublist.ErrNotFound):
		errno = model.StatusNoEnt
	case errors.Is(err, errBadPattern):
		errno = model.StatusBadMsg
	case errors.Is(err, errNoSlot):
		errno = model.StatusNoSpc
	default:
		errno = model.StatusInval
	}
	return model.StatusCode(errno)
}

var errBadPattern = errors.New("bad subscription pattern")

// checkPattern validates the pattern of a SUBSCRIBE or UNSUBSCRIBE request.
// These requests carry no payload.
func checkPattern(f *model.Frame) error {
	if err := topic.Validate(f.Topic, model.TopicMax); err != nil {
		return fmt.Errorf("%w: %w", errBadPattern, err)
	}
	if len(f.Payload) != 0 {
		return fmt.Errorf("%w: unexpected payload", errBadPattern)
	}
	return nil
}

func (s *Server) handleOpen(f *model.Frame) {
	name := f.Topic
	ch, err := s.Transport.Open(name)
	if err != nil {
		log.WithError(err).WithField("channel", name).Error("Failed to open client channel")
		return
	}

	slot, ok := s.clients.allocate()
	if !ok {
		s.count(statOpenNoSpace)
		log.WithField("channel", name).Warn("No free client slot")

		r := model.Frame{Cmd: model.OPEN, Ctrl: statusOf(errNoSlot)}
		if b, err := r.Append(s.tx[:0], model.Reply); err == nil {
			if err = ch.Send(context.Background(), b, 0, 0); err != nil {
				log.WithError(err).WithField("channel", name).Debug("Failed to reply to rejected client")
			}
		}
		ch.Close()
		return
	}

	c := &s.clients[slot]
	c.ch, c.name, c.missed, c.timeoutMS = ch, name, 0, s.Clients.ReplyTimeoutMS

	r := model.Frame{Cmd: model.OPEN, Ctrl: model.StatusOK, Payload: []byte{slot}}
	if err = s.send(slot, &r, 0); err != nil {
		log.WithError(err).WithField("channel", name).Error("Failed to reply to OPEN, releasing slot")
		ch.Close()
		c.reset()
		return
	}

	s.count(statOpen)
	log.WithFields(log.Fields{"slot": slot, "channel": name, "clients": s.clients.count()}).Info("Client connected")
}

// closeClient acknowledges with CLOSE as far as possible and frees the slot.
func (s *Server) closeClient(slot uint8) {
	c := &s.clients[slot]
	c.missed = 0

	if err := s.send(slot, &model.Frame{Cmd: model.CLOSE, Ctrl: model.StatusOK}, 0); err != nil {
		log.WithError(err).WithField("slot", slot).Debug("CLOSE not delivered")
	}

	if err := c.ch.Close(); err != nil {
		log.WithError(err).WithField("slot", slot).Warn("Failed to close client channel")
	}
	c.reset()
	s.count(statClose)
}

func (s *Server) handleSubscribe(f *model.Frame) {
	c := &s.clients[f.Ctrl]
	err := checkPattern(f)
	if err == nil {
		c.subs.Add(f.Topic)
	}

	lf := log.Fields{"slot": f.Ctrl, "topic": f.Topic}
	if err != nil {
		log.WithFields(lf).WithError(err).Info("Rejected subscription")
	} else {
		log.WithFields(lf).Debug("Subscribed")
	}

	r := model.Frame{Cmd: model.SUBSCRIBE, Ctrl: statusOf(err), Topic: f.Topic}
	if err = s.send(f.Ctrl, &r, 0); err != nil {
		log.WithError(err).WithFields(lf).Warn("Failed to acknowledge SUBSCRIBE")
	}
}

func (s *Server) handleUnsubscribe(f *model.Frame) {
	c := &s.clients[f.Ctrl]
	err := checkPattern(f)
	if err == nil {
		err = c.subs.Delete(f.Topic)
	}

	lf := log.Fields{"slot": f.Ctrl, "topic": f.Topic}
	if err != nil {
		log.WithFields(lf).WithError(err).Info("Rejected unsubscribe")
	} else {
		log.WithFields(lf).Debug("Unsubscribed")
	}

	r := model.Frame{Cmd: model.UNSUBSCRIBE, Ctrl: statusOf(err), Topic: f.Topic}
	if err = s.send(f.Ctrl, &r, 0); err != nil {
		log.WithError(err).WithFields(lf).Warn("Failed to acknowledge UNSUBSCRIBE")
	}
}

// handlePublish relays f to every client with a matching pattern, once per client,
// in slot order and with the priority it was published with.
func (s *Server) handlePublish(f *model.Frame, prio uint32) {
	r := model.Frame{Cmd: model.PUBLISH, Ctrl: model.StatusOK, Topic: f.Topic, Payload: f.Payload}
	b, err := r.Append(s.pub[:0], model.Reply)
	if err != nil {
		s.malformed(f.Payload, err)
		return
	}

	s.count(statPublish)
	s.countTopic(f.Topic)

	for i := range s.clients {
		c := &s.clients[i]
		if !c.used() || !c.subscribed(f.Topic) {
			continue
		}

		slot := uint8(i)
		if err := s.deliver(slot, b, prio); err != nil {
			log.WithError(err).WithFields(log.Fields{"slot": slot, "topic": f.Topic, "missed": c.missed}).Warn("Failed to deliver")
			if c.missed >= s.Clients.MaxMissed {
				s.evict(slot)
			}
			continue
		}
		s.count(statDeliver)
	}
}

func (s *Server) handleIoctl(f *model.Frame) {
	r := model.Frame{Cmd: model.IOCTL, Ctrl: model.StatusInval}

	req, ok := model.ParseIoctl(f.Payload)
	switch {
	case !ok:
		r.Payload = []byte{model.IoctlInvalid}
	case req.Req == model.IoctlReplyTimeout:
		ms, ok := req.ReplyTimeout()
		if !ok {
			r.Payload = f.Payload
			break
		}
		s.clients[f.Ctrl].timeoutMS = ms
		r.Ctrl = model.StatusOK
		r.Payload = model.Ioctl{Req: req.Req, Arg: model.ReplyTimeoutArg(ms)}.Bytes()
		log.WithFields(log.Fields{"slot": f.Ctrl, "reply_timeout_ms": ms}).Debug("Reply timeout changed")
	default:
		r.Payload = []byte{req.Req}
	}

	if err := s.send(f.Ctrl, &r, 0); err != nil {
		log.WithError(err).WithField("slot", f.Ctrl).Warn("Failed to answer IOCTL")
	}
}
