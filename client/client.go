// Package client connects to a psmq broker.
//
// A client owns a channel the broker replies and delivers to. Requests are
// sent on the broker's control channel. Acknowledgements arrive on the
// client channel interleaved with published messages; use Receive or WaitAck
// to read them.
package client

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport"
	"github.com/google/uuid"
)

// Status is a non-zero status returned by the broker.
type Status uint8

const (
	ErrNoEntry    = Status(model.StatusNoEnt)
	ErrInvalid    = Status(model.StatusInval)
	ErrNoSpace    = Status(model.StatusNoSpc)
	ErrBadMessage = Status(model.StatusBadMsg)
)

func (s Status) Error() string {
	switch s {
	case ErrNoEntry:
		return "psmq: not subscribed"
	case ErrInvalid:
		return "psmq: invalid request"
	case ErrNoSpace:
		return "psmq: broker has no free client slot"
	case ErrBadMessage:
		return "psmq: malformed topic"
	}
	return "psmq: broker status " + strconv.Itoa(int(s))
}

var (
	ErrEmptyTopic   = errors.New("psmq: topic is empty")
	ErrNoRoot       = errors.New("psmq: topic must start with '/'")
	ErrTooBig       = errors.New("psmq: topic or payload too big")
	ErrBadOpenReply = errors.New("psmq: malformed OPEN reply")
)

// Message is a frame received from the broker.
type Message struct {
	Cmd     byte
	Status  uint8
	Topic   string
	Payload []byte
	Prio    uint32
}

// Err returns the status of a reply as an error.
func (m *Message) Err() error {
	if m.Status != model.StatusOK {
		return Status(m.Status)
	}
	return nil
}

type Options struct {
	// Name of the client channel. Generated if empty.
	Name string
	// Capacity of the client channel. Default 10.
	MaxMsg int
	// How long New waits for the broker to accept. Default 30s.
	OpenTimeout time.Duration
	// How long a request may wait for room on the control channel.
	// Default transport.Forever.
	SendTimeout time.Duration
}

const closeTimeout = time.Second

type Client struct {
	tr     transport.Transport
	broker transport.Channel
	own    transport.Channel
	name   string
	slot   uint8

	sendTimeout time.Duration
	rx, tx      []byte
	pending     []*Message

	// set once the broker sent CLOSE on its own, after which the slot may
	// belong to another client
	dropped bool
}

// New creates the client channel, registers with the broker and waits for
// its slot. Frames that arrive before the OPEN reply are discarded.
func New(ctx context.Context, tr transport.Transport, broker string, o Options) (*Client, error) {
	if o.Name == "" {
		o.Name = "/psmqc-" + uuid.NewString()
	}
	if o.MaxMsg == 0 {
		o.MaxMsg = 10
	}
	if o.OpenTimeout == 0 {
		o.OpenTimeout = 30 * time.Second
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = transport.Forever
	}

	c := Client{
		tr:          tr,
		name:        o.Name,
		sendTimeout: o.SendTimeout,
		rx:          make([]byte, model.FrameMax),
		tx:          make([]byte, 0, model.FrameMax),
	}

	tr.Destroy(c.name) // left over from a previous run
	var err error
	if c.own, err = tr.Create(c.name, o.MaxMsg, model.FrameMax); err != nil {
		return nil, err
	}

	if c.broker, err = tr.Open(broker); err != nil {
		c.release()
		return nil, err
	}

	if err = c.send(ctx, &model.Frame{Cmd: model.OPEN, Topic: c.name}, 0); err != nil {
		c.release()
		return nil, err
	}

	if err = c.awaitOpen(ctx, o.OpenTimeout); err != nil {
		c.release()
		return nil, err
	}
	return &c, nil
}

func (c *Client) awaitOpen(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n, _, err := c.own.Receive(ctx, c.rx, remaining(deadline, timeout))
		if err != nil {
			return err
		}

		f, err := model.Decode(c.rx[:n], model.Reply)
		if err != nil || f.Cmd != model.OPEN {
			continue
		}
		if f.Ctrl != model.StatusOK {
			return Status(f.Ctrl)
		}
		if len(f.Payload) != 1 {
			return ErrBadOpenReply
		}

		c.slot = f.Payload[0]
		return nil
	}
}

func remaining(deadline time.Time, timeout time.Duration) time.Duration {
	if timeout < 0 {
		return transport.Forever
	}
	return max(time.Until(deadline), 0)
}

func (c *Client) release() {
	if c.broker != nil {
		c.broker.Close()
	}
	c.own.Close()
	c.tr.Destroy(c.name)
}

// Slot is the id the broker assigned to this client.
func (c *Client) Slot() uint8 {
	return c.slot
}

// Name of the client channel.
func (c *Client) Name() string {
	return c.name
}

func (c *Client) send(ctx context.Context, f *model.Frame, prio uint32) error {
	b, err := f.Append(c.tx[:0], model.Request)
	if err != nil {
		if errors.Is(err, model.ErrTooBig) || errors.Is(err, model.ErrTopicTooLong) {
			return ErrTooBig
		}
		return err
	}
	return c.broker.Send(ctx, b, prio, c.sendTimeout)
}

func checkTopic(t string) error {
	switch {
	case t == "":
		return ErrEmptyTopic
	case t[0] != '/':
		return ErrNoRoot
	case len(t) > model.TopicMax:
		return ErrTooBig
	}
	return nil
}

// Publish sends payload on topic with priority prio.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, prio uint32) error {
	if err := checkTopic(topic); err != nil {
		return err
	}
	if len(topic)+1+len(payload) > model.DataMax {
		return ErrTooBig
	}
	return c.send(ctx, &model.Frame{Cmd: model.PUBLISH, Ctrl: c.slot, Topic: topic, Payload: payload}, prio)
}

// Subscribe asks for messages published on topics matching pattern.
// The broker answers with a SUBSCRIBE reply.
func (c *Client) Subscribe(ctx context.Context, pattern string) error {
	if err := checkTopic(pattern); err != nil {
		return err
	}
	return c.send(ctx, &model.Frame{Cmd: model.SUBSCRIBE, Ctrl: c.slot, Topic: pattern}, 0)
}

// Unsubscribe removes a pattern added with Subscribe.
// The broker answers with an UNSUBSCRIBE reply.
func (c *Client) Unsubscribe(ctx context.Context, pattern string) error {
	if err := checkTopic(pattern); err != nil {
		return err
	}
	return c.send(ctx, &model.Frame{Cmd: model.UNSUBSCRIBE, Ctrl: c.slot, Topic: pattern}, 0)
}

// Ioctl sends a raw IOCTL request.
func (c *Client) Ioctl(ctx context.Context, req byte, arg []byte) error {
	i := model.Ioctl{Req: req, Arg: arg}
	return c.send(ctx, &model.Frame{Cmd: model.IOCTL, Ctrl: c.slot, Payload: i.Bytes()}, 0)
}

// SetReplyTimeout changes how long the broker waits for room on the client
// channel before counting a delivery as missed.
func (c *Client) SetReplyTimeout(ctx context.Context, ms uint16) error {
	return c.Ioctl(ctx, model.IoctlReplyTimeout, model.ReplyTimeoutArg(ms))
}

// Receive returns the next frame from the broker.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		return m, nil
	}
	return c.receive(ctx, timeout)
}

func (c *Client) receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	n, prio, err := c.own.Receive(ctx, c.rx, timeout)
	if err != nil {
		return nil, err
	}

	f, err := model.Decode(c.rx[:n], model.Reply)
	if err != nil {
		return nil, err
	}
	if f.Cmd == model.CLOSE {
		c.dropped = true
	}
	return &Message{Cmd: f.Cmd, Status: f.Ctrl, Topic: f.Topic, Payload: bytes.Clone(f.Payload), Prio: prio}, nil
}

// WaitAck reads until a reply to cmd arrives. Other frames are kept for Receive.
func (c *Client) WaitAck(ctx context.Context, cmd byte, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		m, err := c.receive(ctx, remaining(deadline, timeout))
		if err != nil {
			return nil, err
		}
		if m.Cmd == cmd {
			return m, m.Err()
		}
		c.pending = append(c.pending, m)
	}
}

// Dropped reports whether a CLOSE from the broker was received.
// The broker closes subscribers that stop receiving.
func (c *Client) Dropped() bool {
	return c.dropped
}

// Close deregisters from the broker and removes the client channel.
// Nothing is sent if the broker already closed the client.
func (c *Client) Close() error {
	var err error
	if !c.dropped {
		f := model.Frame{Cmd: model.CLOSE, Ctrl: c.slot}
		var b []byte
		if b, err = f.Append(c.tx[:0], model.Request); err == nil {
			err = c.broker.Send(context.Background(), b, 0, closeTimeout)
		}
	}
	c.release()
	return err
}
