package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Commands
const (
	OPEN        = 'o'
	CLOSE       = 'c'
	SUBSCRIBE   = 's'
	UNSUBSCRIBE = 'u'
	PUBLISH     = 'p'
	IOCTL       = 'i'
)

// Limits
const (
	TopicMax   = 128
	PayloadMax = 512
	DataMax    = TopicMax + 1 + PayloadMax
	HeaderLen  = 4
	FrameMax   = HeaderLen + DataMax

	// MaxClients is the hard bound on client slots. Slot ids travel in one byte
	// and SlotInvalid is reserved as the error sentinel.
	MinClients  = 2
	MaxClients  = 254
	SlotInvalid = 255
)

// Build fails when the limits above are misconfigured.
var (
	_ [TopicMax - 2]struct{}
	_ [PayloadMax - 2]struct{}
	_ [SlotInvalid - 1 - MaxClients]struct{}
	_ [0xffff - DataMax]struct{}
)

// Status codes carried in the control byte of replies.
// Values are Linux errno numbers and must not change.
const (
	StatusOK     = 0
	StatusNoEnt  = 2
	StatusInval  = 22
	StatusNoSpc  = 28
	StatusBadMsg = 74
	StatusMax    = 255
)

// StatusCode narrows an errno to the single status byte. Anything that does
// not fit is reported as StatusMax.
func StatusCode(errno int) uint8 {
	if errno < 0 || errno >= StatusMax {
		return StatusMax
	}
	return uint8(errno)
}

// Direction selects the data region layout. OPEN carries a topic only in requests.
type Direction uint8

const (
	Request Direction = iota // client to broker
	Reply                    // broker to client
)

var (
	ErrShortFrame    = errors.New("frame shorter than header")
	ErrNotTerminated = errors.New("topic is not nul terminated")
	ErrTopicTooLong  = errors.New("topic too long")
	ErrTopicNul      = errors.New("topic contains nul byte")
	ErrBadPayloadLen = errors.New("payload length exceeds frame")
	ErrTooBig        = errors.New("topic and payload do not fit in frame")
)

// Frame is one message on a channel.
type Frame struct {
	Cmd     byte
	Ctrl    byte // slot id in requests, status in replies
	Topic   string
	Payload []byte
}

// HasTopic reports whether frames of cmd carry a topic in direction d.
func HasTopic(cmd byte, d Direction) bool {
	switch cmd {
	case SUBSCRIBE, UNSUBSCRIBE, PUBLISH:
		return true
	case OPEN:
		return d == Request
	}
	return false
}

// Size is the number of bytes Append writes.
func (f *Frame) Size(d Direction) int {
	if HasTopic(f.Cmd, d) {
		return HeaderLen + len(f.Topic) + 1 + len(f.Payload)
	}
	return HeaderLen + len(f.Payload)
}

// Append encodes the used part of f to b.
func (f *Frame) Append(b []byte, d Direction) ([]byte, error) {
	withTopic := HasTopic(f.Cmd, d)
	used := len(f.Payload)
	if withTopic {
		if len(f.Topic) > TopicMax {
			return b, ErrTopicTooLong
		}
		if strings.IndexByte(f.Topic, 0) >= 0 {
			return b, ErrTopicNul
		}
		used += len(f.Topic) + 1
	}
	if used > DataMax {
		return b, ErrTooBig
	}

	b = append(b, f.Cmd, f.Ctrl)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(f.Payload)))
	if withTopic {
		b = append(b, f.Topic...)
		b = append(b, 0)
	}
	return append(b, f.Payload...), nil
}

// Decode parses a received frame. Payload of the result aliases b.
func Decode(b []byte, d Direction) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrShortFrame
	}

	f := Frame{Cmd: b[0], Ctrl: b[1]}
	pl := int(binary.LittleEndian.Uint16(b[2:]))
	data := b[HeaderLen:]
	if len(data) > DataMax {
		data = data[:DataMax]
	}

	off := 0
	if HasTopic(f.Cmd, d) {
		n := bytes.IndexByte(data, 0)
		if n < 0 {
			return f, ErrNotTerminated
		}
		if n > TopicMax {
			return f, ErrTopicTooLong
		}
		f.Topic = string(data[:n])
		off = n + 1
	}

	if off+pl > len(data) {
		return f, ErrBadPayloadLen
	}
	f.Payload = data[off : off+pl : off+pl]
	return f, nil
}
