package model

import "encoding/binary"

// IOCTL request ids
const (
	IoctlInvalid      = 0
	IoctlReplyTimeout = 1
	IoctlMax          = 2
)

// Ioctl is the data region of an IOCTL frame: request id then argument.
type Ioctl struct {
	Req byte
	Arg []byte
}

// ParseIoctl splits an IOCTL payload. It fails on an empty payload.
func ParseIoctl(p []byte) (Ioctl, bool) {
	if len(p) < 1 {
		return Ioctl{}, false
	}
	return Ioctl{Req: p[0], Arg: p[1:]}, true
}

// Bytes returns the payload form of i.
func (i Ioctl) Bytes() []byte {
	return append([]byte{i.Req}, i.Arg...)
}

// ReplyTimeoutArg encodes a reply timeout in milliseconds.
func ReplyTimeoutArg(ms uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, ms)
}

// ReplyTimeout decodes the argument of IoctlReplyTimeout.
func (i Ioctl) ReplyTimeout() (uint16, bool) {
	if len(i.Arg) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(i.Arg), true
}
