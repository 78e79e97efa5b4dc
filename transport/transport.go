// Package transport abstracts the named, bounded, priority ordered message
// channels the broker and its clients talk over.
package transport

import (
	"context"
	"errors"
	"time"
)

// Forever disables the deadline of a Send or Receive.
const Forever time.Duration = -1

var (
	ErrTimeout     = errors.New("transport: timed out")
	ErrInterrupted = errors.New("transport: interrupted")
	ErrNotExist    = errors.New("transport: channel does not exist")
	ErrExist       = errors.New("transport: channel already exists")
	ErrMsgSize     = errors.New("transport: message size mismatch")
	ErrClosed      = errors.New("transport: channel closed")
	ErrInvalidName = errors.New("transport: invalid channel name")
)

// Channel is an open handle to a named channel. Messages with a higher
// priority are received first, equal priorities in send order.
//
// A timeout of 0 tries once, Forever waits without deadline. A cancelled
// ctx ends a wait with ErrInterrupted. Receive fails with ErrMsgSize, and
// leaves the channel untouched, if buf is shorter than the channel's frame size.
type Channel interface {
	Send(ctx context.Context, b []byte, prio uint32, timeout time.Duration) error
	Receive(ctx context.Context, buf []byte, timeout time.Duration) (n int, prio uint32, err error)
	Close() error
}

// Transport creates, opens and removes named channels.
type Transport interface {
	// Create makes a new channel holding up to capacity messages of at most
	// frameSize bytes. It fails with ErrExist if the name is taken.
	Create(name string, capacity, frameSize int) (Channel, error)
	Open(name string) (Channel, error)
	// Destroy removes the name. Open handles keep working until closed.
	Destroy(name string) error
}

// ValidName reports whether name has the form "/name".
func ValidName(name string) bool {
	if len(name) < 2 || len(name) > 255 || name[0] != '/' {
		return false
	}
	for i := 1; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}
