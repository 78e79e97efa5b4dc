//go:build linux

// Package mqueue implements the transport over POSIX message queues.
package mqueue

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/RoanBrand/psmq/transport"
	"golang.org/x/sys/unix"
)

// Longest single wait in the kernel, so cancelled contexts are noticed.
const waitSlice = 200 * time.Millisecond

// struct mq_attr, every field is a C long.
type attr struct {
	Flags   int
	Maxmsg  int
	Msgsize int
	Curmsgs int
	_       [4]int
}

type Transport struct {
	// Mode is the permission of created queues.
	Mode uint32
}

func New() *Transport {
	return &Transport{Mode: 0o600}
}

func (t *Transport) Create(name string, capacity, frameSize int) (transport.Channel, error) {
	if !transport.ValidName(name) {
		return nil, transport.ErrInvalidName
	}

	a := attr{Maxmsg: capacity, Msgsize: frameSize}
	fd, err := mqOpen(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, t.Mode, &a)
	if err != nil {
		return nil, fmt.Errorf("mq_open %s: %w", name, mapErr(err))
	}
	return &channel{fd: fd, msgSize: frameSize}, nil
}

func (t *Transport) Open(name string) (transport.Channel, error) {
	if !transport.ValidName(name) {
		return nil, transport.ErrInvalidName
	}

	fd, err := mqOpen(name, unix.O_RDWR|unix.O_CLOEXEC, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("mq_open %s: %w", name, mapErr(err))
	}

	var a attr
	if _, _, errno := unix.Syscall(unix.SYS_MQ_GETSETATTR, uintptr(fd), 0, uintptr(unsafe.Pointer(&a))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("mq_getattr %s: %w", name, mapErr(errno))
	}
	return &channel{fd: fd, msgSize: a.Msgsize}, nil
}

func (t *Transport) Destroy(name string) error {
	if !transport.ValidName(name) {
		return transport.ErrInvalidName
	}

	p, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return err
	}
	if _, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(p)), 0, 0); errno != 0 {
		return fmt.Errorf("mq_unlink %s: %w", name, mapErr(errno))
	}
	return nil
}

// The kernel takes the name without its leading slash.
func mqOpen(name string, flags int, mode uint32, a *attr) (int, error) {
	p, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return -1, err
	}

	r, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN, uintptr(unsafe.Pointer(p)), uintptr(flags), uintptr(mode), uintptr(unsafe.Pointer(a)), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}

type channel struct {
	fd      int
	msgSize int
}

func (c *channel) Send(ctx context.Context, b []byte, prio uint32, timeout time.Duration) error {
	if len(b) > c.msgSize {
		return transport.ErrMsgSize
	}

	return c.wait(ctx, timeout, func(ts *unix.Timespec) error {
		_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND, uintptr(c.fd), uintptr(unsafe.Pointer(unsafe.SliceData(b))),
			uintptr(len(b)), uintptr(prio), uintptr(unsafe.Pointer(ts)), 0)
		if errno != 0 {
			return errno
		}
		return nil
	})
}

func (c *channel) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, uint32, error) {
	// the kernel rejects such buffers too, leaving the message queued
	if len(buf) < c.msgSize {
		return 0, 0, transport.ErrMsgSize
	}

	var n int
	var prio uint32
	err := c.wait(ctx, timeout, func(ts *unix.Timespec) error {
		r, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE, uintptr(c.fd), uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)), uintptr(unsafe.Pointer(&prio)), uintptr(unsafe.Pointer(ts)), 0)
		if errno != 0 {
			return errno
		}
		n = int(r)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return n, prio, nil
}

func (c *channel) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return mapErr(err)
	}
	return nil
}

// wait repeats op in slices of at most waitSlice until it succeeds, the
// timeout passes or ctx is done. EINTR is retried.
func (c *channel) wait(ctx context.Context, timeout time.Duration, op func(*unix.Timespec) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		until := time.Now().Add(waitSlice)
		if timeout >= 0 && deadline.Before(until) {
			until = deadline
		}
		ts := unix.NsecToTimespec(until.UnixNano())

		switch err := op(&ts); err {
		case nil:
			return nil
		case unix.ETIMEDOUT:
			if timeout >= 0 && !time.Now().Before(deadline) {
				return transport.ErrTimeout
			}
		case unix.EINTR:
		default:
			return mapErr(err)
		}

		if ctx.Err() != nil {
			return transport.ErrInterrupted
		}
	}
}

func mapErr(err error) error {
	var sentinel error
	switch err {
	case unix.EEXIST:
		sentinel = transport.ErrExist
	case unix.ENOENT:
		sentinel = transport.ErrNotExist
	case unix.ETIMEDOUT:
		sentinel = transport.ErrTimeout
	case unix.EMSGSIZE:
		sentinel = transport.ErrMsgSize
	case unix.EBADF:
		sentinel = transport.ErrClosed
	case unix.EINTR:
		sentinel = transport.ErrInterrupted
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
