// Package memq is an in-process transport. Channels are named queues shared
// by every goroutine that uses the same Transport.
package memq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/psmq/internal/queue"
	"github.com/RoanBrand/psmq/transport"
)

type Transport struct {
	mu     sync.Mutex
	queues map[string]*queue.Queue
}

func New() *Transport {
	return &Transport{queues: make(map[string]*queue.Queue, 8)}
}

func (t *Transport) Create(name string, capacity, frameSize int) (transport.Channel, error) {
	if !transport.ValidName(name) || capacity < 1 || frameSize < 1 {
		return nil, transport.ErrInvalidName
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[name]; ok {
		return nil, transport.ErrExist
	}

	q := queue.New(capacity, frameSize)
	t.queues[name] = q
	return &channel{q: q}, nil
}

func (t *Transport) Open(name string) (transport.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		return nil, transport.ErrNotExist
	}
	return &channel{q: q}, nil
}

func (t *Transport) Destroy(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[name]; !ok {
		return transport.ErrNotExist
	}
	delete(t.queues, name)
	return nil
}

// Len returns the number of messages waiting on the named channel.
func (t *Transport) Len(name string) int {
	t.mu.Lock()
	q, ok := t.queues[name]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Len()
}

type channel struct {
	q      *queue.Queue
	closed atomic.Bool
}

func (c *channel) Send(ctx context.Context, b []byte, prio uint32, timeout time.Duration) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.q.Push(ctx, b, prio, timeout)
}

func (c *channel) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, uint32, error) {
	if c.closed.Load() {
		return 0, 0, transport.ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.q.Pop(ctx, buf, timeout)
}

func (c *channel) Close() error {
	if c.closed.Swap(true) {
		return transport.ErrClosed
	}
	return nil
}
