package queue

import (
	"context"
	"sync"
	"time"

	"github.com/RoanBrand/psmq/transport"
)

// Queue is a bounded message queue. Items leave in priority order,
// equal priorities in arrival order.
type Queue struct {
	h, t *Item
	sync.Mutex

	n, max  int
	msgSize int

	// closed and replaced whenever an item is added or removed.
	changed chan struct{}
}

func New(max, msgSize int) *Queue {
	return &Queue{max: max, msgSize: msgSize, changed: make(chan struct{})}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.Lock()
	defer q.Unlock()
	return q.n
}

func (q *Queue) MsgSize() int {
	return q.msgSize
}

// add inserts i behind the last item of equal or higher priority.
func (q *Queue) add(i *Item) {
	at := q.t
	for at != nil && at.Prio < i.Prio {
		at = at.prev
	}

	if at == nil { // new h
		i.next = q.h
		if q.h == nil {
			q.t = i
		} else {
			q.h.prev = i
		}
		q.h = i
	} else {
		i.prev, i.next = at, at.next
		if at.next == nil { // is t
			q.t = i
		} else {
			at.next.prev = i
		}
		at.next = i
	}
	q.n++
}

func (q *Queue) remove(i *Item) {
	if i.prev == nil { // is h
		q.h = i.next
	} else {
		i.prev.next = i.next
	}

	if i.next == nil { // is t
		q.t = i.prev
	} else {
		i.next.prev = i.prev
	}

	i.prev, i.next = nil, nil // avoid memory leaks
	q.n--
}

func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push queues a copy of data, waiting up to timeout for room.
func (q *Queue) Push(ctx context.Context, data []byte, prio uint32, timeout time.Duration) error {
	if len(data) > q.msgSize {
		return transport.ErrMsgSize
	}

	w := waiter{timeout: timeout}
	defer w.stop()
	for {
		q.Lock()
		if q.n < q.max {
			q.add(getItem(data, prio))
			q.notify()
			q.Unlock()
			return nil
		}
		changed := q.changed
		q.Unlock()

		if err := w.wait(ctx, changed); err != nil {
			return err
		}
	}
}

// Pop copies the first item into buf, waiting up to timeout for one to arrive.
// buf must hold the largest message the queue accepts, or nothing is removed.
func (q *Queue) Pop(ctx context.Context, buf []byte, timeout time.Duration) (int, uint32, error) {
	if len(buf) < q.msgSize {
		return 0, 0, transport.ErrMsgSize
	}

	w := waiter{timeout: timeout}
	defer w.stop()
	for {
		q.Lock()
		if i := q.h; i != nil {
			q.remove(i)
			q.notify()
			q.Unlock()

			n, prio := copy(buf, i.Data), i.Prio
			returnItem(i)
			return n, prio, nil
		}
		changed := q.changed
		q.Unlock()

		if err := w.wait(ctx, changed); err != nil {
			return 0, 0, err
		}
	}
}

type waiter struct {
	timeout time.Duration
	timer   *time.Timer
}

func (w *waiter) wait(ctx context.Context, changed <-chan struct{}) error {
	if w.timeout == 0 {
		return transport.ErrTimeout
	}

	var expired <-chan time.Time
	if w.timeout > 0 {
		if w.timer == nil {
			w.timer = time.NewTimer(w.timeout)
		}
		expired = w.timer.C
	}

	select {
	case <-changed:
		return nil
	case <-expired:
		return transport.ErrTimeout
	case <-ctx.Done():
		return transport.ErrInterrupted
	}
}

func (w *waiter) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
