package queue

import (
	"context"
	"testing"
	"time"

	"github.com/RoanBrand/psmq/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pop(t *testing.T, q *Queue) (string, uint32) {
	t.Helper()
	buf := make([]byte, 16)
	n, prio, err := q.Pop(context.Background(), buf, 0)
	require.NoError(t, err)
	return string(buf[:n]), prio
}

func TestPriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := New(8, 16)

	for _, m := range []struct {
		d string
		p uint32
	}{{"low1", 0}, {"high1", 9}, {"mid", 5}, {"high2", 9}, {"low2", 0}} {
		require.NoError(t, q.Push(ctx, []byte(m.d), m.p, 0))
	}
	assert.Equal(t, 5, q.Len())

	for _, exp := range []string{"high1", "high2", "mid", "low1", "low2"} {
		got, _ := pop(t, q)
		assert.Equal(t, exp, got)
	}
	assert.Zero(t, q.Len())
}

func TestBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := New(1, 4)

	require.NoError(t, q.Push(ctx, []byte("a"), 0, 0))
	assert.ErrorIs(t, q.Push(ctx, []byte("b"), 0, 0), transport.ErrTimeout)

	start := time.Now()
	assert.ErrorIs(t, q.Push(ctx, []byte("b"), 0, 20*time.Millisecond), transport.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.ErrorIs(t, q.Push(ctx, []byte("toolong"), 0, 0), transport.ErrMsgSize)

	_, _, err := q.Pop(ctx, make([]byte, 1), 0)
	assert.ErrorIs(t, err, transport.ErrMsgSize, "buffer shorter than the message size")
	assert.Equal(t, 1, q.Len(), "item stays queued")
}

func TestPopWaits(t *testing.T) {
	t.Parallel()
	q := New(2, 8)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(context.Background(), []byte("late"), 3, 0)
	}()

	buf := make([]byte, 8)
	n, prio, err := q.Pop(context.Background(), buf, transport.Forever)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf[:n]))
	assert.EqualValues(t, 3, prio)
}

func TestPushWaitsForRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := New(1, 8)
	require.NoError(t, q.Push(ctx, []byte("a"), 0, 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Pop(ctx, make([]byte, 8), 0)
	}()

	require.NoError(t, q.Push(ctx, []byte("b"), 0, time.Second))
	got, _ := pop(t, q)
	assert.Equal(t, "b", got)
}

func TestInterrupted(t *testing.T) {
	t.Parallel()
	q := New(1, 8)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, _, err := q.Pop(ctx, make([]byte, 8), 5*time.Second)
	assert.ErrorIs(t, err, transport.ErrInterrupted)
}
