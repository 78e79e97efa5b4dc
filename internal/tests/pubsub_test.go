package tests_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RoanBrand/psmq/client"
	"github.com/RoanBrand/psmq/internal/model"
	"github.com/google/uuid"
)

func testPublish(t *testing.T) {
	t.Parallel()
	topic := "/" + uuid.NewString()
	p := dial(t, 10)
	s1, s2 := dial(t, 10), dial(t, 10)
	subscribe(t, s1, topic)
	subscribe(t, s2, topic)

	payload := []byte("hello")
	publish(t, p, topic, payload, 0)
	expectPub(t, s1, topic, payload)
	expectPub(t, s2, topic, payload)

	// empty and largest payloads
	publish(t, p, topic, nil, 0)
	big := bytes.Repeat([]byte{0xAB}, model.DataMax-len(topic)-1)
	publish(t, p, topic, big, 0)
	for _, s := range []*client.Client{s1, s2} {
		expectPub(t, s, topic, nil)
		expectPub(t, s, topic, big)
	}

	if err := p.Publish(context.Background(), topic, append(big, 0), 0); !errors.Is(err, client.ErrTooBig) {
		t.Fatal("expected ErrTooBig, got", err)
	}

	// publisher only gets what it subscribed to
	barrier(t, p)
	expectNothing(t, p, 10*time.Millisecond)
}

func testWildcards(t *testing.T) {
	t.Parallel()
	base := "/" + uuid.NewString()
	p, s := dial(t, 10), dial(t, 10)
	subscribe(t, s, base+"/+/temp", base+"/a/*")

	publish(t, p, base+"/x/temp", []byte("1"), 0)
	publish(t, p, base+"/a/b/c", []byte("2"), 0)
	publish(t, p, base+"/a/temp", []byte("3"), 0) // both patterns, delivered once
	publish(t, p, base+"/x/y/temp", []byte("4"), 0)
	publish(t, p, base+"/a", []byte("5"), 0)
	publish(t, p, base+"/b", []byte("6"), 0)
	barrier(t, p)

	expectPub(t, s, base+"/x/temp", []byte("1"))
	expectPub(t, s, base+"/a/b/c", []byte("2"))
	expectPub(t, s, base+"/a/temp", []byte("3"))
	expectNothing(t, s, 10*time.Millisecond)
}

func testPriority(t *testing.T) {
	t.Parallel()
	topic := "/" + uuid.NewString()
	p, s := dial(t, 10), dial(t, 10)
	subscribe(t, s, topic)

	for i, prio := range []uint32{1, 5, 0, 5, 9} {
		publish(t, p, topic, []byte{byte(i)}, prio)
	}
	barrier(t, p)

	// highest priority first, oldest first within a priority
	for _, exp := range []struct {
		i    byte
		prio uint32
	}{{4, 9}, {1, 5}, {3, 5}, {0, 1}, {2, 0}} {
		m := expectPub(t, s, topic, []byte{exp.i})
		if m.Prio != exp.prio {
			t.Fatalf("message %d has priority %d, expected %d", exp.i, m.Prio, exp.prio)
		}
	}
}

func testSubscribe(t *testing.T) {
	t.Parallel()
	base := "/" + uuid.NewString()
	p, s := dial(t, 10), dial(t, 10)
	ctx := context.Background()

	for _, bad := range []string{base + "//x", base + "/", "/*/" + base, "/"} {
		if err := s.Subscribe(ctx, bad); err != nil {
			t.Fatal(err)
		}
		m, err := s.WaitAck(ctx, model.SUBSCRIBE, waitTime)
		if !errors.Is(err, client.ErrBadMessage) {
			t.Fatalf("subscribe %q: expected ErrBadMessage, got %v", bad, err)
		}
		if m.Topic != bad {
			t.Fatalf("SUBSCRIBE reply for %q, expected %q", m.Topic, bad)
		}
	}

	if err := s.Subscribe(ctx, ""); !errors.Is(err, client.ErrEmptyTopic) {
		t.Fatal("expected ErrEmptyTopic, got", err)
	}
	if err := s.Subscribe(ctx, "x"); !errors.Is(err, client.ErrNoRoot) {
		t.Fatal("expected ErrNoRoot, got", err)
	}

	// the same pattern twice still delivers once
	subscribe(t, s, base, base)
	publish(t, p, base, []byte("once"), 0)
	barrier(t, p)
	expectPub(t, s, base, []byte("once"))
	expectNothing(t, s, 10*time.Millisecond)
}

func testUnsubscribe(t *testing.T) {
	t.Parallel()
	base := "/" + uuid.NewString()
	p, s := dial(t, 10), dial(t, 10)

	unsubscribe := func(pattern string, expErr error) {
		t.Helper()
		if err := s.Unsubscribe(context.Background(), pattern); err != nil {
			t.Fatal(err)
		}
		_, err := s.WaitAck(context.Background(), model.UNSUBSCRIBE, waitTime)
		if !errors.Is(err, expErr) {
			t.Fatalf("unsubscribe %q: expected %v, got %v", pattern, expErr, err)
		}
	}

	unsubscribe(base, client.ErrNoEntry)
	subscribe(t, s, base+"/a", base+"/b")
	unsubscribe(base+"/c", client.ErrNoEntry)
	unsubscribe(base+"/a", nil)
	unsubscribe(base+"/a", client.ErrNoEntry)

	publish(t, p, base+"/a", []byte("a"), 0)
	publish(t, p, base+"/b", []byte("b"), 0)
	barrier(t, p)
	expectPub(t, s, base+"/b", []byte("b"))
	expectNothing(t, s, 10*time.Millisecond)

	unsubscribe(base+"/b", nil)
	unsubscribe(base+"/b", client.ErrNoEntry)
}

func testSlowSubscriber(t *testing.T) {
	t.Parallel()
	topic := "/" + uuid.NewString()
	p := dial(t, 10)
	slow := dial(t, 1)
	other := dial(t, 20)
	subscribe(t, slow, topic)
	subscribe(t, other, topic)

	// One message fills the slow channel. Every later one is missed until the
	// broker gives up, drops the oldest message and sends CLOSE.
	const n = 12
	for i := 0; i < n; i++ {
		publish(t, p, topic, []byte{byte(i)}, 0)
	}
	barrier(t, p)

	m, err := slow.Receive(context.Background(), waitTime)
	if err != nil {
		t.Fatal(err)
	}
	if m.Cmd != model.CLOSE {
		t.Fatalf("expected CLOSE, got %q", m.Cmd)
	}
	if !slow.Dropped() {
		t.Fatal("client not marked as dropped")
	}
	expectNothing(t, slow, 10*time.Millisecond)

	for i := 0; i < n; i++ {
		expectPub(t, other, topic, []byte{byte(i)})
	}
}
