package tests_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/RoanBrand/psmq/client"
	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport"
)

const waitTime = time.Second

func dial(t testing.TB, maxMsg int) *client.Client {
	t.Helper()
	c, err := client.New(context.Background(), tr, brokerName, client.Options{MaxMsg: maxMsg, OpenTimeout: waitTime})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

func subscribe(t testing.TB, c *client.Client, patterns ...string) {
	t.Helper()
	for _, p := range patterns {
		if err := c.Subscribe(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		m, err := c.WaitAck(context.Background(), model.SUBSCRIBE, waitTime)
		if err != nil {
			t.Fatal("subscribe", p, err)
		}
		if m.Topic != p {
			t.Fatalf("SUBSCRIBE reply for %q, expected %q", m.Topic, p)
		}
	}
}

func publish(t testing.TB, c *client.Client, topic string, payload []byte, prio uint32) {
	t.Helper()
	if err := c.Publish(context.Background(), topic, payload, prio); err != nil {
		t.Fatal(err)
	}
}

func expectPub(t testing.TB, c *client.Client, topic string, payload []byte) *client.Message {
	t.Helper()
	m, err := c.Receive(context.Background(), waitTime)
	if err != nil {
		t.Fatal("expected publish on", topic, err)
	}
	if err = checkPub(m, topic, payload); err != nil {
		t.Fatal(err)
	}
	return m
}

func checkPub(m *client.Message, topic string, payload []byte) error {
	if m.Cmd != model.PUBLISH {
		return fmt.Errorf("got command %q, expected PUBLISH", m.Cmd)
	}
	if m.Topic != topic {
		return fmt.Errorf("got topic %q, expected %q", m.Topic, topic)
	}
	if !bytes.Equal(m.Payload, payload) {
		return fmt.Errorf("got payload %q, expected %q", m.Payload, payload)
	}
	return nil
}

func expectNothing(t testing.TB, c *client.Client, wait time.Duration) {
	t.Helper()
	m, err := c.Receive(context.Background(), wait)
	if err == nil {
		t.Fatalf("unexpected %q frame on %q", m.Cmd, m.Topic)
	}
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatal(err)
	}
}

// barrier waits until the broker handled everything c sent before.
func barrier(t testing.TB, c *client.Client) {
	t.Helper()
	if err := c.SetReplyTimeout(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if _, err := c.WaitAck(context.Background(), model.IOCTL, waitTime); err != nil {
		t.Fatal(err)
	}
}
