package tests_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/RoanBrand/psmq/client"
	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport/memq"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func wsSend(t *testing.T, c *websocket.Conn, f model.Frame, prio uint32) {
	t.Helper()
	b, err := f.Append(binary.LittleEndian.AppendUint32(nil, prio), model.Request)
	if err != nil {
		t.Fatal(err)
	}
	if err = c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		t.Fatal(err)
	}
}

func wsRead(t *testing.T, c *websocket.Conn) (model.Frame, uint32) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(waitTime))
	mt, b, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatal("expected binary message, got type", mt)
	}
	if len(b) < 4 {
		t.Fatal("websocket message without priority")
	}
	f, err := model.Decode(b[4:], model.Reply)
	if err != nil {
		t.Fatal(err)
	}
	return f, binary.LittleEndian.Uint32(b)
}

func testWebsocket(t *testing.T) {
	t.Parallel()
	topic := "/" + uuid.NewString()

	d := websocket.Dialer{Subprotocols: []string{"psmq"}, HandshakeTimeout: waitTime}
	conn, _, err := d.Dial("ws://"+server.WSAddr().String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	wsSend(t, conn, model.Frame{Cmd: model.OPEN, Topic: "/browser"}, 0)
	f, _ := wsRead(t, conn)
	if f.Cmd != model.OPEN || f.Ctrl != model.StatusOK || len(f.Payload) != 1 {
		t.Fatalf("unexpected OPEN reply %+v", f)
	}
	slot := f.Payload[0]

	// a second OPEN on the same connection is not forwarded
	wsSend(t, conn, model.Frame{Cmd: model.OPEN, Topic: "/browser"}, 0)

	wsSend(t, conn, model.Frame{Cmd: model.SUBSCRIBE, Ctrl: slot, Topic: topic + "/in"}, 0)
	if f, _ = wsRead(t, conn); f.Cmd != model.SUBSCRIBE || f.Ctrl != model.StatusOK {
		t.Fatalf("unexpected SUBSCRIBE reply %+v", f)
	}

	c := dial(t, 10)
	subscribe(t, c, topic+"/out")

	publish(t, c, topic+"/in", []byte("to browser"), 6)
	f, prio := wsRead(t, conn)
	if f.Cmd != model.PUBLISH || f.Topic != topic+"/in" || string(f.Payload) != "to browser" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if prio != 6 {
		t.Fatal("got priority", prio, "expected 6")
	}

	wsSend(t, conn, model.Frame{Cmd: model.PUBLISH, Ctrl: slot, Topic: topic + "/out", Payload: []byte("from browser")}, 11)
	if m := expectPub(t, c, topic+"/out", []byte("from browser")); m.Prio != 11 {
		t.Fatal("got priority", m.Prio, "expected 11")
	}

	wsSend(t, conn, model.Frame{Cmd: model.CLOSE, Ctrl: slot}, 0)
	if f, _ = wsRead(t, conn); f.Cmd != model.CLOSE {
		t.Fatalf("expected CLOSE, got %+v", f)
	}
}

func TestWebsocketSlotReleased(t *testing.T) {
	tr := memq.New()
	name := "/psmqd-" + uuid.NewString()
	s := newServer(t, tr, name, 2)
	s.WS.Address = "127.0.0.1:0"
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	defer s.Shutdown()

	d := websocket.Dialer{Subprotocols: []string{"psmq"}, HandshakeTimeout: waitTime}
	conn, _, err := d.Dial("ws://"+s.WSAddr().String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		wsSend(t, conn, model.Frame{Cmd: model.OPEN, Topic: "/browser"}, 0)
	}
	if f, _ := wsRead(t, conn); f.Cmd != model.OPEN || f.Ctrl != model.StatusOK {
		t.Fatalf("unexpected OPEN reply %+v", f)
	}
	conn.Close()

	// both slots must become free once the gateway closed its one slot
	opts := client.Options{OpenTimeout: waitTime}
	deadline := time.Now().Add(waitTime)
	for _, n := range []int{1, 2} {
		for {
			c, err := client.New(context.Background(), tr, name, opts)
			if err == nil {
				defer c.Close()
				break
			}
			if !errors.Is(err, client.ErrNoSpace) || time.Now().After(deadline) {
				t.Fatalf("client %d: %v", n, err)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}
