// Package websocket relays psmq frames between websocket clients and a broker.
// Each websocket message holds exactly one frame, preceded by its priority
// as a 4 byte little endian integer.
package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	subprotocol = "psmq"
	sendTimeout = time.Second
	prioLen     = 4
)

// session slot states besides a slot id
const (
	slotNone    = -1
	slotPending = -2
)

type Gateway struct {
	tr          transport.Transport
	broker      string
	checkOrigin bool

	// QueueLen is the capacity of the channel created per connection.
	QueueLen int

	srv *http.Server
	ln  net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(tr transport.Transport, broker string, checkOrigin bool) *Gateway {
	g := Gateway{tr: tr, broker: broker, checkOrigin: checkOrigin, QueueLen: 10}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	return &g
}

// Listen starts serving on address in the background.
func (g *Gateway) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	g.ln = ln
	g.srv = &http.Server{Handler: g.Handler()}
	go func() {
		if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Websocket gateway stopped")
		}
	}()
	return nil
}

func (g *Gateway) Addr() net.Addr {
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Close stops the listener and ends every connection.
func (g *Gateway) Close() error {
	g.cancel()
	var err error
	if g.srv != nil {
		err = g.srv.Close()
	}
	g.wg.Wait()
	return err
}

func (g *Gateway) Handler() http.Handler {
	up := websocket.Upgrader{
		Subprotocols: []string{subprotocol},
	}
	if !g.checkOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if protos := websocket.Subprotocols(r); len(protos) == 0 || protos[0] != subprotocol {
			errMsg := "websocket client not supported. sub protocol must be '" + subprotocol + "'"
			http.Error(w, errMsg, http.StatusNotAcceptable)
			return
		}

		g.wg.Add(1)
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			g.wg.Done()
			return // Upgrade replied to the client
		}

		go g.serve(conn)
	})
}

type session struct {
	conn *websocket.Conn
	name string
	own  transport.Channel
	ctrl transport.Channel
	slot atomic.Int32 // slot id, slotNone or slotPending
}

func (g *Gateway) serve(conn *websocket.Conn) {
	defer g.wg.Done()
	defer conn.Close()

	ses := session{conn: conn, name: "/psmqws-" + uuid.NewString()}
	ses.slot.Store(slotNone)
	lf := log.Fields{"remote": conn.RemoteAddr().String(), "channel": ses.name}

	var err error
	if ses.own, err = g.tr.Create(ses.name, g.QueueLen, model.FrameMax); err != nil {
		log.WithError(err).WithFields(lf).Error("Failed to create websocket client channel")
		return
	}
	defer func() {
		ses.own.Close()
		g.tr.Destroy(ses.name)
	}()

	if ses.ctrl, err = g.tr.Open(g.broker); err != nil {
		log.WithError(err).WithFields(lf).Error("Failed to open broker channel")
		return
	}
	defer ses.ctrl.Close()

	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close() // unblocks reader
	}()

	written := make(chan struct{})
	go func() {
		defer close(written)
		defer cancel()
		ses.writer(ctx)
	}()

	log.WithFields(lf).Debug("Websocket client connected")
	ses.reader(ctx)
	cancel()
	<-written

	if ses.slot.Load() == slotPending {
		ses.awaitOpen()
	}
	if slot := ses.slot.Load(); slot >= 0 {
		f := model.Frame{Cmd: model.CLOSE, Ctrl: byte(slot)}
		if b, err := f.Append(nil, model.Request); err == nil {
			if err = ses.ctrl.Send(context.Background(), b, 0, sendTimeout); err != nil {
				log.WithError(err).WithFields(lf).Warn("Failed to close websocket client on broker")
			}
		}
	}
	log.WithFields(lf).Debug("Websocket client disconnected")
}

// awaitOpen reads the session channel until the reply to an OPEN that was
// still in flight when the connection ended.
func (s *session) awaitOpen() {
	buf := make([]byte, model.FrameMax)
	deadline := time.Now().Add(sendTimeout)
	for {
		n, _, err := s.own.Receive(context.Background(), buf, max(time.Until(deadline), 0))
		if err != nil {
			log.WithError(err).WithField("channel", s.name).Warn("No OPEN reply for closed websocket client")
			return
		}
		if f, err := model.Decode(buf[:n], model.Reply); err == nil && f.Cmd == model.OPEN {
			s.opened(&f)
			return
		}
	}
}

func (s *session) opened(f *model.Frame) {
	if f.Ctrl == model.StatusOK && len(f.Payload) == 1 {
		s.slot.Store(int32(f.Payload[0]))
	} else {
		s.slot.Store(slotNone)
	}
}

// reader forwards frames from the websocket to the broker. A session holds
// at most one slot: OPEN is only forwarded while it has none and is pointed
// at the session channel. Other requests are stamped with the session slot.
func (s *session) reader(ctx context.Context) {
	for {
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			log.WithField("channel", s.name).Debug("Not a binary websocket message")
			return
		}
		if len(msg) < prioLen {
			log.WithField("channel", s.name).Debug("Dropping websocket message without priority")
			continue
		}
		prio := binary.LittleEndian.Uint32(msg)

		f, err := model.Decode(msg[prioLen:], model.Request)
		if err != nil {
			log.WithError(err).WithField("channel", s.name).Debug("Dropping malformed websocket frame")
			continue
		}

		slot := s.slot.Load()
		switch {
		case f.Cmd == model.OPEN:
			if !s.slot.CompareAndSwap(slotNone, slotPending) {
				log.WithField("channel", s.name).Debug("Dropping OPEN, websocket client already open")
				continue
			}
			f.Topic = s.name
		case slot < 0:
			continue // not open yet
		case f.Cmd == model.CLOSE:
			// no second CLOSE on disconnect, the slot may be reused by then
			s.slot.CompareAndSwap(slot, slotNone)
			f.Ctrl = byte(slot)
		default:
			f.Ctrl = byte(slot)
		}

		b, err := f.Append(nil, model.Request)
		if err != nil {
			continue
		}
		if err = s.ctrl.Send(ctx, b, prio, sendTimeout); err != nil {
			log.WithError(err).WithField("channel", s.name).Warn("Failed to forward websocket frame")
			switch f.Cmd {
			case model.OPEN:
				s.slot.CompareAndSwap(slotPending, slotNone)
			case model.CLOSE:
				s.slot.CompareAndSwap(slotNone, slot) // still held, closed on disconnect
			}
			if errors.Is(err, transport.ErrInterrupted) {
				return
			}
		}
	}
}

// writer forwards every frame queued on the session channel to the websocket.
func (s *session) writer(ctx context.Context) {
	buf := make([]byte, prioLen+model.FrameMax)
	for {
		n, prio, err := s.own.Receive(ctx, buf[prioLen:], transport.Forever)
		if err != nil {
			return
		}
		binary.LittleEndian.PutUint32(buf, prio)

		if f, err := model.Decode(buf[prioLen:prioLen+n], model.Reply); err == nil {
			switch f.Cmd {
			case model.OPEN:
				if s.slot.Load() == slotPending {
					s.opened(&f)
				}
			case model.CLOSE:
				if slot := s.slot.Load(); slot >= 0 {
					s.slot.CompareAndSwap(slot, slotNone)
				}
			}
		}

		if err = s.conn.WriteMessage(websocket.BinaryMessage, buf[:prioLen+n]); err != nil {
			return
		}
	}
}
