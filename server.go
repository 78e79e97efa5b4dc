package psmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/psmq/internal/config"
	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/internal/store"
	"github.com/RoanBrand/psmq/internal/websocket"
	"github.com/RoanBrand/psmq/transport"
	"github.com/RoanBrand/psmq/transport/mqueue"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Server routes frames between the clients of one control channel.
// All client state is owned by the goroutine running Serve.
type Server struct {
	config.Config

	// Transport carries the control channel and the client channels.
	// POSIX message queues are used if nil.
	Transport transport.Transport

	ctrl    transport.Channel
	clients registry

	rx, tx, pub, scratch []byte

	stats     *store.Stats
	counts    map[string]uint64
	lastFlush time.Time

	gw           *websocket.Gateway
	malformedLog *rate.Sometimes

	ctxOnce  sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool
}

// Run sets the server up and serves until Shutdown is called or the control channel fails.
func (s *Server) Run() error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) initContext() {
	s.ctxOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	})
}

// Init validates the config, allocates the client slots and creates the control channel.
func (s *Server) Init() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := s.setupLogging(); err != nil {
		return err
	}

	s.initContext()
	if s.Transport == nil {
		s.Transport = mqueue.New()
	}

	s.clients = make(registry, s.Broker.MaxClients)
	s.rx = make([]byte, model.FrameMax)
	s.tx = make([]byte, 0, model.FrameMax)
	s.pub = make([]byte, 0, model.FrameMax)
	s.scratch = make([]byte, model.FrameMax)
	s.counts = make(map[string]uint64, 16)
	s.malformedLog = &rate.Sometimes{First: 10, Interval: 10 * time.Second}

	if s.Broker.RemoveQueue {
		if err := s.Transport.Destroy(s.Broker.Name); err != nil && !errors.Is(err, transport.ErrNotExist) {
			log.WithError(err).WithField("name", s.Broker.Name).Warn("Failed to remove old control channel")
		}
	}

	ctrl, err := s.Transport.Create(s.Broker.Name, s.Broker.MaxMsg, model.FrameMax)
	if err != nil {
		return fmt.Errorf("create control channel %s: %w", s.Broker.Name, err)
	}
	s.ctrl = ctrl

	if s.Stats.Dir != "" {
		if s.stats, err = store.OpenStats(s.Stats.Dir, false); err != nil {
			s.destroyControl()
			return fmt.Errorf("open stats: %w", err)
		}
		s.lastFlush = time.Now()
	}

	if s.WS.Address != "" {
		s.gw = websocket.New(s.Transport, s.Broker.Name, s.WS.CheckOrigin)
		if err = s.gw.Listen(s.WS.Address); err != nil {
			s.gw = nil
			s.destroyControl()
			if s.stats != nil {
				s.stats.Close()
			}
			return err
		}
	}

	lf := log.Fields{
		"name":        s.Broker.Name,
		"max_clients": s.Broker.MaxClients,
		"max_msg":     s.Broker.MaxMsg,
	}
	if s.gw != nil {
		lf["ws_address"] = s.gw.Addr().String()
	}
	log.WithFields(lf).Info("Starting psmq broker")
	return nil
}

// Serve runs the dispatch loop. Cleanup always runs before it returns.
func (s *Server) Serve() error {
	defer s.cleanup()

	poll := time.Duration(s.Broker.PollMS) * time.Millisecond
	for !s.shutdown.Load() {
		n, prio, err := s.ctrl.Receive(s.ctx, s.rx, poll)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) || errors.Is(err, transport.ErrInterrupted) {
				s.flushStatsIfDue()
				continue
			}

			log.WithError(err).Error("Receive on control channel failed")
			return err
		}

		s.dispatch(s.rx[:n], prio)
		s.flushStatsIfDue()
	}

	log.Info("Shutting down psmq broker")
	return nil
}

// Shutdown makes Serve return. A wait on the control channel is interrupted immediately.
func (s *Server) Shutdown() {
	s.initContext()
	s.shutdown.Store(true)
	s.cancel()
}

// WSAddr returns the address of the websocket gateway, or nil if it is not running.
func (s *Server) WSAddr() net.Addr {
	if s.gw == nil {
		return nil
	}
	return s.gw.Addr()
}

func (s *Server) cleanup() {
	if s.gw != nil {
		s.gw.Close()
	}

	for i := range s.clients {
		if s.clients[i].used() {
			s.closeClient(uint8(i))
		}
	}

	s.destroyControl()

	if s.stats != nil {
		s.flushStats()
		if err := s.stats.Close(); err != nil {
			log.WithError(err).Error("Failed to close stats")
		}
	}
}

func (s *Server) destroyControl() {
	if err := s.ctrl.Close(); err != nil {
		log.WithError(err).Warn("Failed to close control channel")
	}
	if err := s.Transport.Destroy(s.Broker.Name); err != nil {
		log.WithError(err).Warn("Failed to remove control channel")
	}
}

func (s *Server) setupLogging() error {
	if s.Log.File != "" {
		f, err := os.OpenFile(s.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if s.Log.Level != "" {
		l, err := log.ParseLevel(s.Log.Level)
		if err != nil {
			return errors.New("unknown log level: " + s.Log.Level)
		}
		log.SetLevel(l)
	}
	if s.Log.Colors {
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	}

	return nil
}
