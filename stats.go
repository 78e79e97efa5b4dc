package psmq

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Counter names in the stats store.
const (
	statOpen        = "open"
	statOpenNoSpace = "open_nospc"
	statClose       = "close"
	statEvict       = "evict"
	statPublish     = "publish"
	statDeliver     = "deliver"
	statMiss        = "miss"
	statMalformed   = "malformed"

	statTopicPrefix = "topic/"
)

func (s *Server) count(name string) {
	if s.stats != nil {
		s.counts[name]++
	}
}

func (s *Server) countTopic(t string) {
	if s.stats != nil {
		s.counts[statTopicPrefix+t]++
	}
}

func (s *Server) flushStatsIfDue() {
	if s.stats != nil && time.Since(s.lastFlush) >= time.Duration(s.Stats.FlushIntervalS)*time.Second {
		s.flushStats()
	}
}

func (s *Server) flushStats() {
	s.lastFlush = time.Now()
	if len(s.counts) == 0 {
		return
	}

	// Add drops what it stored, the rest is retried on the next flush
	if err := s.stats.Add(s.counts); err != nil {
		log.WithError(err).WithField("pending", len(s.counts)).Error("Failed to store stats")
	}
}
