package netmon

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/dmdmdm-nz/wire-sentinel/internal/metrics"
	"github.com/dmdmdm-nz/wire-sentinel/internal/runtime"
	log "github.com/sirupsen/logrus"
)

// DefaultQueueSize bounds each subscriber's backlog. Only the newest address
// matters, so overflow drops the oldest pending change.
const DefaultQueueSize = 16

// Service reads the monitor source, parses and filters each line, and fans
// relevant changes out to subscribers in source order.
type Service struct {
	source    Source
	queueSize int

	subsMu           sync.Mutex
	subs             map[int]*runtime.SubQueue[AddressChange]
	nextSubscriberID int
	closed           bool
}

func NewService(source Source, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Service{
		source:    source,
		queueSize: queueSize,
		subs:      make(map[int]*runtime.SubQueue[AddressChange]),
	}
}

// Subscribe returns a stream of relevant address changes. A subscriber that
// falls more than the queue size behind loses the oldest changes; the next
// delivery reports how many.
func (s *Service) Subscribe() (<-chan runtime.Delivery[AddressChange], func()) {
	sub := runtime.NewSubQueue[AddressChange](s.queueSize)

	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		sub.Close()
		return sub.Chan(), func() {}
	}
	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subs[id] = sub
	s.subsMu.Unlock()

	sub.SetPaused(false)

	unsub := func() {
		s.subsMu.Lock()
		if q, ok := s.subs[id]; ok {
			delete(s.subs, id)
			q.Close()
		}
		s.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

// Start runs the source until ctx is cancelled. If the source ends or fails
// first, Start returns a *SourceError.
func (s *Service) Start(ctx context.Context) error {
	log.WithField("source", s.source.Name()).Info("Starting address monitoring service")
	defer log.Info("Stopping address monitoring service")

	err := s.source.Start(ctx, s.handleLine)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	return &SourceError{Source: s.source.Name(), Err: err}
}

func (s *Service) Close() error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	return nil
}

func (s *Service) handleLine(line string) {
	metrics.MonitorLines.Inc()
	log.WithField("line", line).Trace("Monitor line")

	change, err := ParseLine(line)
	if err != nil {
		metrics.ParseErrors.Inc()
		var perr *ParseError
		if errors.As(err, &perr) {
			log.WithField("reason", perr.Reason).WithField("line", perr.Line).Warn("Skipping unparseable monitor line")
		} else {
			log.WithError(err).Warn("Skipping unparseable monitor line")
		}
		return
	}
	if change == nil {
		return
	}

	relevant := IsRelevant(change)
	metrics.AddressChanges.WithLabelValues(string(change.Type()), strconv.FormatBool(relevant)).Inc()

	fields := log.Fields{
		"type":    change.Type(),
		"address": change.Target().Addr,
		"scope":   change.Target().Scope,
	}
	if !relevant {
		log.WithFields(fields).Debug("Ignoring address change")
		return
	}

	log.WithFields(fields).Info("Detected new global IPv6 address")
	s.broadcast(change)
}

func (s *Service) broadcast(change AddressChange) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Enqueue(change)
	}
}
