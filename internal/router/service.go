package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dmdmdm-nz/wire-sentinel/internal/metrics"
	"github.com/dmdmdm-nz/wire-sentinel/internal/netmon"
	"github.com/dmdmdm-nz/wire-sentinel/internal/runtime"
)

// OutcomeQueueSize bounds each outcome subscriber's backlog.
const OutcomeQueueSize = 32

var errStreamClosed = errors.New("address change stream closed")

type stream struct {
	ch    <-chan runtime.Delivery[netmon.AddressChange]
	unsub func()
}

// Service consumes relevant address changes one at a time and drives the DNS
// and peer updaters. Neither updater is retried; the next address change is
// the retry.
type Service struct {
	mode    Mode
	dns     DNSUpdater
	peer    PeerUpdater
	checker PropagationChecker

	events     stream
	peerEvents stream

	statusMu sync.Mutex
	status   Status

	subsMu           sync.Mutex
	subs             map[int]*runtime.SubQueue[Outcome]
	nextSubscriberID int
	closed           bool
}

// NewService builds a router. checker may be nil.
func NewService(mode Mode, dns DNSUpdater, peer PeerUpdater, checker PropagationChecker) *Service {
	if mode == "" {
		mode = ModeGated
	}
	return &Service{
		mode:    mode,
		dns:     dns,
		peer:    peer,
		checker: checker,
		status:  Status{Mode: mode},
		subs:    make(map[int]*runtime.SubQueue[Outcome]),
	}
}

func (s *Service) Mode() Mode { return s.mode }

// AttachNetmon sets the stream of address changes. In fan-out mode it drives
// the DNS updater only.
func (s *Service) AttachNetmon(ch <-chan runtime.Delivery[netmon.AddressChange], unsub func()) {
	s.events = stream{ch: ch, unsub: unsub}
}

// AttachPeerStream sets the second, independent subscription used by the peer
// updater in fan-out mode. It is ignored in gated mode.
func (s *Service) AttachPeerStream(ch <-chan runtime.Delivery[netmon.AddressChange], unsub func()) {
	s.peerEvents = stream{ch: ch, unsub: unsub}
}

func (s *Service) Start(ctx context.Context) error {
	log.WithField("mode", s.mode).Info("Starting event router")
	defer log.Info("Stopping event router")

	if s.events.ch == nil {
		return errors.New("AttachNetmon was not called before Start")
	}

	if s.mode != ModeFanout {
		return s.consume(ctx, s.events.ch, s.handleGated)
	}

	if s.peerEvents.ch == nil {
		return errors.New("AttachPeerStream was not called before Start in fanout mode")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.consume(gctx, s.events.ch, s.handleDNSOnly) })
	g.Go(func() error { return s.consume(gctx, s.peerEvents.ch, s.handlePeerOnly) })
	return g.Wait()
}

// consume handles deliveries strictly in order; the next one is not read
// until handle returns.
func (s *Service) consume(
	ctx context.Context,
	ch <-chan runtime.Delivery[netmon.AddressChange],
	handle func(context.Context, netmon.AdditionV6, int),
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			if d.Missed > 0 {
				metrics.EventsMissed.Add(float64(d.Missed))
				s.updateStatus(func(st *Status) { st.Missed += uint64(d.Missed) })
				log.WithField("missed", d.Missed).Warn("Router fell behind; older address changes were dropped")
			}
			change, ok := d.Value.(netmon.AdditionV6)
			if !ok || !netmon.IsRelevant(change) {
				log.WithField("change", d.Value).Debug("Router dropping irrelevant change")
				continue
			}
			s.updateStatus(func(st *Status) { st.Events++ })
			handle(ctx, change, d.Missed)
		}
	}
}

func (s *Service) handleGated(ctx context.Context, change netmon.AdditionV6, missed int) {
	out := s.newOutcome(change, missed)
	logger := log.WithFields(log.Fields{"id": out.ID, "address": out.Address})

	if !s.updateDNS(ctx, logger, &out) {
		logger.Warn("Skipping peer update until the DNS record is updated")
		s.updateStatus(func(st *Status) { st.PeerSkipped++ })
		s.finish(out)
		return
	}

	if s.checker != nil {
		if err := s.checker.WaitFor(ctx, out.Address); err != nil {
			logger.WithError(err).Warn("New address not visible in DNS yet; updating peer anyway")
		} else {
			out.Propagated = true
			logger.Debug("New address visible in DNS")
		}
	}

	s.updatePeer(ctx, logger, &out)
	s.finish(out)
}

func (s *Service) handleDNSOnly(ctx context.Context, change netmon.AdditionV6, missed int) {
	out := s.newOutcome(change, missed)
	logger := log.WithFields(log.Fields{"id": out.ID, "address": out.Address})
	s.updateDNS(ctx, logger, &out)
	s.finish(out)
}

func (s *Service) handlePeerOnly(ctx context.Context, change netmon.AdditionV6, missed int) {
	out := s.newOutcome(change, missed)
	logger := log.WithFields(log.Fields{"id": out.ID, "address": out.Address})
	s.updatePeer(ctx, logger, &out)
	s.finish(out)
}

func (s *Service) newOutcome(change netmon.AdditionV6, missed int) Outcome {
	return Outcome{
		ID:      uuid.NewString(),
		Address: change.Addr,
		Mode:    s.mode,
		Missed:  missed,
	}
}

func (s *Service) updateDNS(ctx context.Context, logger *log.Entry, out *Outcome) bool {
	out.DNSAttempted = true
	if err := s.dns.UpdateRecord(ctx, out.Address); err != nil {
		metrics.DNSUpdates.WithLabelValues(metrics.ResultFailure).Inc()
		s.updateStatus(func(st *Status) { st.DNSFailures++ })
		logger.WithError(err).Error("Failed to update DNS record")
		out.Error = err.Error()
		return false
	}

	now := time.Now()
	metrics.DNSUpdates.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.LastPublished.Set(float64(now.Unix()))
	s.updateStatus(func(st *Status) {
		st.DNSSuccesses++
		st.LastAddress = out.Address
		st.LastPublishedAt = &now
	})
	logger.Info("Updated DNS record")
	out.DNSUpdated = true
	return true
}

func (s *Service) updatePeer(ctx context.Context, logger *log.Entry, out *Outcome) {
	out.PeerAttempted = true
	if err := s.peer.UpdatePeer(ctx); err != nil {
		metrics.PeerUpdates.WithLabelValues(metrics.ResultFailure).Inc()
		s.updateStatus(func(st *Status) { st.PeerFailures++ })
		logger.WithError(err).Error("Failed to update peer endpoint")
		out.Error = err.Error()
		return
	}
	metrics.PeerUpdates.WithLabelValues(metrics.ResultSuccess).Inc()
	s.updateStatus(func(st *Status) { st.PeerSuccesses++ })
	logger.Info("Updated peer endpoint")
	out.PeerUpdated = true
}

func (s *Service) finish(out Outcome) {
	out.At = time.Now()
	s.updateStatus(func(st *Status) {
		o := out
		st.LastOutcome = &o
	})
	log.WithFields(log.Fields{
		"id":           out.ID,
		"dns_updated":  out.DNSUpdated,
		"peer_updated": out.PeerUpdated,
	}).Debug("Address change handled")

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Enqueue(out)
	}
}

func (s *Service) updateStatus(f func(*Status)) {
	s.statusMu.Lock()
	f(&s.status)
	s.statusMu.Unlock()
}

// Status returns a copy of the current counters.
func (s *Service) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	if st.LastPublishedAt != nil {
		t := *st.LastPublishedAt
		st.LastPublishedAt = &t
	}
	if st.LastOutcome != nil {
		o := *st.LastOutcome
		st.LastOutcome = &o
	}
	return st
}

// Subscribe returns a stream of outcomes, one per handled address change
// (two in fan-out mode).
func (s *Service) Subscribe() (<-chan runtime.Delivery[Outcome], func()) {
	sub := runtime.NewSubQueue[Outcome](OutcomeQueueSize)

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

func (s *Service) Close() error {
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	if s.events.unsub != nil {
		s.events.unsub()
	}
	if s.peerEvents.unsub != nil {
		s.peerEvents.unsub()
	}
	return nil
}
