package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/wire-sentinel/internal/netmon"
	"github.com/dmdmdm-nz/wire-sentinel/internal/runtime"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeDNS struct {
	rec *recorder
	err error
}

func (f *fakeDNS) UpdateRecord(ctx context.Context, address string) error {
	f.rec.add("dns:" + address)
	return f.err
}

type fakePeer struct {
	rec *recorder
	err error
}

func (f *fakePeer) UpdatePeer(ctx context.Context) error {
	f.rec.add("peer")
	return f.err
}

type fakeChecker struct {
	rec *recorder
	err error
}

func (f *fakeChecker) WaitFor(ctx context.Context, address string) error {
	f.rec.add("check:" + address)
	return f.err
}

type eventFeed chan runtime.Delivery[netmon.AddressChange]

func (f eventFeed) send(t *testing.T, change netmon.AddressChange, missed int) {
	t.Helper()
	select {
	case f <- runtime.Delivery[netmon.AddressChange]{Value: change, Missed: missed}:
	case <-time.After(time.Second):
		t.Fatal("router did not accept event")
	}
}

func global6(addr string) netmon.AdditionV6 {
	return netmon.AdditionV6{Address: netmon.Address{Addr: addr, Scope: netmon.ScopeGlobal}}
}

func startRouter(t *testing.T, s *Service) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func nextOutcome(t *testing.T, ch <-chan runtime.Delivery[Outcome]) Outcome {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "outcome stream closed")
		return d.Value
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outcome")
	}
	return Outcome{}
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
	return nil
}

func TestGated_DNSFailureNeverUpdatesPeer(t *testing.T) {
	rec := &recorder{}
	s := NewService(ModeGated, &fakeDNS{rec: rec, err: errors.New("503")}, &fakePeer{rec: rec}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()

	cancel, done := startRouter(t, s)

	addrs := []string{"2001:db8::1", "2001:db8::2", "2001:db8::1", "2001:db8::3", "2001:db8::4"}
	for _, a := range addrs {
		feed.send(t, global6(a), 0)
		out := nextOutcome(t, outcomes)
		assert.Equal(t, a, out.Address)
		assert.True(t, out.DNSAttempted)
		assert.False(t, out.DNSUpdated)
		assert.False(t, out.PeerAttempted)
		assert.Equal(t, "503", out.Error)
	}

	for _, call := range rec.snapshot() {
		assert.NotEqual(t, "peer", call)
	}

	st := s.Status()
	assert.Equal(t, uint64(5), st.Events)
	assert.Equal(t, uint64(5), st.DNSFailures)
	assert.Equal(t, uint64(5), st.PeerSkipped)
	assert.Zero(t, st.PeerSuccesses+st.PeerFailures)
	assert.Empty(t, st.LastAddress)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestGated_PeerOncePerEventAfterDNS(t *testing.T) {
	rec := &recorder{}
	s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()

	_, _ = startRouter(t, s)

	addrs := []string{"2001:db8::1", "2001:db8::2", "2001:db8::2"}
	for _, a := range addrs {
		feed.send(t, global6(a), 0)
		out := nextOutcome(t, outcomes)
		assert.True(t, out.DNSUpdated)
		assert.True(t, out.PeerAttempted)
		assert.True(t, out.PeerUpdated)
		assert.Empty(t, out.Error)
		assert.NotEmpty(t, out.ID)
		assert.False(t, out.At.IsZero())
	}

	assert.Equal(t, []string{
		"dns:2001:db8::1", "peer",
		"dns:2001:db8::2", "peer",
		"dns:2001:db8::2", "peer",
	}, rec.snapshot())

	st := s.Status()
	assert.Equal(t, uint64(3), st.DNSSuccesses)
	assert.Equal(t, uint64(3), st.PeerSuccesses)
	assert.Equal(t, "2001:db8::2", st.LastAddress)
	require.NotNil(t, st.LastPublishedAt)
	require.NotNil(t, st.LastOutcome)
	assert.Equal(t, "2001:db8::2", st.LastOutcome.Address)
}

func TestGated_PeerFailureIsNotFatal(t *testing.T) {
	rec := &recorder{}
	s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec, err: errors.New("exit status 1")}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()

	cancel, done := startRouter(t, s)

	feed.send(t, global6("2001:db8::1"), 0)
	out := nextOutcome(t, outcomes)
	assert.True(t, out.DNSUpdated)
	assert.True(t, out.PeerAttempted)
	assert.False(t, out.PeerUpdated)
	assert.Equal(t, "exit status 1", out.Error)

	feed.send(t, global6("2001:db8::2"), 0)
	out = nextOutcome(t, outcomes)
	assert.Equal(t, "2001:db8::2", out.Address)

	assert.Equal(t, uint64(2), s.Status().PeerFailures)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestGated_DropsIrrelevantChanges(t *testing.T) {
	rec := &recorder{}
	s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()

	_, _ = startRouter(t, s)

	feed.send(t, netmon.DeletionV6{Address: netmon.Address{Addr: "2001:db8::9", Scope: netmon.ScopeGlobal}}, 0)
	feed.send(t, netmon.AdditionV4{Address: netmon.Address{Addr: "192.168.1.2", Scope: netmon.ScopeGlobal}}, 0)
	feed.send(t, netmon.AdditionV6{Address: netmon.Address{Addr: "fe80::1", Scope: netmon.ScopeLink}}, 0)
	feed.send(t, global6("fd00::1"), 0)
	feed.send(t, global6("2001:db8::1"), 0)

	out := nextOutcome(t, outcomes)
	assert.Equal(t, "2001:db8::1", out.Address)
	assert.Equal(t, []string{"dns:2001:db8::1", "peer"}, rec.snapshot())
	assert.Equal(t, uint64(1), s.Status().Events)
}

func TestGated_PropagationCheck(t *testing.T) {
	t.Run("visible", func(t *testing.T) {
		rec := &recorder{}
		s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec}, &fakeChecker{rec: rec})
		feed := make(eventFeed)
		s.AttachNetmon(feed, nil)
		outcomes, unsub := s.Subscribe()
		defer unsub()
		_, _ = startRouter(t, s)

		feed.send(t, global6("2001:db8::1"), 0)
		out := nextOutcome(t, outcomes)
		assert.True(t, out.Propagated)
		assert.True(t, out.PeerUpdated)
		assert.Equal(t, []string{"dns:2001:db8::1", "check:2001:db8::1", "peer"}, rec.snapshot())
	})

	t.Run("timeout still updates peer", func(t *testing.T) {
		rec := &recorder{}
		checker := &fakeChecker{rec: rec, err: errors.New("not propagated")}
		s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec}, checker)
		feed := make(eventFeed)
		s.AttachNetmon(feed, nil)
		outcomes, unsub := s.Subscribe()
		defer unsub()
		_, _ = startRouter(t, s)

		feed.send(t, global6("2001:db8::1"), 0)
		out := nextOutcome(t, outcomes)
		assert.False(t, out.Propagated)
		assert.True(t, out.PeerUpdated)
		assert.Empty(t, out.Error)
	})

	t.Run("not consulted when DNS fails", func(t *testing.T) {
		rec := &recorder{}
		s := NewService(ModeGated, &fakeDNS{rec: rec, err: errors.New("401")}, &fakePeer{rec: rec}, &fakeChecker{rec: rec})
		feed := make(eventFeed)
		s.AttachNetmon(feed, nil)
		outcomes, unsub := s.Subscribe()
		defer unsub()
		_, _ = startRouter(t, s)

		feed.send(t, global6("2001:db8::1"), 0)
		nextOutcome(t, outcomes)
		assert.Equal(t, []string{"dns:2001:db8::1"}, rec.snapshot())
	})
}

func TestGated_MissedEventsAreCounted(t *testing.T) {
	rec := &recorder{}
	s := NewService(ModeGated, &fakeDNS{rec: rec}, &fakePeer{rec: rec}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()
	_, _ = startRouter(t, s)

	feed.send(t, global6("2001:db8::5"), 3)
	out := nextOutcome(t, outcomes)
	assert.Equal(t, 3, out.Missed)
	assert.Equal(t, uint64(3), s.Status().Missed)
}

func TestFanout_UpdatersAreIndependent(t *testing.T) {
	dnsRec := &recorder{}
	peerRec := &recorder{}
	s := NewService(ModeFanout, &fakeDNS{rec: dnsRec, err: errors.New("503")}, &fakePeer{rec: peerRec}, nil)
	dnsFeed := make(eventFeed)
	peerFeed := make(eventFeed)
	s.AttachNetmon(dnsFeed, nil)
	s.AttachPeerStream(peerFeed, nil)
	outcomes, unsub := s.Subscribe()
	defer unsub()

	cancel, done := startRouter(t, s)

	dnsFeed.send(t, global6("2001:db8::1"), 0)
	peerFeed.send(t, global6("2001:db8::1"), 0)

	var dnsOut, peerOut Outcome
	for i := 0; i < 2; i++ {
		out := nextOutcome(t, outcomes)
		assert.Equal(t, ModeFanout, out.Mode)
		if out.DNSAttempted {
			dnsOut = out
		} else {
			peerOut = out
		}
	}

	assert.False(t, dnsOut.DNSUpdated)
	assert.False(t, dnsOut.PeerAttempted)
	assert.True(t, peerOut.PeerAttempted)
	assert.True(t, peerOut.PeerUpdated)
	assert.NotEqual(t, dnsOut.ID, peerOut.ID)

	assert.Equal(t, []string{"dns:2001:db8::1"}, dnsRec.snapshot())
	assert.Equal(t, []string{"peer"}, peerRec.snapshot())

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestFanout_RequiresPeerStream(t *testing.T) {
	s := NewService(ModeFanout, &fakeDNS{rec: &recorder{}}, &fakePeer{rec: &recorder{}}, nil)
	s.AttachNetmon(make(eventFeed), nil)

	err := s.Start(context.Background())
	assert.Error(t, err)
}

func TestStart_WithoutNetmon(t *testing.T) {
	s := NewService(ModeGated, &fakeDNS{rec: &recorder{}}, &fakePeer{rec: &recorder{}}, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_StreamClosedIsAnError(t *testing.T) {
	s := NewService(ModeGated, &fakeDNS{rec: &recorder{}}, &fakePeer{rec: &recorder{}}, nil)
	feed := make(eventFeed)
	s.AttachNetmon(feed, nil)

	_, done := startRouter(t, s)
	close(feed)

	err := waitStopped(t, done)
	assert.ErrorIs(t, err, errStreamClosed)
}

func TestClose(t *testing.T) {
	s := NewService(ModeGated, &fakeDNS{rec: &recorder{}}, &fakePeer{rec: &recorder{}}, nil)
	unsubbed := 0
	s.AttachNetmon(make(eventFeed), func() { unsubbed++ })
	outcomes, _ := s.Subscribe()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, unsubbed)

	select {
	case _, ok := <-outcomes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("outcome stream not closed")
	}

	late, _ := s.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeGated, m)

	m, err = ParseMode("fanout")
	require.NoError(t, err)
	assert.Equal(t, ModeFanout, m)

	_, err = ParseMode("parallel")
	assert.Error(t, err)
}
