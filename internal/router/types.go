package router

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how a relevant address change reaches the two updaters.
type Mode string

const (
	// ModeGated runs the peer update only after the DNS update for the same
	// event succeeded.
	ModeGated Mode = "gated"
	// ModeFanout drives the two updaters from independent subscriptions with
	// no ordering between them. The peer may briefly be pointed at a stale
	// record.
	ModeFanout Mode = "fanout"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeGated:
		return ModeGated, nil
	case ModeFanout:
		return ModeFanout, nil
	default:
		return "", fmt.Errorf("unknown router mode %q", s)
	}
}

type DNSUpdater interface {
	UpdateRecord(ctx context.Context, address string) error
}

// PeerUpdater re-points the VPN peer. It resolves the peer hostname itself
// and is never handed the observed address.
type PeerUpdater interface {
	UpdatePeer(ctx context.Context) error
}

// PropagationChecker waits until address is visible through DNS.
type PropagationChecker interface {
	WaitFor(ctx context.Context, address string) error
}

// Outcome records what the router did with one relevant address change.
type Outcome struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	Mode          Mode      `json:"mode"`
	DNSAttempted  bool      `json:"dns_attempted"`
	DNSUpdated    bool      `json:"dns_updated"`
	Propagated    bool      `json:"propagated,omitempty"`
	PeerAttempted bool      `json:"peer_attempted"`
	PeerUpdated   bool      `json:"peer_updated"`
	Missed        int       `json:"missed,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Status is a point-in-time snapshot of router counters.
type Status struct {
	Mode            Mode       `json:"mode"`
	LastAddress     string     `json:"last_address,omitempty"`
	LastPublishedAt *time.Time `json:"last_published_at,omitempty"`
	Events          uint64     `json:"events"`
	Missed          uint64     `json:"missed"`
	DNSSuccesses    uint64     `json:"dns_successes"`
	DNSFailures     uint64     `json:"dns_failures"`
	PeerSuccesses   uint64     `json:"peer_successes"`
	PeerFailures    uint64     `json:"peer_failures"`
	PeerSkipped     uint64     `json:"peer_skipped"`
	LastOutcome     *Outcome   `json:"last_outcome,omitempty"`
}
