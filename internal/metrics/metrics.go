// Package metrics holds the Prometheus collectors for the address-change
// pipeline. They register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wire_sentinel"

var MonitorLines = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "monitor",
	Name:      "lines_total",
	Help:      "Lines read from the monitor source.",
})

var ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "monitor",
	Name:      "parse_errors_total",
	Help:      "Monitor lines skipped because they could not be parsed.",
})

var AddressChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "monitor",
	Name:      "address_changes_total",
	Help:      "Parsed address changes by type and relevance.",
}, []string{"type", "relevant"})

var EventsMissed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "router",
	Name:      "events_missed_total",
	Help:      "Address changes dropped because the router fell behind.",
})

var DNSUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "router",
	Name:      "dns_updates_total",
	Help:      "DNS record updates by result.",
}, []string{"result"})

var PeerUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "router",
	Name:      "peer_updates_total",
	Help:      "VPN peer endpoint updates by result.",
}, []string{"result"})

var DNSUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "livedns",
	Name:      "update_duration_seconds",
	Help:      "Latency of LiveDNS record updates.",
	Buckets:   prometheus.DefBuckets,
})

var LastPublished = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "router",
	Name:      "last_dns_update_timestamp_seconds",
	Help:      "Unix time of the last successful DNS record update.",
})

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
