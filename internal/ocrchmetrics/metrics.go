// Package ocrchmetrics wires a Prometheus registry and the counters/gauges
// every pipeline component exports. Grounded on
// _examples/luxfi-evm/metrics/prometheus/prometheus.go, which wraps a
// registry in a Gatherer that enumerates metric families in sorted order;
// here the registry is built directly against client_golang rather than
// bridging a separate internal registry type, since this module has no
// pre-existing chain-metrics registry to adapt.
package ocrchmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric this service exports, built once at
// startup and threaded through the components by internal/app.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	EventBusPublished  *prometheus.CounterVec // topic
	EventBusDropped    *prometheus.CounterVec // topic, subscriber
	PoolingPeriod      *prometheus.GaugeVec    // network, token, seconds
	PoolingActiveCount *prometheus.GaugeVec    // network, token
	SyncTicks          *prometheus.CounterVec  // network, token, outcome
	TransfersInserted  *prometheus.CounterVec  // network, token
	MatchesFulfilled   *prometheus.CounterVec  // network, token
	MatchesUnmatched   *prometheus.CounterVec  // network, token
	WebhookAttempts    *prometheus.CounterVec  // kind, outcome
	WebhookDead        *prometheus.CounterVec  // kind
}

// New builds a fresh registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,
		EventBusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "eventbus", Name: "published_total",
			Help: "Events published per topic.",
		}, []string{"topic"}),
		EventBusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "eventbus", Name: "dropped_total",
			Help: "Events dropped (oldest-drop) per topic per subscriber, because the subscriber's bounded queue was full.",
		}, []string{"topic", "subscriber"}),
		PoolingPeriod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ocrch", Subsystem: "pooling", Name: "period_seconds",
			Help: "Current poll period for a (network, token) pair.",
		}, []string{"network", "token"}),
		PoolingActiveCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ocrch", Subsystem: "pooling", Name: "active_deposits",
			Help: "Active PendingDeposit count last observed for a (network, token) pair.",
		}, []string{"network", "token"}),
		SyncTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "chainsync", Name: "ticks_total",
			Help: "BlockchainSync ticks per (network, token) by outcome (ok, coalesced, failed).",
		}, []string{"network", "token", "outcome"}),
		TransfersInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "chainsync", Name: "transfers_inserted_total",
			Help: "New transfer rows persisted per (network, token).",
		}, []string{"network", "token"}),
		MatchesFulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "matcher", Name: "fulfillments_total",
			Help: "Deposits fulfilled per (network, token).",
		}, []string{"network", "token"}),
		MatchesUnmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "matcher", Name: "unmatched_total",
			Help: "Transfers that matched no live deposit per (network, token).",
		}, []string{"network", "token"}),
		WebhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "webhook", Name: "attempts_total",
			Help: "Webhook delivery attempts by kind and outcome (success, failure).",
		}, []string{"kind", "outcome"}),
		WebhookDead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocrch", Subsystem: "webhook", Name: "dead_total",
			Help: "Webhook events that exhausted all retry attempts.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		r.EventBusPublished, r.EventBusDropped,
		r.PoolingPeriod, r.PoolingActiveCount,
		r.SyncTicks, r.TransfersInserted,
		r.MatchesFulfilled, r.MatchesUnmatched,
		r.WebhookAttempts, r.WebhookDead,
	)
	return r
}
