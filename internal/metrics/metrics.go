// Package metrics holds the Prometheus collectors for discovery runs and
// queue rebuilds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discovery outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeProvider    = "provider_unavailable"
	OutcomePersist     = "persist_failed"
	OutcomeUnderfilled = "underfilled"
)

// Rebuild outcomes.
const (
	OutcomePublished  = "published"
	OutcomeSuperseded = "superseded"
	OutcomeFailed     = "failed"
)

var (
	DiscoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedrun",
			Name:      "discovery_runs_total",
			Help:      "Buyer-group discovery runs by outcome.",
		},
		[]string{"outcome"},
	)

	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "speedrun",
			Name:      "discovery_duration_seconds",
			Help:      "Wall time of one company's discovery run.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ProfilesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedrun",
			Name:      "profiles_skipped_total",
			Help:      "Raw profiles rejected by the normalizer, by reason.",
		},
		[]string{"reason"},
	)

	UnderfilledRoles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedrun",
			Name:      "underfilled_roles_total",
			Help:      "Buyer-group roles left below their minimum, by role.",
		},
		[]string{"role"},
	)

	RebuildRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedrun",
			Name:      "queue_rebuilds_total",
			Help:      "Queue rebuilds by outcome.",
		},
		[]string{"outcome"},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "speedrun",
			Name:      "queue_rebuild_duration_seconds",
			Help:      "Wall time of one workspace queue rebuild.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	QueueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "speedrun",
			Name:      "queue_entries",
			Help:      "Entries in the last published queue, by workspace.",
		},
		[]string{"workspace"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "speedrun",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
		[]string{"service"},
	)
)
