// Package metrics provides Prometheus metrics for the association engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fern"

var (
	// QueriesTotal tracks association queries by status
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "queries_total",
			Help:      "Total number of association queries by status",
		},
		[]string{"entity_type", "status"},
	)

	// QueryDuration tracks association query duration in seconds
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of association queries in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"entity_type"},
	)

	// UnresolvedEntities tracks referenced entities missing during result assembly
	UnresolvedEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "unresolved_entities_total",
			Help:      "Total number of referenced entities that could not be resolved",
		},
		[]string{"entity_type"},
	)

	// CacheRequests tracks cache lookups by backend and result
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total number of cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)

	// MutationsTotal tracks association writes
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "mutations_total",
			Help:      "Total number of association mutations by operation and origin",
		},
		[]string{"operation", "origin", "status"},
	)

	// SideEffectFailures tracks advisory writes that failed after a successful mutation
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "side_effect_failures_total",
			Help:      "Total number of failed advisory side effects",
		},
		[]string{"effect"},
	)

	// BackfillDeals tracks deals processed by the backfill job
	BackfillDeals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "deals_total",
			Help:      "Total number of deals processed by the backfill job",
		},
		[]string{"result"},
	)

	// EventsPublished tracks association events published
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of association events published",
		},
		[]string{"event_type", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordQuery records a query metric
func RecordQuery(entityType string, err error, durationSeconds float64) {
	QueriesTotal.WithLabelValues(entityType, status(err)).Inc()
	QueryDuration.WithLabelValues(entityType).Observe(durationSeconds)
}

// RecordUnresolvedEntities records missing entities of one kind
func RecordUnresolvedEntities(entityType string, count int) {
	UnresolvedEntities.WithLabelValues(entityType).Add(float64(count))
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(backend, result).Inc()
}

// RecordMutation records an association write
func RecordMutation(operation, origin string, err error) {
	MutationsTotal.WithLabelValues(operation, origin, status(err)).Inc()
}

// RecordSideEffectFailure records a failed advisory side effect
func RecordSideEffectFailure(effect string) {
	SideEffectFailures.WithLabelValues(effect).Inc()
}

// RecordBackfillDeal records the outcome of one deal in the backfill job
func RecordBackfillDeal(result string) {
	BackfillDeals.WithLabelValues(result).Inc()
}

// RecordEventPublished records an association event publish
func RecordEventPublished(eventType string, err error) {
	EventsPublished.WithLabelValues(eventType, status(err)).Inc()
}
