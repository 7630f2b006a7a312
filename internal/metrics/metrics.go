// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector of this package. It is served by the
// dashboard's /metrics endpoint.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// QueriesTotal tracks GraphQL round trips by outcome
	QueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "gitlab",
			Name:      "queries_total",
			Help:      "Total number of GraphQL round trips by query and outcome",
		},
		[]string{"query", "outcome"},
	)

	// QueryRetries tracks immediate retries after transient failures
	QueryRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "gitlab",
			Name:      "query_retries_total",
			Help:      "Total number of immediate retries after transient failures",
		},
		[]string{"query"},
	)

	// QueryDuration tracks GraphQL round trip duration
	QueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "gitlab",
			Name:      "query_duration_seconds",
			Help:      "Duration of GraphQL round trips in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"query"},
	)

	// PagesFetched tracks pages walked by the paginator
	PagesFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "paginator",
			Name:      "pages_total",
			Help:      "Total number of result pages fetched",
		},
		[]string{"query"},
	)

	// RecordsUpserted tracks records written by the syncer
	RecordsUpserted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "sync",
			Name:      "records_upserted_total",
			Help:      "Total number of records written to the local store",
		},
		[]string{"resource"},
	)

	// SyncRuns tracks sync invocations by final state
	SyncRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync invocations by resource and final state",
		},
		[]string{"resource", "state"},
	)

	// SyncDuration tracks sync invocation duration
	SyncDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gitlab_to_sqlite",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync invocations in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"resource"},
	)
)
