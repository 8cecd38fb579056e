// Package metrics exposes Prometheus instrumentation for the fetch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "birdgate_upstream_requests_total",
		Help: "Upstream API requests by endpoint class and outcome",
	}, []string{"class", "outcome"})

	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "birdgate_upstream_retries_total",
		Help: "Upstream request retry attempts by endpoint class",
	}, []string{"class"})

	SessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "birdgate_sessions",
		Help: "Sessions in the pool by status",
	}, []string{"status"})

	AcquireWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "birdgate_session_acquire_wait_seconds",
		Help:    "Time spent waiting for a session with quota",
		Buckets: prometheus.DefBuckets,
	})

	AcquireFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "birdgate_session_acquire_failures_total",
		Help: "Acquire calls that found no usable session",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "birdgate_cache_lookups_total",
		Help: "Response cache lookups by result (hit, miss, negative, shared)",
	}, []string{"result"})
)
