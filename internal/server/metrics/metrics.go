// Package metrics exposes the prometheus counters recorded by the storage
// layer. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DedupDecisions counts deduplicator outcomes by action.
	DedupDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudstore_dedup_decisions_total",
		Help: "Deduplication decisions by action (create_new, merge_by_content, replace_content)",
	}, []string{"action"})

	// AccessTotal counts access broker requests by route and outcome.
	AccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudstore_access_total",
		Help: "Presigned URL requests by route (retrieve, share, sharing_link) and outcome",
	}, []string{"route", "outcome"})

	// BackendOps counts backend calls by operation and result.
	BackendOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudstore_backend_ops_total",
		Help: "Backend operations by op (put, get, delete) and result (ok, retry, error)",
	}, []string{"op", "result"})

	PermissionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloudstore_permission_cache_hits_total",
		Help: "Host permission answers served from the LRU cache",
	})
	PermissionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloudstore_permission_cache_misses_total",
		Help: "Host permission answers fetched from the host",
	})

	// HTTPRequests counts HTTP requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudstore_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudstore_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Outcome labels shared by callers.
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeForbidden = "forbidden"
	OutcomeError     = "error"
	OutcomeRetry     = "retry"
)
