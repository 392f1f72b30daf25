package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_http_requests_total",
	Help: "Total HTTP requests served, by method, path, and status.",
}, []string{"method", "path", "status"})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "txflow_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

var rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_http_rate_limited_total",
	Help: "Requests rejected by the rate limiter, by scope.",
}, []string{"scope"})

var cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_query_cache_events_total",
	Help: "Query cache outcomes: hit, miss, or not_modified.",
}, []string{"outcome"})

var authDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_auth_decisions_total",
	Help: "Wallet authentication gate outcomes.",
}, []string{"outcome"})

func recordRequest(method, path string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
