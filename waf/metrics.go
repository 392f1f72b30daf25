package waf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_waf_requests_total",
	Help: "Total scored requests, by verdict and enforcement mode.",
}, []string{"action", "mode"})
