package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "http_requests_total",
		Help:      "HTTP API requests by route, method and status.",
	}, []string{"route", "method", "status"})
	promDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "stakedash",
		Name:      "http_request_duration_seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)
