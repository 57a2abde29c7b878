package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "scan_chunks_total",
		Help:      "Log range chunks by outcome (ok, failed, cancelled).",
	}, []string{"outcome"})
	promGaps = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "scan_gaps_total",
		Help:      "Block ranges skipped because their log query failed.",
	})
	promLogs = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "scan_logs_total",
	})
	promScanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "stakedash",
		Name:      "scan_duration_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
