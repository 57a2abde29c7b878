package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promProjections = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "dashboard_projections_total",
	})
	promFieldErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "dashboard_field_errors_total",
		Help:      "Snapshot fields left at zero because their read failed.",
	}, []string{"field"})
	promClockSkew = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "accrual_clock_skew_total",
		Help:      "Reward computations where now preceded the position's last claim.",
	}, []string{"field"})
	promProjectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "stakedash",
		Name:      "dashboard_projection_seconds",
		Buckets:   prometheus.DefBuckets,
	})
)
