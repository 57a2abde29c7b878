package referral

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTeamLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "team_lookups_total",
		Help:      "Team lookups by backing and outcome (ok, error, unavailable).",
	}, []string{"backing", "outcome"})
	promViolations = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "referral_violations_total",
		Help:      "Referral edges excluded for contradicting an earlier placement.",
	})
	promGraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakedash",
		Name:      "referral_graph_edges",
	})
	promGraphGaps = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakedash",
		Name:      "referral_graph_gap_ranges",
		Help:      "Block ranges missing from the cached referral graph, retried on next refresh.",
	})
	promGraphHead = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakedash",
		Name:      "referral_graph_head_block",
	})
	promUndecodable = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "referral_undecodable_logs_total",
	})
)
