package byta

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promViewCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "contract_calls_total",
		Help:      "Contract view calls by method and outcome (ok, error, unsupported).",
	}, []string{"method", "outcome"})
	promUndecodableLogs = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakedash",
		Name:      "undecodable_logs_total",
	}, []string{"event"})
)
