// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

import "github.com/prometheus/client_golang/prometheus"

// Decisions counts recovery decisions by situation and outcome.
var Decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exthost_reload_decisions_total",
		Help: "Total number of host recovery decisions",
	},
	[]string{"situation", "outcome"},
)

// RegisterMetrics registers reload metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Decisions)
}

// RecordDecision increments the decision counter.
func RecordDecision(s Situation, outcome string) {
	Decisions.WithLabelValues(string(s), outcome).Inc()
}
