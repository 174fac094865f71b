// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package contribution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PhaseDuration observes how long each contribution phase takes.
var PhaseDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "exthost_contribution_phase_duration_seconds",
		Help:    "Contribution phase duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"phase"},
)

// Failures counts failed extension contributions.
var Failures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exthost_contribution_failures_total",
		Help: "Total number of failed extension contributions",
	},
	[]string{"phase"},
)

// RegisterMetrics registers contribution metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PhaseDuration)
	reg.MustRegister(Failures)
}

// RecordPhaseDuration observes one phase run.
func RecordPhaseDuration(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordFailure counts one failed contribution.
func RecordFailure(phase string) {
	Failures.WithLabelValues(phase).Inc()
}
