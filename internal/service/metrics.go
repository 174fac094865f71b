// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Restart outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// BootDuration observes how long Activate takes to publish readiness.
	BootDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exthost_boot_duration_seconds",
			Help:    "Time from Activate to API ready",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Restarts counts extension host restarts by outcome.
	Restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exthost_restarts_total",
			Help: "Total number of extension host restarts by outcome",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers service metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(BootDuration, Restarts)
}

// RecordBoot observes a completed boot.
func RecordBoot(d time.Duration) {
	BootDuration.Observe(d.Seconds())
}

// RecordRestart counts a restart.
func RecordRestart(outcome string) {
	Restarts.WithLabelValues(outcome).Inc()
}
