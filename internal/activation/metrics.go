// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package activation

import "github.com/prometheus/client_golang/prometheus"

// EventsFired counts FireEvent calls by topic.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventsFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exthost_activation_events_total",
		Help: "Total number of activation events fired",
	},
	[]string{"topic"},
)

// RegisterMetrics registers activation metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsFired)
}

// RecordActivationEvent increments the fired counter for topic.
func RecordActivationEvent(topic string) {
	EventsFired.WithLabelValues(topic).Inc()
}
