// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package exthost

import "github.com/prometheus/client_golang/prometheus"

// Launch status labels.
const (
	LaunchSuccess = "success"
	LaunchFailure = "failure"
)

// HostState exposes the current state of each host as a number.
var HostState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "exthost_host_state",
		Help: "Current host process state (0 unstarted, 1 starting, 2 ready, 3 crashed, 4 restarting, 5 disposed)",
	},
	[]string{"host"},
)

// HostTransitions counts state transitions per host.
var HostTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exthost_host_state_transitions_total",
		Help: "Total number of host process state transitions",
	},
	[]string{"host", "to"},
)

// HostLaunches counts host start attempts.
var HostLaunches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exthost_host_launches_total",
		Help: "Total number of host process launches",
	},
	[]string{"host", "status"},
)

// RegisterMetrics registers host metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HostState)
	reg.MustRegister(HostTransitions)
	reg.MustRegister(HostLaunches)
}

// RecordTransition records a state change for kind.
func RecordTransition(kind Kind, to State) {
	HostState.WithLabelValues(string(kind)).Set(float64(to))
	HostTransitions.WithLabelValues(string(kind), to.String()).Inc()
}

// RecordLaunch records a launch attempt outcome.
func RecordLaunch(kind Kind, status string) {
	HostLaunches.WithLabelValues(string(kind), status).Inc()
}
