// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded in the status label of Executions.
const (
	StatusSuccess         = "success"
	StatusError           = "error"
	StatusNotFound        = "not_found"
	StatusHostUnavailable = "host_unavailable"
	StatusCancelled       = "cancelled"
)

// Executions counts Registry.Execute calls by command, contributing source
// ("core" or an extension id) and outcome.
var Executions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exthost",
		Subsystem: "command",
		Name:      "executions_total",
		Help:      "Commands executed, by command, contributing source and outcome",
	},
	[]string{"command", "source", "status"},
)

// ExecutionDuration observes Registry.Execute latency, including any wait
// for the owning host.
var ExecutionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "exthost",
		Subsystem: "command",
		Name:      "duration_seconds",
		Help:      "Command execution latency in seconds, host readiness waits included",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"command", "source"},
)

// ReadinessWaits counts bridged commands that found their host not ready.
var ReadinessWaits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exthost",
		Subsystem: "command",
		Name:      "readiness_waits_total",
		Help:      "Extension commands that found their host not ready",
	},
	[]string{"host"},
)

// ReadinessWaitDuration observes how long those commands waited.
var ReadinessWaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "exthost",
		Subsystem: "command",
		Name:      "readiness_wait_seconds",
		Help:      "Time extension commands spent waiting for their host",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	},
	[]string{"host"},
)

// RegisterMetrics registers the command collectors with reg. It panics on
// duplicate registration.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Executions, ExecutionDuration, ReadinessWaits, ReadinessWaitDuration)
}

// RecordCommandExecution counts one execution with a Status* outcome.
func RecordCommandExecution(command, source, status string) {
	Executions.WithLabelValues(command, source, status).Inc()
}

// RecordCommandDuration observes one execution's latency.
func RecordCommandDuration(command, source string, d time.Duration) {
	ExecutionDuration.WithLabelValues(command, source).Observe(d.Seconds())
}

// RecordReadinessWait records a command that waited d for host.
func RecordReadinessWait(host string, d time.Duration) {
	ReadinessWaits.WithLabelValues(host).Inc()
	ReadinessWaitDuration.WithLabelValues(host).Observe(d.Seconds())
}
