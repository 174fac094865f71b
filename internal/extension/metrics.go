// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "github.com/prometheus/client_golang/prometheus"

// InstancesRejected counts discovered extensions excluded by validation.
var InstancesRejected = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "exthost_extension_instances_rejected_total",
	Help: "Total number of discovered extensions excluded because they failed validation",
})

// RegisterMetrics registers extension metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(InstancesRejected)
}

// RecordInstanceRejected increments the rejected counter.
func RecordInstanceRejected() {
	InstancesRejected.Inc()
}
