// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EnqueuedTotal counts payloads accepted into a destination lane.
// Use RegisterMetrics to register this with a Prometheus registry.
var EnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parley_outbox_enqueued_total",
		Help: "Total number of payloads accepted for delivery",
	},
	[]string{"destination"},
)

// PublishedTotal counts payloads the publisher accepted.
// Use RegisterMetrics to register this with a Prometheus registry.
var PublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parley_outbox_published_total",
		Help: "Total number of payloads delivered to the broker",
	},
	[]string{"destination"},
)

// RetriesTotal counts failed delivery attempts that will be retried.
// Use RegisterMetrics to register this with a Prometheus registry.
var RetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parley_outbox_retries_total",
		Help: "Total number of delivery attempts that failed and were retried",
	},
	[]string{"destination"},
)

// DroppedTotal counts payloads discarded because the queue stopped before
// they could be delivered.
// Use RegisterMetrics to register this with a Prometheus registry.
var DroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parley_outbox_dropped_total",
		Help: "Total number of payloads dropped without delivery",
	},
	[]string{"destination"},
)

// RegisterMetrics registers outbox package metrics with the given Prometheus
// registry. Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EnqueuedTotal)
	reg.MustRegister(PublishedTotal)
	reg.MustRegister(RetriesTotal)
	reg.MustRegister(DroppedTotal)
}
