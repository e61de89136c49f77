// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FramesReceived counts inbound MESSAGE frames by routing channel.
// Use RegisterMetrics to register this with a Prometheus registry.
var FramesReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parley_session_frames_received_total",
		Help: "Total number of inbound frames by channel",
	},
	[]string{"channel"},
)

// ConnectsTotal counts successful broker connects.
// Use RegisterMetrics to register this with a Prometheus registry.
var ConnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "parley_session_connects_total",
		Help: "Total number of successful broker connects",
	},
)

// RegisterMetrics registers session package metrics with the given Prometheus
// registry. Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FramesReceived)
	reg.MustRegister(ConnectsTotal)
}
