// Package telemetry holds the Prometheus collectors shared across
// subsystems and the registry they are served from.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DispatchedUpdates counts inbound events by endpoint and outcome.
var DispatchedUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "botforge",
		Subsystem: "dispatch",
		Name:      "updates_total",
		Help:      "Inbound webhook events by endpoint and outcome.",
	},
	[]string{"endpoint", "outcome"},
)

// BroadcastSends counts individual broadcast deliveries by result.
var BroadcastSends = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "botforge",
		Subsystem: "broadcast",
		Name:      "sends_total",
		Help:      "Broadcast deliveries by result.",
	},
	[]string{"result"},
)

// NewRegistry creates a Prometheus registry with default and custom
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DispatchedUpdates,
		BroadcastSends,
	)
	return reg
}
