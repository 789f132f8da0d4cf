// Package metrics exposes the Prometheus collectors for the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droneops_api_requests_total",
		Help: "API requests by route and status code.",
	}, []string{"route", "code"})

	// RequestDuration tracks API latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "droneops_api_request_duration_seconds",
		Help:    "API request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// MissionTransitions counts lifecycle transitions by kind and outcome.
	MissionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droneops_mission_transitions_total",
		Help: "Mission lifecycle transitions by transition and outcome.",
	}, []string{"transition", "outcome"})

	// CacheRequests counts cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "droneops_cache_requests_total",
		Help: "Cache lookups by result (hit or miss).",
	}, []string{"result"})

	// FlightLogRows counts ingested telemetry rows.
	FlightLogRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "droneops_flight_log_rows_total",
		Help: "Flight log rows accepted by the ingest pipeline.",
	})
)

// ObserveTransition records one transition attempt.
func ObserveTransition(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	MissionTransitions.WithLabelValues(transition, outcome).Inc()
}
