// Package metrics defines the Prometheus instrumentation shared by the
// fetch layer and the workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the daemon's counters. Construct one per process with New
// and hand it through the runtime; nothing registers globals.
type Set struct {
	registry *prometheus.Registry

	UpstreamResponses *prometheus.CounterVec
	TransportErrors   prometheus.Counter
	GateWaits         prometheus.Counter
	TokenRefreshes    prometheus.Counter
	DumpsWritten      *prometheus.CounterVec
	DroppedBatches    prometheus.Counter
	ForbiddenAdds     prometheus.Counter
}

// New creates and registers the counter set on a private registry.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "upstream_responses_total",
			Help:      "Upstream HTTP responses by status class.",
		}, []string{"class"}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "transport_errors_total",
			Help:      "Requests that failed before an HTTP status arrived.",
		}),
		GateWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "gate_waits_total",
			Help:      "Fetch attempts that slept on the rate-limit gate.",
		}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "token_refreshes_total",
			Help:      "OAuth refresh grants performed.",
		}),
		DumpsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "dumps_written_total",
			Help:      "Finalized dump files by kind.",
		}, []string{"kind"}),
		DroppedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "dropped_location_batches_total",
			Help:      "Location-ID batches dropped after the push timeout.",
		}),
		ForbiddenAdds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emd",
			Name:      "forbidden_locations_total",
			Help:      "Structure IDs blacklisted after an upstream rejection.",
		}),
	}
	s.registry.MustRegister(
		s.UpstreamResponses,
		s.TransportErrors,
		s.GateWaits,
		s.TokenRefreshes,
		s.DumpsWritten,
		s.DroppedBatches,
		s.ForbiddenAdds,
	)
	return s
}

// Registry exposes the underlying registry for the HTTP /metrics handler.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}

// StatusClass maps an HTTP status code to its counter label.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	}
	return "other"
}
