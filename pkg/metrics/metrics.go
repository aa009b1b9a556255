// Package metrics exposes Prometheus collectors for the gateway's discrete
// events: cache hits and misses, endpoint attempts, rate-limit rejections,
// and relay session activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all gateway collectors, registered on a private registry so
// multiple instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	CacheLookups        *prometheus.CounterVec // result: hit|miss
	EndpointAttempts    *prometheus.CounterVec // endpoint, result: success|failure
	RateLimitRejections *prometheus.CounterVec // tier
	RequestDuration     *prometheus.HistogramVec
	SessionsActive      prometheus.Gauge
	SessionTransitions  *prometheus.CounterVec // state
	StreamChunksRelayed prometheus.Counter
	StreamInterruptions prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rampart_cache_lookups_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		EndpointAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rampart_endpoint_attempts_total",
				Help: "Upstream endpoint attempts by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rampart_ratelimit_rejections_total",
				Help: "Requests rejected by tier rate limits",
			},
			[]string{"tier"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rampart_request_duration_seconds",
				Help:    "End-to-end request latency by surface",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"surface"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rampart_relay_sessions_active",
				Help: "Currently open relay sessions",
			},
		),
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rampart_relay_session_transitions_total",
				Help: "Relay session state transitions",
			},
			[]string{"state"},
		),
		StreamChunksRelayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rampart_stream_chunks_relayed_total",
				Help: "Upstream chunks forwarded to relay clients",
			},
		),
		StreamInterruptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rampart_stream_interruptions_total",
				Help: "Upstream streams that failed after partial delivery",
			},
		),
	}

	reg.MustRegister(
		m.CacheLookups,
		m.EndpointAttempts,
		m.RateLimitRejections,
		m.RequestDuration,
		m.SessionsActive,
		m.SessionTransitions,
		m.StreamChunksRelayed,
		m.StreamInterruptions,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
