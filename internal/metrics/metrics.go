// Package metrics exposes Prometheus instrumentation for the gateway
// pipeline and its external calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway records into.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	DenialsTotal        *prometheus.CounterVec
	PaymentVerifyTotal  *prometheus.CounterVec
	SettlementsTotal    *prometheus.CounterVec
	SettledUSDC         prometheus.Counter
	UpstreamDuration    *prometheus.HistogramVec
	ReplayHitsTotal     prometheus.Counter
	MandateChecksTotal  *prometheus.CounterVec
	RateLimitHitsTotal  *prometheus.CounterVec
	RoutesRegistered    prometheus.Gauge
	ReceiptsStored      prometheus.Gauge
}

// New registers all collectors against the given registerer. Pass
// prometheus.DefaultRegisterer in production; a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Gated requests by tool and outcome.",
		}, []string{"tool_id", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool_id"}),

		DenialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_denials_total",
			Help: "Pipeline denials by reason code.",
		}, []string{"reason"}),

		PaymentVerifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_payment_verify_total",
			Help: "Facilitator verify calls by result.",
		}, []string{"result"}),

		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_settlements_total",
			Help: "Facilitator settle calls by result.",
		}, []string{"result"}),

		SettledUSDC: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_settled_usdc_total",
			Help: "Total USDC settled, in dollars.",
		}),

		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Upstream proxy latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider_id"}),

		ReplayHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_replay_hits_total",
			Help: "Requests rejected as replays.",
		}),

		MandateChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_mandate_checks_total",
			Help: "Mandate verifications by verdict.",
		}, []string{"verdict"}),

		RateLimitHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Requests rejected by rate limiting, by tier.",
		}, []string{"tier"}),

		RoutesRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routes_registered",
			Help: "Currently registered routes.",
		}),

		ReceiptsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_receipts_stored",
			Help: "Receipts currently held in the in-memory store.",
		}),
	}
}
