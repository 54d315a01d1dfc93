package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ---------------------------------------------------------------------------
// Prometheus metrics
// ---------------------------------------------------------------------------

// Metrics holds every Prometheus collector the core exports.
type Metrics struct {
	registry *prometheus.Registry

	TokensDiscovered prometheus.Counter
	Evaluations      *prometheus.CounterVec // result: approved|blocked|skipped
	EvalLatency      prometheus.Histogram
	SecuritySaved    prometheus.Counter

	GuardChecks  *prometheus.CounterVec // check, outcome: pass|block|skip
	Blacklisted  prometheus.Counter
	TaxDetected  *prometheus.CounterVec // verdict

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	QuoteLatency *prometheus.HistogramVec // provider
	QuoteErrors  *prometheus.CounterVec   // provider, kind: no_route|rate_limit|other

	OpenPositions  prometheus.Gauge
	TradesExecuted prometheus.Counter
	EmergencyExits prometheus.Counter
	FrozenPositions prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TokensDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_tokens_discovered_total",
			Help: "New token launches seen by discovery",
		}),
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_evaluations_total",
			Help: "Risk evaluations by result",
		}, []string{"result"}),
		EvalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_evaluation_latency_seconds",
			Help:    "End-to-end risk evaluation latency",
			Buckets: prometheus.DefBuckets,
		}),
		SecuritySaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_security_calls_saved_total",
			Help: "Paid security lookups avoided by the prescore gate",
		}),

		GuardChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_guard_checks_total",
			Help: "Pre-execution guard checks by check and outcome",
		}, []string{"check", "outcome"}),
		Blacklisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_blacklisted_total",
			Help: "Tokens added to the execution blacklist",
		}),
		TaxDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_sell_tax_verdicts_total",
			Help: "Sell tax detector verdicts",
		}, []string{"verdict"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_cache_hits_total",
			Help: "Validation cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_cache_misses_total",
			Help: "Validation cache misses",
		}),

		QuoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_quote_latency_seconds",
			Help:    "Aggregator quote latency by provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		QuoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_quote_errors_total",
			Help: "Aggregator quote failures by provider and kind",
		}, []string{"provider", "kind"}),

		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_open_positions",
			Help: "Positions currently open",
		}),
		TradesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_trades_executed_total",
			Help: "Trades executed, dry-run included",
		}),
		EmergencyExits: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_emergency_exits_total",
			Help: "Positions force-closed on liquidity collapse",
		}),
		FrozenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_frozen_positions",
			Help: "Positions frozen with no exit route",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
