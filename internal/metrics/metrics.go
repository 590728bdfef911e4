// Package metrics exposes prometheus counters for the scoring pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all readiness metrics on its own prometheus registry
type Registry struct {
	reg *prometheus.Registry

	// Cache performance
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheProduced *prometheus.CounterVec

	// Daily pipeline
	PassDuration *prometheus.HistogramVec
	PassResults  *prometheus.CounterVec

	ProviderFailures *prometheus.CounterVec
	StressAlerts     prometheus.Counter
	IllnessFound     *prometheus.CounterVec
	Scores           *prometheus.GaugeVec
}

// New creates a registry with every metric registered
func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_cache_hits_total",
				Help: "Total number of cache hits by kind",
			},
			[]string{"kind"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_cache_misses_total",
				Help: "Total number of cache misses by kind",
			},
			[]string{"kind"},
		),

		CacheProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_cache_producer_calls_total",
				Help: "Producer invocations by kind and result",
			},
			[]string{"kind", "result"},
		),

		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "readiness_pass_duration_seconds",
				Help:    "Duration of daily calculation passes",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),

		PassResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_pass_results_total",
				Help: "Daily calculation passes by result",
			},
			[]string{"result"},
		),

		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_provider_failures_total",
				Help: "Absorbed provider failures by provider",
			},
			[]string{"provider"},
		),

		StressAlerts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "readiness_stress_alerts_total",
				Help: "Stress alerts fired",
			},
		),

		IllnessFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "readiness_illness_indicators_total",
				Help: "Illness indicators found by severity",
			},
			[]string{"severity"},
		),

		Scores: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "readiness_score",
				Help: "Latest published score by kind",
			},
			[]string{"kind"},
		),
	}

	m.reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheProduced,
		m.PassDuration,
		m.PassResults,
		m.ProviderFailures,
		m.StressAlerts,
		m.IllnessFound,
		m.Scores,
	)

	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, for tests
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// Hit implements cache.Observer
func (m *Registry) Hit(kind string) {
	m.CacheHits.WithLabelValues(kind).Inc()
}

// Miss implements cache.Observer
func (m *Registry) Miss(kind string) {
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// Produced implements cache.Observer
func (m *Registry) Produced(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheProduced.WithLabelValues(kind, result).Inc()
}

// ObservePass records one pipeline pass
func (m *Registry) ObservePass(result string, d time.Duration) {
	m.PassDuration.WithLabelValues(result).Observe(d.Seconds())
	m.PassResults.WithLabelValues(result).Inc()
}

// ProviderFailed counts an absorbed provider error
func (m *Registry) ProviderFailed(provider string) {
	m.ProviderFailures.WithLabelValues(provider).Inc()
}

// SetScore records a published score
func (m *Registry) SetScore(kind string, value int) {
	m.Scores.WithLabelValues(kind).Set(float64(value))
}
