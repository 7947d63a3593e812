// Package metrics exposes Prometheus instrumentation for the
// optimization pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the optimization pipeline.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsTotal   prometheus.Counter
	BacktestsFailed  prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	SymbolsCompleted prometheus.Counter
	SymbolsFailed    prometheus.Counter
	SymbolDuration   prometheus.Histogram
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		BacktestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_backtests_total",
			Help: "Total parameter-combination backtests executed.",
		}),
		BacktestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_backtests_failed_total",
			Help: "Backtests skipped due to errors.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_market_data_cache_hits_total",
			Help: "Market data cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_market_data_cache_misses_total",
			Help: "Market data cache misses.",
		}),
		SymbolsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_optimization_symbols_completed_total",
			Help: "Symbols whose optimization completed.",
		}),
		SymbolsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_optimization_symbols_failed_total",
			Help: "Symbols whose optimization failed.",
		}),
		SymbolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_optimization_symbol_duration_seconds",
			Help:    "Wall time to optimize one symbol across all combinations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	registry.MustRegister(
		m.BacktestsTotal, m.BacktestsFailed,
		m.CacheHits, m.CacheMisses,
		m.SymbolsCompleted, m.SymbolsFailed,
		m.SymbolDuration,
	)
	return m
}

// CacheHit implements the market data cache metrics hook.
func (m *Metrics) CacheHit() { m.CacheHits.Inc() }

// CacheMiss implements the market data cache metrics hook.
func (m *Metrics) CacheMiss() { m.CacheMisses.Inc() }

// BacktestRun implements the optimizer backtest metrics hook.
func (m *Metrics) BacktestRun() { m.BacktestsTotal.Inc() }

// BacktestFailed implements the optimizer backtest metrics hook.
func (m *Metrics) BacktestFailed() { m.BacktestsFailed.Inc() }

// SymbolCompleted implements the scheduler symbol metrics hook.
func (m *Metrics) SymbolCompleted(d time.Duration) {
	m.SymbolsCompleted.Inc()
	m.SymbolDuration.Observe(d.Seconds())
}

// SymbolFailed implements the scheduler symbol metrics hook.
func (m *Metrics) SymbolFailed() { m.SymbolsFailed.Inc() }

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
