package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.BacktestRun()
	m.BacktestRun()
	m.BacktestFailed()
	m.CacheHit()
	m.CacheMiss()
	m.SymbolCompleted(2 * time.Second)
	m.SymbolFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BacktestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SymbolsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SymbolsFailed))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.BacktestRun()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot_backtests_total 1")
	assert.Contains(t, rec.Body.String(), "bot_optimization_symbol_duration_seconds")
}

func TestPrivateRegistries(t *testing.T) {
	// Two instances register without panicking, so nothing leaks into
	// the global registry.
	a := New()
	b := New()
	a.BacktestRun()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BacktestsTotal))
}
