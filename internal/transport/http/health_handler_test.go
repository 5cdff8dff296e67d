package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorpulse/internal/cache"
	"donorpulse/internal/config"
	apierrors "donorpulse/internal/errors"
	"donorpulse/internal/services"
)

type failingStore struct{ cache.Store }

func (failingStore) Get(context.Context, string, string, interface{}) error {
	return assert.AnError
}

func TestHealthHandler(t *testing.T) {
	ledgers, err := services.NewLedgerService(config.Default().Ledger, nil, time.Minute, testLogger())
	require.NoError(t, err)

	tests := []struct {
		name         string
		store        cache.Store
		handler      func(*HealthHandler) http.HandlerFunc
		expectedCode int
		status       string
	}{
		{"health", cache.NewMemory(time.Minute, 1), func(h *HealthHandler) http.HandlerFunc { return h.HealthCheck }, http.StatusOK, "ok"},
		{"ready", cache.NewMemory(time.Minute, 1), func(h *HealthHandler) http.HandlerFunc { return h.ReadinessCheck }, http.StatusOK, "ready"},
		{"not ready", failingStore{}, func(h *HealthHandler) http.HandlerFunc { return h.ReadinessCheck }, http.StatusServiceUnavailable, "not_ready"},
		{"live", cache.NewMemory(time.Minute, 1), func(h *HealthHandler) http.HandlerFunc { return h.LivenessCheck }, http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := services.NewHealthService("0.3.0", "", ledgers, tt.store, testLogger())
			h := NewHealthHandler(hs, testLogger())

			rec := httptest.NewRecorder()
			tt.handler(h)(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tt.expectedCode, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			var status services.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, "0.3.0", status.Version)
		})
	}
}

func TestHealthHandler_Register(t *testing.T) {
	hs := services.NewHealthService("0.3.0", "", nil, cache.NewMemory(time.Minute, 1), testLogger())
	r := chi.NewRouter()
	NewHealthHandler(hs, testLogger()).Register(r)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable}, // no ledger service wired
		{"/health/live", http.StatusOK},
		{"/version", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	logger := testLogger()
	errorHandler := apierrors.NewErrorHandler(logger, false)

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewMetricsHandler(nil, errorHandler).GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "METRICS_DISABLED", decodeProblem(t, rec)["error_code"])
	})

	t.Run("enabled", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_test_total", Help: "test"})
		registry.MustRegister(counter)
		counter.Inc()

		rec := httptest.NewRecorder()
		NewMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), errorHandler).
			GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ledger_test_total 1")
	})
}
