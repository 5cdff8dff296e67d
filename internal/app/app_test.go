package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"donorpulse/internal/config"
	"donorpulse/internal/errors"
	"donorpulse/internal/infrastructure"
	"donorpulse/internal/services"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Telemetry.EnableTracing = false
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	app, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.Cache.Close() })
	return app
}

func ledgerUpload(t *testing.T) *http.Request {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"", "Account", "Amount", "Credit"},
		{"Ann", "General", 3000, nil},
		{"Total Ann", nil, 3000, nil},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}
	var wb bytes.Buffer
	require.NoError(t, f.Write(&wb))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "ledger.xlsx")
	require.NoError(t, err)
	_, err = part.Write(wb.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ledgers", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNewApplication(t *testing.T) {
	tests := []struct {
		name          string
		env           map[string]string
		wantErr       bool
		errorContains string
	}{
		{
			name: "defaults",
		},
		{
			name:          "invalid port",
			env:           map[string]string{"LEDGER_SERVER_PORT": "-1"},
			wantErr:       true,
			errorContains: "config validation failed",
		},
		{
			name:          "invalid match policy",
			env:           map[string]string{"LEDGER_LEDGER_MATCH_POLICY": "fuzzy"},
			wantErr:       true,
			errorContains: "invalid match policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infrastructure.ResetLoggerForTesting()
			t.Setenv("LEDGER_LOGGING_OUTPUT", "console")
			t.Setenv("LEDGER_TELEMETRY_ENABLE_TRACING", "false")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			app, err := NewApplication()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.Nil(t, app)
				return
			}
			require.NoError(t, err)
			defer app.Cache.Close()
			assert.NotNil(t, app.Router)
			assert.NotNil(t, app.Server)
			assert.NotNil(t, app.LedgerService)
			assert.NotNil(t, app.HealthService)
			assert.NotNil(t, app.Metrics)
		})
	}
}

func TestNew_CacheBackends(t *testing.T) {
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = mr.Addr()

		app := newTestApp(t, cfg)

		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig()
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = addr

		_, err := New(cfg, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize cache")
	})
}

func TestApplication_Routes(t *testing.T) {
	app := newTestApp(t, testConfig())

	tests := []struct {
		name         string
		method       string
		path         string
		expectedCode int
		contains     string
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK, `"status":"ok"`},
		{"readiness", http.MethodGet, "/api/health/ready", http.StatusOK, `"ready"`},
		{"liveness", http.MethodGet, "/api/health/live", http.StatusOK, `"alive"`},
		{"version", http.MethodGet, "/api/version", http.StatusOK, `"version"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{"unknown route", http.MethodGet, "/api/nope", http.StatusNotFound, errors.TypeNotFound},
		{"unknown ledger", http.MethodGet, "/api/ledgers/5b0e0b5e-8f6e-4c1e-9d55-3f1c2b7a9e10", http.StatusNotFound, errors.TypeLedgerNotFound},
		{"method not allowed", http.MethodPut, "/api/health", http.StatusMethodNotAllowed, errors.TypeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.expectedCode, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.contains)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestApplication_LedgerLifecycle(t *testing.T) {
	app := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, ledgerUpload(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var summary services.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, app.LedgerService.ActiveSessions())

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledgers/"+summary.ID+"/pivot?threshold=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"donor":"Ann"`)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "ledger_loads_total")

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/ledgers/"+summary.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, app.LedgerService.ActiveSessions())
}

func TestApplication_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.RPS = 1
	cfg.Security.RateLimit.Burst = 1
	app := newTestApp(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes[1:], http.StatusTooManyRequests)
}

func TestApplication_UploadLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.UploadsPerMinute = 1
	app := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, ledgerUpload(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, ledgerUpload(t))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, app.LedgerService.ActiveSessions())

	// reads are not counted against the upload cap
	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplication_getCORSConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowedOrigins = []string{"https://dashboard.example.org"}
	app := newTestApp(t, cfg)

	cors := app.getCORSConfig()
	assert.Equal(t, []string{"https://dashboard.example.org"}, cors.AllowedOrigins)
	assert.Contains(t, cors.ExposedHeaders, "Location")
	assert.NotContains(t, cors.AllowedMethods, "PUT")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	app.Router.ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplication_createServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 9191
	app := newTestApp(t, cfg)

	assert.Equal(t, ":9191", app.Server.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, app.Server.ReadTimeout)
	assert.Equal(t, cfg.Server.WriteTimeout, app.Server.WriteTimeout)
	assert.Equal(t, cfg.Server.MaxHeaderBytes, app.Server.MaxHeaderBytes)
	assert.Equal(t, app.Router, app.Server.Handler)
}

func TestApplication_StartStop(t *testing.T) {
	listener := httptest.NewServer(http.NotFoundHandler())
	port, err := strconv.Atoi(listener.URL[strings.LastIndex(listener.URL, ":")+1:])
	require.NoError(t, err)

	t.Run("start and stop", func(t *testing.T) {
		app := newTestApp(t, testConfig())
		app.Server.Addr = "127.0.0.1:0"

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, app.Start(ctx, cancel))
		assert.NoError(t, app.Stop(context.Background()))

		select {
		case <-app.janitorDone:
		default:
			t.Fatal("janitor still running after Stop")
		}
	})

	t.Run("port in use cancels context", func(t *testing.T) {
		defer listener.Close()
		cfg := testConfig()
		cfg.Server.Port = port
		app := newTestApp(t, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, app.Start(ctx, cancel))
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("listen failure did not cancel the context")
		}
		assert.NoError(t, app.Stop(context.Background()))
	})
}
