package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/scheduling"
)

func newMemoryServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	return newServer(cfg, zerolog.Nop(), serverDeps{
		Repos:    memoryRepositories(scheduling.NewMemoryStore()),
		Location: time.UTC,
		Registry: prometheus.NewRegistry(),
	})
}

func devConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		Store:          config.StoreMemory,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := newMemoryServer(t, devConfig())

	rec := serve(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}

	// No pool is wired for the memory store.
	if rec := serve(h, http.MethodGet, "/health/db", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for /health/db without a database, got %d", rec.Code)
	}
}

func TestServer_DevAuthBookingFlowAndMetrics(t *testing.T) {
	h := newMemoryServer(t, devConfig())

	rec := serve(h, http.MethodPost, "/api/v1/specialties", `{"name":"Cardiology","booking_mode":"SLOT"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sp scheduling.Specialty
	if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
		t.Fatalf("decode specialty: %v", err)
	}

	rec = serve(h, http.MethodGet, "/api/v1/availability?specialty_id="+sp.ID.String()+"&date=2025-03-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `clinic_availability_queries_total{outcome="ok"} 1`) {
		t.Errorf("expected availability counter in metrics output")
	}
}

func TestServer_SigningKeyRequiresToken(t *testing.T) {
	cfg := devConfig()
	cfg.AuthSigningKey = "secret"
	h := newMemoryServer(t, cfg)

	rec := serve(h, http.MethodGet, "/api/v1/specialties", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
}

func TestServer_RateLimitOverrides(t *testing.T) {
	cfg := devConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	h := newMemoryServer(t, cfg)

	if rec := serve(h, http.MethodGet, "/api/v1/specialties", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/v1/specialties", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", rec.Code)
	}
}
