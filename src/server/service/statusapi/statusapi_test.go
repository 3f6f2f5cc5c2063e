// SPDX-License-Identifier: MIT
package statusapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apimgr/onionbridge/src/config"
	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/logging"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.DNS.Suffix = "example.com"

	logger, err := logging.NewAppLogger(config.LogConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	coord := coordinator.New(cfg, "", logger)
	if err := coord.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	return coord
}

func TestHealthzReportsOK(t *testing.T) {
	coord := newTestCoordinator(t)
	router := NewRouter(coord)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", rec.Body.String())
	}
}

func TestStatusReflectsHaltFlag(t *testing.T) {
	coord := newTestCoordinator(t)
	router := NewRouter(coord)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"halted":false`) {
		t.Fatalf("expected halted:false before SetHalt, got %q", rec.Body.String())
	}

	if _, err := coord.SetHalt(true); err != nil {
		t.Fatalf("SetHalt() error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"halted":true`) {
		t.Fatalf("expected halted:true after SetHalt, got %q", rec.Body.String())
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	coord := newTestCoordinator(t)
	router := NewRouter(coord)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# HELP") {
		t.Fatalf("expected Prometheus exposition format, got body starting %q", rec.Body.String()[:minInt(80, rec.Body.Len())])
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
