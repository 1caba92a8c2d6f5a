package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

type fakeGraphClient struct {
	healthy bool
}

func (f *fakeGraphClient) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]outbound.Row, error) {
	return nil, nil
}
func (f *fakeGraphClient) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	return nil
}
func (f *fakeGraphClient) ExecuteWriteTx(ctx context.Context, fn func(ctx context.Context, tx outbound.Tx) error) error {
	return nil
}
func (f *fakeGraphClient) Health(ctx context.Context) bool { return f.healthy }
func (f *fakeGraphClient) Metrics(ctx context.Context) (outbound.Metrics, error) {
	return outbound.Metrics{}, nil
}

func TestHealthChecker_Healthy(t *testing.T) {
	hc := NewHealthChecker(&fakeGraphClient{healthy: true}, time.Second, "test-version")

	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["graph"] != "ok" {
		t.Errorf("graph check = %q, want ok", health.Checks["graph"])
	}
}

func TestHealthChecker_NilGraph(t *testing.T) {
	hc := NewHealthChecker(nil, time.Second, "")
	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["graph"] != "not configured" {
		t.Errorf("graph = %q, want 'not configured'", health.Checks["graph"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	hc := NewHealthChecker(&fakeGraphClient{healthy: true}, time.Second, "1.0.0")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Response status = %q, want healthy", resp.Status)
	}
}

func TestHealthChecker_Unhealthy_GraphDown(t *testing.T) {
	hc := NewHealthChecker(&fakeGraphClient{healthy: false}, time.Second, "")
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}
	if health.Checks["graph"] != "unreachable" {
		t.Errorf("graph = %q, want unreachable", health.Checks["graph"])
	}
}

func TestHealthChecker_Handler_Unhealthy_503(t *testing.T) {
	hc := NewHealthChecker(&fakeGraphClient{healthy: false}, time.Second, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
}
