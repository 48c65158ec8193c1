package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPingFunc_Healthy(t *testing.T) {
	p := &PingFunc{CheckerName: "store", Fn: func(ctx context.Context) error { return nil }}

	if p.Name() != "store" {
		t.Errorf("expected name 'store', got %q", p.Name())
	}

	result := p.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestPingFunc_Unhealthy(t *testing.T) {
	p := &PingFunc{CheckerName: "bus", Fn: func(ctx context.Context) error { return errors.New("connection refused") }}

	result := p.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy")
	}
	if result.Message != "connection refused" {
		t.Errorf("expected message 'connection refused', got %q", result.Message)
	}
}

func TestRegistry_HandlerAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(&PingFunc{CheckerName: "postgres", Fn: func(ctx context.Context) error { return nil }})
	r.Register(&PingFunc{CheckerName: "object_store", Fn: func(ctx context.Context) error { return nil }})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.Handler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]Result
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != 2 {
		t.Errorf("expected 2 checkers in response, got %d", len(body))
	}
}

func TestRegistry_HandlerOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(&PingFunc{CheckerName: "postgres", Fn: func(ctx context.Context) error { return nil }})
	r.Register(&PingFunc{CheckerName: "bus", Fn: func(ctx context.Context) error { return errors.New("unreachable") }})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.Handler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestRegistry_CheckAllEmpty(t *testing.T) {
	r := NewRegistry()
	results := r.CheckAll(context.Background())
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
