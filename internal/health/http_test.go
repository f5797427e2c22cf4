package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbeHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantBody string
	}{
		{"healthz ok", HealthzHandler(pass), http.StatusOK, "ok"},
		{"healthz nil probe", HealthzHandler(nil), http.StatusOK, "ok"},
		{"healthz failing", HealthzHandler(Fixed(false, "store: closed")), http.StatusServiceUnavailable, "store: closed"},
		{"readyz ok", ReadyzHandler(pass), http.StatusOK, "ready"},
		{"readyz nil probe", ReadyzHandler(nil), http.StatusOK, "ready"},
		{"readyz failing", ReadyzHandler(Fixed(false, "contentsync: initial sync pending")), http.StatusServiceUnavailable, "initial sync pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestProbeHandler_PassesRequestContext(t *testing.T) {
	type ctxKey struct{}
	var got any
	h := ReadyzHandler(CheckFunc(func(ctx context.Context) error {
		got = ctx.Value(ctxKey{})
		return nil
	}))
	req := httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "v"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "v" {
		t.Fatal("request context not passed to probe")
	}
}

func TestProbeHandler_Dynamic(t *testing.T) {
	healthy := true
	h := HealthzHandler(CheckFunc(func(context.Context) error {
		if !healthy {
			return errA
		}
		return nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
