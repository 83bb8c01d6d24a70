package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"inkwell/api/internal/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newTestService(t, newMemStore()))

	rr := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if ok, _ := decodeJSON(t, rr)["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestReadyEndpoint(t *testing.T) {
	ms := newMemStore()
	server := newTestServer(newTestService(t, ms))

	rr := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if status, _ := decodeJSON(t, rr)["status"].(string); status != "ready" {
		t.Fatalf("expected ready, got %q", status)
	}

	ms.pingErr = errors.New("connection refused")
	rr = doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	payload := decodeJSON(t, rr)
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Fatalf("expected database error in checks, got %v", payload)
	}
}

func TestOptionsRequestGetsCORSHeaders(t *testing.T) {
	server := NewHTTPServer(newTestService(t, newMemStore()), "http://app.test", nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusNoContent)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.test" {
		t.Fatalf("expected CORS origin, got %q", got)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestPreflightSkipsAuthAndRouting(t *testing.T) {
	server := NewHTTPServer(newTestService(t, newMemStore()), "http://app.test", nil).Handler()

	for _, path := range []string{"/api/documents", "/api/organizations", "/api/ai/command", "/api/auth/signin"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		server.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS %s: expected 204, got %d: %s", path, rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.test" {
			t.Fatalf("OPTIONS %s: expected CORS origin, got %q", path, got)
		}
		if rr.Body.Len() != 0 {
			t.Fatalf("OPTIONS %s: expected empty body, got %s", path, rr.Body.String())
		}
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	server := newTestServer(newTestService(t, newMemStore()))

	rr := doJSON(t, server, http.MethodGet, "/api/nope", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if code, _ := decodeJSON(t, rr)["code"].(string); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", code)
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	server := newTestServer(newTestService(t, newMemStore()))

	doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	rr := doJSON(t, server, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestObserveRecoversPanics(t *testing.T) {
	s := NewHTTPServer(newTestService(t, newMemStore()), "*", nil)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.observe)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	expectStatus(t, rr, http.StatusInternalServerError)
	if code, _ := decodeJSON(t, rr)["code"].(string); code != "SERVER_ERROR" {
		t.Fatalf("expected SERVER_ERROR, got %q", code)
	}
}

func inFlightRequests(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "inkwell_http_inflight_requests" && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("in-flight gauge not registered")
	return 0
}

func TestObserveReleasesInFlightOnAbort(t *testing.T) {
	s := NewHTTPServer(newTestService(t, newMemStore()), "*", nil)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.observe)
	r.Get("/abort", func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) })

	before := inFlightRequests(t)
	func() {
		defer func() {
			if rec := recover(); rec != http.ErrAbortHandler {
				t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
			}
		}()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
	}()
	if after := inFlightRequests(t); after != before {
		t.Fatalf("expected in-flight gauge %v after abort, got %v", before, after)
	}
}
