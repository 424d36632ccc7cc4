package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BScong/text-indexing/pkg/metrics"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("generated id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" {
		t.Fatalf("incoming id not reused, got %q", seen)
	}
}

func TestTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("late"))
	})
	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Fatalf("late write reached the client: %q", rec.Body.String())
	}

	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	rec = httptest.NewRecorder()
	Timeout(time.Second)(fast).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
}

func TestMetricsLabelsByPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/documents/{id}/similar", func(w http.ResponseWriter, r *http.Request) {})
	h := Metrics(m)(mux)

	for _, id := range []string{"1", "2", "3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id+"/similar", nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "http_requests_total" {
			continue
		}
		if len(f.GetMetric()) != 1 {
			t.Fatalf("expected one label set, got %d", len(f.GetMetric()))
		}
		if got := f.GetMetric()[0].GetCounter().GetValue(); got != 3 {
			t.Fatalf("counter = %v, want 3", got)
		}
		for _, l := range f.GetMetric()[0].GetLabel() {
			if l.GetName() == "path" && l.GetValue() != "GET /api/v1/documents/{id}/similar" {
				t.Fatalf("path label = %q", l.GetValue())
			}
		}
		return
	}
	t.Fatal("http_requests_total not gathered")
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || called {
		t.Fatalf("preflight status %d, handler called %v", rec.Code, called)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Fatalf("missing allow-origin header")
	}
}

func TestLimiterRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(2, time.Second)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request within the window should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("clients must not share buckets")
	}

	now = now.Add(500 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("half a window should refill one token")
	}
	if l.Allow("a") {
		t.Fatal("only one token should have been refilled")
	}

	now = now.Add(3 * time.Second)
	l.sweep()
	if len(l.buckets) != 0 {
		t.Fatalf("idle buckets not swept: %d left", len(l.buckets))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := RateLimit(NewLimiter(1, time.Hour), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(path, fwd string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/api/v1/search?q=a", ""); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do("/api/v1/search?q=a", ""); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", code)
	}
	if code := do("/health/ready", ""); code != http.StatusOK {
		t.Fatalf("health probe limited: %d", code)
	}
	if code := do("/api/v1/search?q=a", "10.0.0.9, 10.0.0.1"); code != http.StatusOK {
		t.Fatalf("forwarded client should have its own bucket: %d", code)
	}
}
