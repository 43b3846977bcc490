package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		preflight  bool
		wantOrigin string
		wantStatus int
		wantCalled bool
	}{
		{name: "listed origin", allowed: []string{"https://app.example.co.ke/"}, method: http.MethodGet, origin: "https://app.example.co.ke", wantOrigin: "https://app.example.co.ke", wantStatus: http.StatusOK, wantCalled: true},
		{name: "unknown origin", allowed: []string{"https://app.example.co.ke"}, method: http.MethodGet, origin: "https://evil.example", wantStatus: http.StatusOK, wantCalled: true},
		{name: "wildcard", allowed: []string{"*"}, method: http.MethodGet, origin: "https://any.example", wantOrigin: "https://any.example", wantStatus: http.StatusOK, wantCalled: true},
		{name: "no origin header", allowed: []string{"*"}, method: http.MethodGet, wantStatus: http.StatusOK, wantCalled: true},
		{name: "preflight", allowed: []string{"https://app.example.co.ke"}, method: http.MethodOptions, origin: "https://app.example.co.ke", preflight: true, wantOrigin: "https://app.example.co.ke", wantStatus: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(tt.method, "/api/locations", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(okHandler(&called)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			}
		})
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	h := RateLimit(limiter)(okHandler(nil))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5001").Code)
	rec := do("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"success":false`)

	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000").Code, "other clients keep their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5003").Code)
}

func TestRateLimiterSweep(t *testing.T) {
	limiter := NewRateLimiter(5, 5)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Reserve("10.0.0.1")
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Reserve("10.0.0.2")
	limiter.Sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.clients, 1)
	assert.Contains(t, limiter.clients, "10.0.0.2")
}

func TestRequestLoggerRecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics(reg)
	var buf strings.Builder
	logger := logging.NewWithWriter("info", &buf)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger, m))
	r.Get("/api/bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bookings/abc", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), "/api/bookings/{id}")
	assert.Contains(t, buf.String(), "req-123")

	count, err := testutil.GatherAndCount(reg, "carwash_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
