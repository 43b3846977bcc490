package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/analytics"
	"github.com/wolfman30/carwash-platform/internal/auth"
	"github.com/wolfman30/carwash-platform/internal/bookings"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	httpmiddleware "github.com/wolfman30/carwash-platform/internal/http/middleware"
	"github.com/wolfman30/carwash-platform/internal/staff"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/internal/walkin"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// Handlers are zero values: these tests only exercise routing and guards,
// which reject requests before a handler runs.
func newTestRouter(t *testing.T, checks map[string]HealthCheck, limiter *httpmiddleware.RateLimiter) (http.Handler, *auth.Issuer) {
	t.Helper()
	issuer := auth.NewIssuer(auth.Secrets{
		tenancy.ActorCustomer: "customer-secret",
		tenancy.ActorStaff:    "staff-secret",
		tenancy.ActorTenant:   "tenant-secret",
	}, time.Hour)
	logger := logging.Discard()
	return New(&Config{
		Logger:        logger,
		Authenticator: auth.NewAuthenticator(issuer, auth.NewMemoryRevoker(), logger),
		Auth:          &auth.Handler{},
		Staff:         &staff.Handler{},
		Catalog:       &catalog.Handler{},
		Bookings:      &bookings.Handler{},
		WalkIns:       &walkin.Handler{},
		Analytics:     &analytics.Handler{},
		HealthChecks:  checks,
		RateLimiter:   limiter,
	}), issuer
}

func token(t *testing.T, issuer *auth.Issuer, actor tenancy.ActorType) string {
	t.Helper()
	tenantID := uuid.New()
	tok, err := issuer.Issue(tenancy.Identity{Actor: actor, ActorID: uuid.New(), TenantID: tenantID})
	require.NoError(t, err)
	return tok.AccessToken
}

func TestHealthReportsDependencies(t *testing.T) {
	router, _ := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
	assert.Equal(t, "unavailable", body.Dependencies["redis"])
}

func TestHealthWithoutDependencies(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestActorGuards(t *testing.T) {
	router, issuer := newTestRouter(t, nil, nil)
	customer := token(t, issuer, tenancy.ActorCustomer)
	staffTok := token(t, issuer, tenancy.ActorStaff)
	tenant := token(t, issuer, tenancy.ActorTenant)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{"no token on bookings", http.MethodGet, "/api/bookings", ""},
		{"staff on customer bookings", http.MethodGet, "/api/bookings", staffTok},
		{"customer on tenant catalog", http.MethodGet, "/api/tenant/locations", customer},
		{"staff on tenant employees", http.MethodGet, "/api/tenant/employees", staffTok},
		{"tenant on staff desk", http.MethodGet, "/api/staff/me", tenant},
		{"customer on staff walk-ins", http.MethodGet, "/api/staff/walkins", customer},
		{"customer on analytics", http.MethodGet, "/api/tenant/analytics/summary", customer},
		{"garbage token", http.MethodGet, "/api/tenant/locations", "not-a-jwt"},
		{"logout without token", http.MethodPost, "/api/auth/logout", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestUnknownRoutesUseEnvelope(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route not found")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimitCoversAPIOnly(t *testing.T) {
	router, _ := newTestRouter(t, nil, httpmiddleware.NewRateLimiter(0.001, 1))

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "196.201.214.10:40000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do("/api/bookings"))
	assert.Equal(t, http.StatusTooManyRequests, do("/api/bookings"))
	assert.Equal(t, http.StatusOK, do("/health"))
	assert.Equal(t, http.StatusOK, do("/health"))
}
