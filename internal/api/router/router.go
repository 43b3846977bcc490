// Package router assembles the HTTP surface of the car-wash API.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/carwash-platform/internal/analytics"
	"github.com/wolfman30/carwash-platform/internal/auth"
	"github.com/wolfman30/carwash-platform/internal/bookings"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	httpmiddleware "github.com/wolfman30/carwash-platform/internal/http/middleware"
	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/internal/reconcile"
	"github.com/wolfman30/carwash-platform/internal/staff"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/internal/walkin"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	Authenticator *auth.Authenticator

	Auth      *auth.Handler
	Staff     *staff.Handler
	Catalog   *catalog.Handler
	Bookings  *bookings.Handler
	WalkIns   *walkin.Handler
	Callbacks *reconcile.Handler
	Analytics *analytics.Handler

	HTTPMetrics        *metrics.HTTPMetrics
	MetricsHandler     http.Handler
	HealthChecks       map[string]HealthCheck
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	authn := cfg.Authenticator

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(logger, cfg.HTTPMetrics))
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Unauthenticated: probes and Daraja callbacks. Callbacks are never
	// rate limited so Safaricom retries are not turned away.
	r.Get("/health", health(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Callbacks != nil {
		for _, p := range []string{"/mpesa-callback", "/mpesa-callback/"} {
			r.Post(p, cfg.Callbacks.HandleBookingCallback)
		}
		for _, p := range []string{"/mpesa-callback/walkin", "/mpesa-callback/walkin/"} {
			r.Post(p, cfg.Callbacks.HandleWalkInCallback)
		}
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		api.Get("/locations", cfg.Catalog.PublicLocations)
		api.Get("/locations/{id}/services", cfg.Catalog.PublicLocationServices)

		api.Route("/auth", func(a chi.Router) {
			a.Post("/customer/register", cfg.Auth.CustomerRegister)
			a.Post("/customer/login", cfg.Auth.CustomerLogin)
			a.Post("/tenant/register", cfg.Auth.TenantRegister)
			a.Post("/tenant/login", cfg.Auth.TenantLogin)
			a.Post("/staff/login", cfg.Staff.Login)
			a.With(authn.RequireActor(tenancy.ActorCustomer, tenancy.ActorStaff, tenancy.ActorTenant)).
				Post("/logout", cfg.Auth.Logout)
		})

		api.Route("/bookings", func(c chi.Router) {
			c.Use(authn.RequireActor(tenancy.ActorCustomer))
			c.Post("/", cfg.Bookings.Create)
			c.Get("/", cfg.Bookings.List)
			c.Route("/{id}", func(b chi.Router) {
				b.Get("/", cfg.Bookings.Get)
				b.Patch("/", cfg.Bookings.Update)
				b.Post("/cancel", cfg.Bookings.Cancel)
				b.Post("/submit", cfg.Bookings.Submit)
				b.Post("/payment", cfg.Bookings.InitiatePayment)
				b.Get("/payment-status", cfg.Bookings.PaymentStatus)
				b.Get("/history", cfg.Bookings.History)
			})
		})

		api.Route("/tenant", func(t chi.Router) {
			t.Use(authn.RequireActor(tenancy.ActorTenant))
			mountCatalog(t, cfg.Catalog)
			mountStaffAdmin(t, cfg.Staff)
			mountOperations(t, cfg.Bookings, cfg.WalkIns, false)
			t.Get("/analytics/summary", cfg.Analytics.Summary)
		})

		api.Route("/staff", func(s chi.Router) {
			s.Use(authn.RequireActor(tenancy.ActorStaff))
			s.Get("/me", cfg.Staff.Me)
			mountOperations(s, cfg.Bookings, cfg.WalkIns, true)
		})
	})

	return r
}

func mountCatalog(r chi.Router, h *catalog.Handler) {
	r.Route("/locations", func(l chi.Router) {
		l.Get("/", h.ListLocations)
		l.Post("/", h.CreateLocation)
		l.Get("/{id}", h.GetLocation)
		l.Patch("/{id}", h.UpdateLocation)
	})
	r.Route("/services", func(s chi.Router) {
		s.Get("/", h.ListServices)
		s.Post("/", h.CreateService)
		s.Get("/{id}", h.GetService)
		s.Patch("/{id}", h.UpdateService)
	})
	r.Route("/location-services", func(s chi.Router) {
		s.Get("/", h.ListLocationServices)
		s.Post("/", h.CreateLocationService)
		s.Get("/{id}", h.GetLocationService)
		s.Patch("/{id}", h.UpdateLocationService)
	})
}

func mountStaffAdmin(r chi.Router, h *staff.Handler) {
	r.Route("/roles", func(ro chi.Router) {
		ro.Get("/", h.ListRoles)
		ro.Post("/", h.CreateRole)
		ro.Get("/{id}", h.GetRole)
		ro.Patch("/{id}", h.UpdateRole)
		ro.Delete("/{id}", h.DeleteRole)
	})
	r.Route("/employees", func(e chi.Router) {
		e.Get("/", h.ListEmployees)
		e.Post("/", h.CreateEmployee)
		e.Get("/{id}", h.GetEmployee)
		e.Patch("/{id}", h.UpdateEmployee)
		e.Delete("/{id}", h.DeactivateEmployee)
	})
}

// mountOperations serves the booking desk and walk-in floor shared by
// tenants and staff. Visibility is enforced by the services.
func mountOperations(r chi.Router, b *bookings.Handler, w *walkin.Handler, staffView bool) {
	r.Route("/bookings", func(br chi.Router) {
		br.Get("/", b.List)
		br.Route("/{id}", func(one chi.Router) {
			one.Get("/", b.Get)
			one.Get("/history", b.History)
			one.Get("/payment-status", b.PaymentStatus)
			one.Post("/cancel", b.Cancel)
			one.Post("/confirm", b.Confirm)
			one.Post("/start", b.Start)
			one.Post("/complete", b.Complete)
			one.Post("/no-show", b.NoShow)
		})
	})
	r.Route("/walkins", func(wr chi.Router) {
		wr.Post("/", w.Register)
		wr.Get("/", w.List)
		wr.Route("/{id}", func(one chi.Router) {
			one.Get("/", w.Get)
			one.Patch("/status", w.SetStatus)
			one.Post("/tasks", w.AddTask)
			one.Post("/payments/cash", w.RecordCash)
			one.Post("/payments/mpesa", w.InitiateMpesa)
		})
	})
	r.Get("/walkin-payments/{id}", w.PaymentStatus)
	r.Route("/tasks", func(tr chi.Router) {
		tr.Get("/", w.ListTasks)
		if staffView {
			tr.Get("/mine", w.MyTasks)
		}
		tr.Patch("/{id}", w.UpdateTask)
		tr.Post("/{id}/status", w.TransitionTask)
	})
}

const healthTimeout = 2 * time.Second

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		respond.JSON(w, status, map[string]any{"status": state, "dependencies": deps})
	}
}
