// Package bootstrap wires configuration, storage and services into a
// runnable API.
package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/carwash-platform/internal/analytics"
	"github.com/wolfman30/carwash-platform/internal/api/router"
	"github.com/wolfman30/carwash-platform/internal/archive"
	"github.com/wolfman30/carwash-platform/internal/auth"
	"github.com/wolfman30/carwash-platform/internal/bookings"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	appconfig "github.com/wolfman30/carwash-platform/internal/config"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/internal/events"
	httpmiddleware "github.com/wolfman30/carwash-platform/internal/http/middleware"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/reconcile"
	"github.com/wolfman30/carwash-platform/internal/staff"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/internal/walkin"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// Infra carries the external clients the API can run with. Every field is
// optional; missing pieces fall back to in-process implementations.
type Infra struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Gateway mpesa.Gateway
	S3      archive.S3API
	SQS     events.SQSAPI
}

// App is the assembled API.
type App struct {
	Handler   http.Handler
	Registry  *prometheus.Registry
	Reconcile *reconcile.Reconciler

	logger    *logging.Logger
	deliverer *events.Deliverer
	limiter   *httpmiddleware.RateLimiter
	closers   []func()
	wg        sync.WaitGroup
}

// New connects to everything cfg names and assembles the App.
func New(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var infra Infra
	var closers []func()

	pool, err := BuildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		infra.Pool = pool
		closers = append(closers, pool.Close)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
	}

	if infra.Redis = BuildRedisClient(ctx, cfg, logger, true); infra.Redis != nil {
		client := infra.Redis
		closers = append(closers, func() { _ = client.Close() })
	}

	if cfg.CallbackArchiveBucket != "" || cfg.EventsQueueURL != "" {
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		if cfg.CallbackArchiveBucket != "" {
			infra.S3 = NewS3Client(awsCfg, cfg)
		}
		if cfg.EventsQueueURL != "" {
			infra.SQS = NewSQSClient(awsCfg, cfg)
		}
	}

	registry := newRegistry()
	if cfg.Mpesa.ConsumerKey != "" && cfg.Mpesa.ConsumerSecret != "" {
		var cache mpesa.TokenCache = mpesa.NewMemoryTokenCache()
		if infra.Redis != nil {
			cache = mpesa.NewRedisTokenCache(infra.Redis, logger)
		}
		infra.Gateway = mpesa.NewClient(mpesa.Config{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			PassKey:        cfg.Mpesa.PassKey,
			Timeout:        cfg.Mpesa.Timeout,
		}, logger,
			mpesa.WithTokenCache(cache),
			mpesa.WithMetrics(metrics.NewGatewayMetrics(registry)),
		)
	} else {
		logger.Warn("M-Pesa credentials not set; payment prompts are disabled")
	}

	app, err := assemble(cfg, logger, infra, registry)
	if err != nil {
		runClosers(closers)
		return nil, err
	}
	app.closers = append(closers, app.closers...)
	return app, nil
}

// Assemble builds an App over already constructed infrastructure.
func Assemble(cfg *appconfig.Config, logger *logging.Logger, infra Infra) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	return assemble(cfg, logger, infra, newRegistry())
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type stores struct {
	tx        database.TxRunner
	catalog   catalog.Store
	bookings  bookings.Store
	walkins   walkin.Store
	payments  payments.Store
	accounts  auth.AccountStore
	staff     staff.Store
	outbox    events.Outbox
	processed events.ProcessedStore
	sqlDB     *sql.DB
}

func buildStores(pool *pgxpool.Pool) stores {
	if pool == nil {
		return stores{
			tx:        database.NewMemoryRunner(),
			catalog:   catalog.NewMemoryStore(),
			bookings:  bookings.NewMemoryStore(),
			walkins:   walkin.NewMemoryStore(),
			payments:  payments.NewMemoryStore(),
			accounts:  auth.NewMemoryAccountStore(),
			staff:     staff.NewMemoryStore(),
			outbox:    events.NewMemoryOutbox(),
			processed: events.NewMemoryProcessedStore(),
		}
	}
	return stores{
		tx:        database.NewPgRunner(pool),
		catalog:   catalog.NewPgStore(pool),
		bookings:  bookings.NewPgStore(pool),
		walkins:   walkin.NewPgStore(pool),
		payments:  payments.NewPgStore(pool),
		accounts:  auth.NewPgAccountStore(pool),
		staff:     staff.NewPgStore(pool),
		outbox:    events.NewOutboxStore(pool),
		processed: events.NewPgProcessedStore(pool),
		sqlDB:     stdlib.OpenDBFromPool(pool),
	}
}

func assemble(cfg *appconfig.Config, logger *logging.Logger, infra Infra, registry *prometheus.Registry) (*App, error) {
	secrets, err := jwtSecrets(cfg, logger)
	if err != nil {
		return nil, err
	}

	st := buildStores(infra.Pool)
	app := &App{Registry: registry, logger: logger}
	if st.sqlDB != nil {
		db := st.sqlDB
		app.closers = append(app.closers, func() { _ = db.Close() })
	}

	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if infra.Redis != nil {
		revoker = auth.NewRedisRevoker(infra.Redis)
	}
	issuer := auth.NewIssuer(secrets, cfg.TokenTTL)
	authn := auth.NewAuthenticator(issuer, revoker, logger)
	accounts := auth.NewService(st.accounts, issuer, logger)

	catalogManager := catalog.NewManager(st.catalog, st.tx, logger)
	staffService := staff.NewService(st.staff, catalogManager, issuer, logger)

	velocity := payments.NewVelocityChecker(infra.Redis, payments.VelocityConfig{
		MaxPushesPerPhone: cfg.PaymentVelocityMax,
		Window:            cfg.PaymentVelocityWindow,
	}, logger)

	reconciler := reconcile.New(reconcile.Deps{
		Tx:        st.tx,
		Payments:  st.payments,
		Bookings:  st.bookings,
		WalkIns:   st.walkins,
		Processed: st.processed,
		Outbox:    st.outbox,
		Velocity:  velocity,
		Metrics:   metrics.NewCallbackMetrics(registry),
		Logger:    logger,
	})
	app.Reconcile = reconciler

	bookingService := bookings.NewService(bookings.Deps{
		Store:       st.bookings,
		Tx:          st.tx,
		Catalog:     catalogManager,
		Customers:   accounts,
		Gateway:     infra.Gateway,
		Payments:    st.payments,
		Velocity:    velocity,
		Applier:     reconciler,
		Metrics:     metrics.NewBookingMetrics(registry),
		Logger:      logger,
		CallbackURL: cfg.Mpesa.CallbackURL,
	})
	walkinService := walkin.NewService(walkin.Deps{
		Store:       st.walkins,
		Tx:          st.tx,
		Catalog:     catalogManager,
		Staff:       staffService,
		Gateway:     infra.Gateway,
		Payments:    st.payments,
		Velocity:    velocity,
		Applier:     reconciler,
		Logger:      logger,
		CallbackURL: cfg.Mpesa.WalkInCallbackURL,
	})

	var delivery events.DeliveryHandler = events.NewLogHandler(logger)
	if infra.SQS != nil && cfg.EventsQueueURL != "" {
		delivery = events.NewSQSHandler(infra.SQS, cfg.EventsQueueURL)
	}
	app.deliverer = events.NewDeliverer(st.outbox, delivery, logger)

	var archiveStore *archive.Store
	if infra.S3 != nil {
		archiveStore = archive.NewStore(infra.S3, cfg.CallbackArchiveBucket, logger)
	}

	if cfg.RateLimitPerSecond > 0 {
		app.limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		Authenticator:      authn,
		Auth:               auth.NewHandler(accounts, authn, logger),
		Staff:              staff.NewHandler(staffService, logger),
		Catalog:            catalog.NewHandler(catalogManager, logger),
		Bookings:           bookings.NewHandler(bookingService, logger),
		WalkIns:            walkin.NewHandler(walkinService, logger),
		Callbacks:          reconcile.NewHandler(reconciler, archiveStore, logger),
		Analytics:          analytics.NewHandler(analytics.NewReporter(st.sqlDB, logger), logger),
		HTTPMetrics:        metrics.NewHTTPMetrics(registry),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		HealthChecks:       healthChecks(infra),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        app.limiter,
	})
	app.Handler = otelhttp.NewHandler(handler, "carwash-api")
	return app, nil
}

func healthChecks(infra Infra) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if infra.Pool != nil {
		checks["postgres"] = infra.Pool.Ping
	}
	if infra.Redis != nil {
		client := infra.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// jwtSecrets falls back to per-process random keys outside production, so
// tokens do not survive a restart.
func jwtSecrets(cfg *appconfig.Config, logger *logging.Logger) (auth.Secrets, error) {
	secrets := auth.Secrets{
		tenancy.ActorCustomer: cfg.CustomerJWTSecret,
		tenancy.ActorStaff:    cfg.StaffJWTSecret,
		tenancy.ActorTenant:   cfg.TenantJWTSecret,
	}
	for actor, secret := range secrets {
		if strings.TrimSpace(secret) != "" {
			continue
		}
		if cfg.IsProduction() {
			return nil, fmt.Errorf("bootstrap: %s jwt secret is required", actor)
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("bootstrap: generate %s secret: %w", actor, err)
		}
		secrets[actor] = hex.EncodeToString(buf)
		logger.Warn("jwt secret not configured; generated an ephemeral one", "actor", actor)
	}
	return secrets, nil
}

// Start launches the outbox deliverer and limiter sweeps until ctx ends.
func (a *App) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.deliverer.Start(ctx)
	}()
	if a.limiter != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.limiter.Run(ctx)
		}()
	}
}

// Close waits for background loops (their context must already be
// cancelled) and releases connections.
func (a *App) Close() {
	a.wg.Wait()
	runClosers(a.closers)
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
