package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/openapi"
)

// withPool loads configuration, opens the pool and hands both to fn.
// dir overrides MIGRATIONS_DIR for the migrator when non-empty.
func withPool(ctx context.Context, dir string, fn func(context.Context, *config.Config, *pgxpool.Pool, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool, db.NewMigrator(pool, dir))
}

func newLogger(w io.Writer, env string) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// newSlotCache picks Redis when REDIS_URL is set, the in-process LRU when
// caching is enabled without it, and Noop otherwise. The returned func
// releases whatever was opened.
func newSlotCache(ctx context.Context, cfg *config.Config) (cache.SlotCache, func(), error) {
	if !cfg.SlotCacheEnabled {
		return cache.Noop{}, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return cache.NewLRU(cfg.SlotCacheSize, cfg.SlotCacheTTL), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedis(client, cfg.SlotCacheTTL), func() { _ = client.Close() }, nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	return rl
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.DevAuth() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// newRouter assembles the middleware chain and routes. tenant scopes every
// /api/v1 request to a hospital schema; health is served on /health/db.
func newRouter(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, h *scheduling.Handler, tenant echo.MiddlewareFunc, health echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Hospital-ID"},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	if cfg.MetricsEnabled {
		e.Use(m.Middleware())
		e.GET("/metrics", m.Handler())
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics", "/openapi.json"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if health != nil {
		e.GET("/health/db", health)
	}

	api := e.Group("/api/v1")
	api.Use(authMiddleware(cfg))
	api.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	if tenant != nil {
		api.Use(tenant)
	}
	h.RegisterRoutes(api)

	docs := openapi.NewGenerator(e, "HMS Scheduling API", apiVersion, "/api/v1")
	for _, r := range routeSummaries {
		docs.Describe(r.method, r.path, r.summary)
	}
	e.GET("/openapi.json", docs.Handler())

	return e
}

const apiVersion = "1.0.0"

var routeSummaries = []struct{ method, path, summary string }{
	{http.MethodGet, "/api/v1/doctors", "List doctors"},
	{http.MethodPost, "/api/v1/doctors", "Create a doctor"},
	{http.MethodGet, "/api/v1/doctors/:id", "Get a doctor"},
	{http.MethodGet, "/api/v1/doctors/:id/services", "List a doctor's services"},
	{http.MethodPost, "/api/v1/doctors/:id/services", "Add a service to a doctor"},
	{http.MethodPut, "/api/v1/doctors/:id/services/:serviceId", "Update one of a doctor's services"},
	{http.MethodDelete, "/api/v1/doctors/:id/services/:serviceId", "Remove one of a doctor's services"},
	{http.MethodGet, "/api/v1/doctors/:id/schedule", "Get a doctor's weekly schedule in a timezone"},
	{http.MethodPut, "/api/v1/doctors/:id/schedule", "Replace a doctor's weekly schedule"},
	{http.MethodGet, "/api/v1/doctors/:id/available-slots", "Available start times of a service on a date"},
	{http.MethodPost, "/api/v1/availability/local-view", "Render UTC rules as local weekday ranges"},
	{http.MethodPost, "/api/v1/availability/utc-rules", "Convert local weekday ranges to UTC rules"},
	{http.MethodGet, "/api/v1/patients", "Search patients by name, email or phone"},
	{http.MethodPost, "/api/v1/patients", "Register a patient"},
	{http.MethodGet, "/api/v1/patients/:id", "Get a patient"},
	{http.MethodGet, "/api/v1/bookings", "List bookings, newest first"},
	{http.MethodPost, "/api/v1/bookings", "Book a slot"},
	{http.MethodGet, "/api/v1/bookings/:id", "Get a booking"},
	{http.MethodPost, "/api/v1/bookings/:id/cancel", "Cancel a booking"},
	{http.MethodPatch, "/api/v1/bookings/:id/status", "Move a booking through its lifecycle"},
	{http.MethodGet, "/api/v1/calendar/appointments", "Bookings in a time range"},
	{http.MethodGet, "/api/v1/calendar/today", "Today's appointments"},
}

func runServer() error {
	logger := newLogger(os.Stdout, os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	m.WatchGauge("db_pool_acquired_conns", "Connections currently checked out of the pool",
		func() float64 { return float64(pool.Stat().AcquiredConns()) })
	m.WatchGauge("db_pool_total_conns", "Connections currently open in the pool",
		func() float64 { return float64(pool.Stat().TotalConns()) })

	slotCache, closeCache, err := newSlotCache(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to slot cache")
	}
	defer closeCache()

	opts := []scheduling.Option{
		scheduling.WithCache(slotCache),
		scheduling.WithMetrics(m),
		scheduling.WithLogger(logger),
	}

	var publisher *events.AMQPPublisher
	if cfg.AMQPURL != "" {
		publisher, err = events.DialPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		defer publisher.Close()
		opts = append(opts, scheduling.WithPublisher(publisher))
	}

	svc := scheduling.NewService(
		scheduling.NewDoctorRepoPG(pool),
		scheduling.NewServiceRepoPG(pool),
		scheduling.NewScheduleRepoPG(pool),
		scheduling.NewBookingRepoPG(pool),
		scheduling.NewPatientRepoPG(pool),
		opts...,
	)

	if cfg.AMQPURL != "" {
		listener, err := events.DialListener(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, svc.HandleEvent, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start event listener")
		}
		defer listener.Stop()
		go func() {
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event listener stopped")
			}
		}()
	}

	e := newRouter(cfg, logger, m, scheduling.NewHandler(svc),
		db.TenantMiddleware(pool, cfg.DefaultTenant), db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("dev_auth", cfg.DevAuth()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
