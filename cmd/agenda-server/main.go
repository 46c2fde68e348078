package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/config"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/scheduling"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/auth"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/db"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/events"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/jobs"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/middleware"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/retry"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/validation"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "agenda-server",
		Short:         "Appointment scheduling API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(holdsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func holdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holds",
		Short: "Manage temporary slot holds",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reap",
		Short: "Delete expired holds once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg)
				store, closeStore, _, err := newHoldStore(ctx, cfg, pool)
				if err != nil {
					return err
				}
				defer closeStore()
				mgr := scheduling.NewHoldManager(store, scheduling.NewAppointmentRepoPG(pool), scheduling.WithHoldLogger(logger))
				n, err := mgr.Reap(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d expired hold(s).\n", n)
				return nil
			})
		},
	})

	return cmd
}

// withPool loads config, opens the database and runs fn.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.Default()
	if cfg.RetryAttempts > 0 {
		p.Attempts = cfg.RetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	if cfg.RetryBackoff == config.BackoffExponential {
		p.Backoff = retry.Exponential{Base: delay, Max: 8 * delay}
	} else {
		p.Backoff = retry.Fixed(delay)
	}
	return p
}

// newHoldStore picks the configured store. The returned check is nil when
// the store has no dependency of its own to report on.
func newHoldStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (scheduling.HoldStore, func() error, db.Check, error) {
	noop := func() error { return nil }
	switch cfg.HoldStore {
	case config.HoldStoreMemory:
		return scheduling.NewMemoryHoldStore(), noop, nil, nil
	case config.HoldStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return scheduling.NewRedisHoldStore(client), client.Close, check, nil
	default:
		return scheduling.NewHoldStorePG(pool), noop, nil, nil
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// newEcho builds the server with global middleware and mounts every route
// registrar under /api/v1 behind authentication.
func newEcho(cfg *config.Config, logger zerolog.Logger, registrars ...func(*echo.Group)) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New(workinghours.ValidationRules()...)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		middleware.RateLimit(middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}),
	)
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	for _, r := range registrars {
		r(apiV1)
	}
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	healthChecks := map[string]db.Check{}

	store, closeStore, storeCheck, err := newHoldStore(ctx, cfg, pool)
	if err != nil {
		logger.Error().Err(err).Str("hold_store", cfg.HoldStore).Msg("failed to open hold store")
		return err
	}
	defer closeStore()
	if storeCheck != nil {
		healthChecks["redis"] = storeCheck
	}
	logger.Info().Str("hold_store", cfg.HoldStore).Msg("hold store ready")

	// Events
	var publisher scheduling.EventPublisher = scheduling.NopPublisher{}
	var broker *events.Client
	if cfg.AMQPURL != "" {
		broker, err = events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to broker")
			return err
		}
		defer broker.Close()
		publisher = scheduling.NewBrokerPublisher(broker)
		healthChecks["amqp"] = broker.Check
	}

	// Domain
	appts := scheduling.NewAppointmentRepoPG(pool)
	templates := workinghours.NewRepoPG(pool)

	holds := scheduling.NewHoldManager(store, appts,
		scheduling.WithHoldTTL(cfg.HoldTTL),
		scheduling.WithHoldMaxLifetime(cfg.HoldMaxLifetime),
		scheduling.WithHoldEvents(publisher),
		scheduling.WithHoldLogger(logger),
	)
	facade := scheduling.NewFacade(templates, appts, holds,
		scheduling.WithRetryPolicy(retryPolicy(cfg)),
		scheduling.WithCache(cfg.CacheSize, cfg.CacheTTL),
		scheduling.WithTimezone(loc),
		scheduling.WithDatesHorizon(cfg.DatesHorizonDays, scheduling.MaxDatesHorizonDays),
		scheduling.WithFacadeLogger(logger),
	)
	booking := scheduling.NewBookingService(appts,
		scheduling.WithBookingTx(db.NewTxRunner(pool)),
		scheduling.WithDurationSource(templates),
		scheduling.WithBookingEvents(publisher),
		scheduling.WithBookingLogger(logger),
	)
	waitlist := scheduling.NewWaitlistService(scheduling.NewWaitlistRepoPG(pool), publisher, logger,
		scheduling.WithWaitlistTimezone(loc))

	hoursSvc := workinghours.NewService(templates, logger,
		facade.Invalidate,
		scheduling.TemplateChangeNotifier(publisher, logger),
	)

	if broker != nil {
		if err := broker.Subscribe(ctx, "", "#", scheduling.InvalidationHandler(facade, logger)); err != nil {
			logger.Error().Err(err).Msg("failed to start invalidation consumer")
			return err
		}
	}

	// Jobs
	scheduler := jobs.NewScheduler(logger, jobs.WithJobTimeout(time.Minute), jobs.WithLocation(loc))
	if err := scheduler.Add("holds.reap", cfg.ReaperSchedule, func(ctx context.Context) error {
		_, err := holds.Reap(ctx)
		return err
	}); err != nil {
		return err
	}
	scheduler.Start()

	e := newEcho(cfg, logger,
		scheduling.NewHandler(facade, holds, booking, waitlist, logger).RegisterRoutes,
		workinghours.NewHandler(hoursSvc, logger).RegisterRoutes,
	)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks))

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs did not stop in time")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
