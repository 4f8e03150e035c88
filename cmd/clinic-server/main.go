package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/idempotency"
	"github.com/clinic/clinic/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations from: %s\n", dir)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(cmd, cfg))
			statuses, err := migrator.Status(ctx)
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
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

// repositories groups the storage backends behind the scheduling services.
type repositories struct {
	specialties  scheduling.SpecialtyRepository
	doctors      scheduling.DoctorRepository
	schedules    scheduling.ScheduleRepository
	appointments scheduling.AppointmentRepository
}

func postgresRepositories(pool *pgxpool.Pool) repositories {
	return repositories{
		specialties:  scheduling.NewSpecialtyRepoPG(pool),
		doctors:      scheduling.NewDoctorRepoPG(pool),
		schedules:    scheduling.NewScheduleRepoPG(pool),
		appointments: scheduling.NewAppointmentRepoPG(pool),
	}
}

func memoryRepositories(store *scheduling.MemoryStore) repositories {
	return repositories{
		specialties:  store.Specialties(),
		doctors:      store.Doctors(),
		schedules:    store.Schedules(),
		appointments: store.Appointments(),
	}
}

// serverDeps carries everything newServer wires into the HTTP surface.
// Pinger and Idempotency are optional.
type serverDeps struct {
	Repos       repositories
	Location    *time.Location
	Registry    *prometheus.Registry
	Pinger      db.Pinger
	Idempotency scheduling.IdempotencyStore
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load clinic time zone")
	}

	ctx := context.Background()
	deps := serverDeps{Location: loc}

	// Storage
	switch cfg.Store {
	case config.StoreMemory:
		deps.Repos = memoryRepositories(scheduling.NewMemoryStore())
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		deps.Repos = postgresRepositories(pool)
		deps.Pinger = pool
	}

	// Idempotency keys
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis ping failed; idempotent requests will return 503 until it recovers")
		}
		deps.Idempotency = idempotency.NewStore(client, cfg.IdempotencyTTL)
		logger.Info().Dur("ttl", cfg.IdempotencyTTL).Msg("idempotency keys enabled")
	}

	// Metrics
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e := newServer(cfg, logger, deps)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Str("tz", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", scheduling.IdempotencyKeyHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	}

	// Operational endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Pinger != nil {
		e.GET("/health/db", db.HealthHandler(deps.Pinger))
	}
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// API
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rl), authMiddleware(cfg))

	var metrics *scheduling.Metrics
	if deps.Registry != nil {
		metrics = scheduling.NewMetrics(deps.Registry)
	}
	r := deps.Repos
	catalog := scheduling.NewCatalog(r.specialties, r.doctors, r.schedules, r.appointments)
	resolver := scheduling.NewResolver(r.specialties, r.doctors, r.schedules, r.appointments, deps.Location, metrics)
	booker := scheduling.NewBooker(resolver, r.appointments, logger, metrics)

	handler := scheduling.NewHandler(catalog, resolver, booker, logger)
	if deps.Idempotency != nil {
		handler.WithIdempotency(deps.Idempotency)
	}
	handler.RegisterRoutes(apiV1)

	return e
}

// authMiddleware validates tokens whenever a signing key or issuer is
// configured. Development without either lets every request in as admin.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.AuthSigningKey == "" && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}
