package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/ledger/internal/config"
	"github.com/hms/ledger/internal/domain/admission"
	"github.com/hms/ledger/internal/domain/ambulancetrip"
	"github.com/hms/ledger/internal/domain/billing"
	"github.com/hms/ledger/internal/domain/resource"
	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/lock"
	"github.com/hms/ledger/internal/platform/middleware"
	"github.com/hms/ledger/internal/platform/telemetry"
	"github.com/hms/ledger/internal/platform/validate"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-ledger",
		Short: "Hospital billing and resource allocation ledger",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sequenceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sequenceCmd formats and parses document numbers offline, which helps when
// reconciling numbers against the counter table.
func sequenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Inspect document numbers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "format <kind> <YYYY-MM-DD> <n>",
		Short: "Print the document number for a kind, day and counter value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid day %q: %w", args[1], err)
			}
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid counter %q: %w", args[2], err)
			}
			num, err := sequence.Format(sequence.Kind(args[0]), day, n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), num)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "parse <number>",
		Short: "Split a document number into kind, day and counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, day, n, err := sequence.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kind=%s day=%s n=%d\n", kind, day.Format("2006-01-02"), n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "kinds",
		Short: "List document kinds and their prefixes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range sequence.Kinds() {
				p, _ := sequence.Prefix(k)
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", k, p)
			}
			return nil
		},
	})

	return cmd
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "hms-ledger").Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// services groups everything the HTTP layer is built from.
type services struct {
	alloc      *resource.Allocator
	ledger     *billing.Ledger
	payments   *billing.PaymentProcessor
	admissions *admission.Service
	trips      *ambulancetrip.Service
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(metrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	return e
}

func registerRoutes(e *echo.Echo, svc services, pinger db.Pinger, gatherer prometheus.Gatherer) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", telemetry.Handler(gatherer))

	api := e.Group("/api/v1")
	resource.NewHandler(svc.alloc).RegisterRoutes(api)
	billing.NewHandler(svc.ledger, svc.payments).RegisterRoutes(api)
	admission.NewHandler(svc.admissions).RegisterRoutes(api)
	ambulancetrip.NewHandler(svc.trips).RegisterRoutes(api)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()

	// Tracing
	tp, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		ServiceName:  "hms-ledger",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Redis: distributed billing lock and payment summary cache
	var locker lock.Locker = lock.NewLocalLocker()
	var summaries billing.SummaryCache = billing.NoopSummaryCache{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		locker = lock.NewRedisLocker(rdb, cfg.BillingLockTTL, logger)
		summaries = billing.NewRedisSummaryCache(rdb, cfg.SummaryCacheTTL, logger)
		logger.Info().Msg("connected to redis")
	}

	// Events
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}

	// Domain
	numbers := sequence.NewGenerator(sequence.NewCounterPG(pool), loc, metrics)
	alloc := resource.NewAllocator(resource.NewRepoPG(pool), tx, metrics, publisher, logger)
	ledger := billing.NewLedger(billing.NewInvoiceRepoPG(pool), tx, numbers, locker, metrics, publisher, logger)
	payments := billing.NewPaymentProcessor(billing.NewInvoiceRepoPG(pool), billing.NewPaymentRepoPG(pool),
		tx, numbers, summaries, metrics, publisher, logger)
	admissions := admission.NewService(admission.NewRepoPG(pool), alloc, tx, numbers, metrics, publisher, logger)
	trips := ambulancetrip.NewService(ambulancetrip.NewRepoPG(pool), alloc, tx, numbers, metrics, publisher, logger)
	ledger.RegisterChargeSource(admissions)
	ledger.RegisterChargeSource(trips)

	e := newEcho(cfg, logger, metrics)
	registerRoutes(e, services{
		alloc:      alloc,
		ledger:     ledger,
		payments:   payments,
		admissions: admissions,
		trips:      trips,
	}, pool, reg)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
