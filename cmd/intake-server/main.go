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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/intake/intake/internal/config"
	"github.com/intake/intake/internal/domain/conversation"
	"github.com/intake/intake/internal/domain/intake"
	"github.com/intake/intake/internal/platform/contextstore"
	"github.com/intake/intake/internal/platform/db"
	"github.com/intake/intake/internal/platform/llm"
	"github.com/intake/intake/internal/platform/middleware"
	"github.com/intake/intake/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Medical intake interview API server",
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
		Short: "Start the intake API server",
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
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

	ctx := context.Background()

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "intake-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	// Stores: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		pool        *pgxpool.Pool
		recordRepo  intake.RecordRepository
		messageRepo conversation.MessageRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		recordRepo = intake.NewRecordRepoPG(pool)
		messageRepo = conversation.NewMessageRepoPG(pool)
	} else {
		recordRepo = intake.NewMemoryRecordRepo()
		messageRepo = conversation.NewMemoryMessageRepo()
		logger.Warn().Msg("DATABASE_URL not set, records are kept in memory")
	}

	// LLM provider
	provider, err := llm.NewProvider(llm.Config{
		Provider:   cfg.LLMProvider,
		Model:      cfg.LLMModel,
		EmbedModel: cfg.EmbedModel,
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.GroqAPIKey,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure llm provider")
	}
	gen := intake.NewGenerator(provider, cfg.LLMModel)

	// Retrieval context store. The interview works without it, so a
	// failure to open the store only disables retrieval.
	var contexts intake.ContextProvider
	if !cfg.ContextDisabled {
		store, err := contextstore.New(cfg.ContextDBPath, cfg.EmbedDim, provider, logger)
		if err != nil {
			logger.Error().Err(err).Msg("context store unavailable, continuing without retrieval")
		} else {
			defer store.Close()
			contexts = store
			logger.Info().Str("path", cfg.ContextDBPath).Msg("context store ready")
		}
	}

	extractor := intake.NewExtractor(gen, intake.ExtractorConfig{
		Temperature: cfg.ExtractTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		MaxRetries:  cfg.LLMMaxRetries,
	}, logger)

	convSvc := conversation.NewService(messageRepo)

	intakeSvc := intake.NewService(recordRepo, extractor, gen, contexts, convSvc, tp,
		intake.ServiceConfig{
			ReplyTemperature: cfg.ReplyTemperature,
			MaxTokens:        cfg.LLMMaxTokens,
			MaxRetries:       cfg.LLMMaxRetries,
			ContextK:         cfg.ContextK,
		}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit("256K"))
	apiV1.Use(middleware.RateLimit(resolveRateLimit(cfg)))
	apiV1.Use(middleware.RequestTimeout(60 * time.Second))

	intakeHandler := intake.NewHandler(intakeSvc)
	intakeHandler.RegisterRoutes(apiV1)

	convHandler := conversation.NewHandler(convSvc)
	convHandler.RegisterRoutes(apiV1)

	// Health and metrics
	e.GET("/health", healthHandler)
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", tp.PrometheusHandler())

	// Export pool gauges on a fixed interval so they move without traffic.
	if pool != nil {
		stopStats := make(chan struct{})
		defer close(stopStats)
		go poolStatsPump(pool, tp, 15*time.Second, stopStats)
	}

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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}

func resolveRateLimit(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

func poolStatsPump(pool *pgxpool.Pool, tp *telemetry.TelemetryProvider, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stat := pool.Stat()
			tp.SetDBPoolStats(int64(stat.TotalConns()), int64(stat.IdleConns()), int64(stat.AcquiredConns()))
		case <-stop:
			return
		}
	}
}
