package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/saudeplus/tiss/internal/config"
	"github.com/saudeplus/tiss/internal/domain/batch"
	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/domain/convenio"
	"github.com/saudeplus/tiss/internal/domain/financial"
	"github.com/saudeplus/tiss/internal/domain/glosa"
	"github.com/saudeplus/tiss/internal/domain/retorno"
	"github.com/saudeplus/tiss/internal/domain/tissconfig"
	"github.com/saudeplus/tiss/internal/platform/auth"
	"github.com/saudeplus/tiss/internal/platform/db"
	"github.com/saudeplus/tiss/internal/platform/events"
	"github.com/saudeplus/tiss/internal/platform/middleware"
)

const (
	requestTimeout   = 30 * time.Second
	dispatchInterval = 10 * time.Second
	shutdownTimeout  = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tiss-server",
		Short: "TISS billing pipeline API server",
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
		Short: "Start the billing API server",
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
			if dir == "" {
				dir = cfg.MigrationsDir
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
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
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
			if dir == "" {
				dir = cfg.MigrationsDir
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event outbox
	outboxRepo := events.NewOutboxRepoPG(pool)
	emitter := events.NewEmitter(outboxRepo)

	// Domain services
	convenioSvc := convenio.NewService(convenio.NewRepoPG(pool), logger)
	configSvc := tissconfig.NewService(tissconfig.NewRepoPG(pool))

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		if db.TxFromContext(ctx) != nil {
			return fn(ctx)
		}
		return db.WithTx(ctx, pool, fn)
	}

	claimRepo := claim.NewRepoPG(pool)
	claimSvc := claim.NewService(claimRepo, convenioSvc, configSvc, emitter, inTx, logger)

	batchSvc := batch.NewService(batch.NewRepoPG(pool), claimRepo, claimSvc, convenioSvc, emitter, inTx, logger)

	glosaSvc := glosa.NewService(glosa.NewRepoPG(pool), emitter, inTx, logger)

	bridge := financial.NewBridge(
		financial.NewLedgerPG(pool),
		financial.NewPendingRepoPG(pool),
		logger,
		financial.WithTimeout(cfg.LedgerTimeout),
		financial.WithMaxRetries(cfg.LedgerMaxRetries),
	)

	retornoSvc := retorno.NewService(retorno.NewRepoPG(pool), claimSvc, glosaSvc, bridge, batchSvc, convenioSvc, emitter, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	convenio.NewHandler(convenioSvc).RegisterRoutes(apiV1)
	tissconfig.NewHandler(configSvc).RegisterRoutes(apiV1)
	claim.NewHandler(claimSvc).RegisterRoutes(apiV1)
	batch.NewHandler(batchSvc).RegisterRoutes(apiV1)
	glosa.NewHandler(glosaSvc).RegisterRoutes(apiV1)
	retorno.NewHandler(retornoSvc).RegisterRoutes(apiV1)
	financial.NewHandler(bridge).RegisterRoutes(apiV1)

	// Background workers
	if cfg.WebhookURL != "" {
		dispatcher := events.NewDispatcher(outboxRepo, []events.Endpoint{{
			URL:      cfg.WebhookURL,
			Secret:   cfg.WebhookSecret,
			Patterns: splitPatterns(cfg.WebhookEvents),
		}}, logger,
			events.WithMaxAttempts(cfg.WebhookMaxRetries),
			events.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}),
		)
		go dispatcher.Run(ctx, dispatchInterval)
		logger.Info().Str("url", cfg.WebhookURL).Msg("webhook dispatcher started")
	}
	go bridge.RunRetryLoop(ctx, cfg.RetryInterval)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// splitPatterns turns the comma-separated WEBHOOK_EVENTS value into
// dispatcher patterns.
func splitPatterns(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
