package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"labeller/api/internal/app"
	"labeller/api/internal/config"
	"labeller/api/internal/history"
	"labeller/api/internal/logging"
	"labeller/api/internal/metrics"
	"labeller/api/internal/search"
	"labeller/api/internal/store"
	"labeller/api/internal/taxonomy"
	"labeller/api/internal/tempids"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	cmd.Flags().StringVar(&cfg.DatabaseDriver, "driver", cfg.DatabaseDriver, "database driver (pgx or sqlite)")
	cmd.Flags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "database connection string")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.DatabaseDriver, store.MigrationsPath(cfg.MigrationsDir, cfg.DatabaseDriver)); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewSQLStore(db, cfg.DatabaseDriver)

	var editorOpts []taxonomy.Option
	var ledger *tempids.RedisLedger
	if strings.TrimSpace(cfg.RedisURL) != "" {
		ledger, err = tempids.NewRedisLedger(cfg.RedisURL, cfg.TempIDTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer ledger.Close()
		logger.Info("temp id replay ledger enabled", "ttl", cfg.TempIDTTL.String())
		editorOpts = append(editorOpts, taxonomy.WithLedger(ledger))
	}
	editor := taxonomy.NewEditor(dataStore, editorOpts...)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewSQL(dataStore))
	defer searchService.Close()

	var service *app.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		service = app.New(cfg, dataStore, editor, searchService, history.New(cfg.HistoryDir), metrics.New())
	} else {
		service = app.New(cfg, dataStore, editor, searchService, nil, metrics.New())
	}
	if ledger != nil {
		service.AddReadinessCheck("redis", ledger.Ping)
	}
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed", "error", err)
	}
	if !service.AuthEnabled() {
		logger.Warn("LABELLER_TOKEN_SECRET is empty, requests are not authenticated")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("labeller API listening", "addr", cfg.Addr, "driver", cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}
