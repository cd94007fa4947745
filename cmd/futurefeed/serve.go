package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/raffaelramalhorosa/futurefeed/internal/api"
	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
	"github.com/raffaelramalhorosa/futurefeed/internal/config"
	"github.com/raffaelramalhorosa/futurefeed/internal/fetcher"
	"github.com/raffaelramalhorosa/futurefeed/internal/logging"
	"github.com/raffaelramalhorosa/futurefeed/internal/metrics"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/presets"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
	"github.com/raffaelramalhorosa/futurefeed/internal/store/sqlstore"
)

func newServeCmd(configPath *string) *cobra.Command {
	var overrides config.Overrides

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background bot fetcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := overrides.Apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	overrides.Bind(cmd.Flags())
	return cmd
}

func serve(parent context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// --- Dependencies ---
	repo, closeRepo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg := metrics.New()
	composeOpts := []compose.Option{compose.WithObserver(reg), compose.WithLogger(logger)}
	if cfg.Compose.Seed != 0 {
		composeOpts = append(composeOpts, compose.WithSeed(cfg.Compose.Seed))
	}
	svc := presets.New(repo, compose.New(composeOpts...), logger)
	srv := api.New(repo, svc, reg, logger)

	if err := seedBots(ctx, repo, cfg.Bots); err != nil {
		logger.Warn().Err(err).Msg("seeding bots")
	}

	// --- Background fetcher ---
	if cfg.Fetcher.Enabled {
		fetch := fetcher.New(repo, fetcher.Options{
			Interval:         cfg.Fetcher.IntervalDuration(),
			Timeout:          cfg.Fetcher.TimeoutDuration(),
			RatePerSecond:    cfg.Fetcher.RatePerSecond,
			Burst:            cfg.Fetcher.Burst,
			FailureThreshold: cfg.Fetcher.FailureThreshold,
			BreakerTimeout:   cfg.Fetcher.BreakerTimeoutDuration(),
		}, reg, logger)
		go fetch.Start(ctx)
	}

	// --- HTTP server ---
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		IdleTimeout:  cfg.Server.IdleTimeoutDuration(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("storage", cfg.Storage.Driver).Msg("server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down...")

	cancel() // stop the fetcher

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	logger.Info().Msg("server stopped")
	return nil
}

func openRepository(ctx context.Context, cfg config.Storage) (store.Repository, func(), error) {
	if cfg.Driver == config.DriverMemory {
		return store.New(), func() {}, nil
	}

	dsn := cfg.ResolvedDSN()
	if cfg.Driver == config.DriverSQLite && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	db, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Driver,
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetimeDuration(),
		QueryTimeout:    cfg.QueryTimeoutDuration(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

// seedBots registers the configured bots whose feed URL is not known yet.
func seedBots(ctx context.Context, repo store.Repository, bots []config.Bot) error {
	existing, err := repo.ListBots(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, b := range existing {
		known[b.FeedURL] = true
	}

	for _, b := range bots {
		if known[b.FeedURL] {
			continue
		}
		bot := models.Bot{Name: b.Name, FeedURL: b.FeedURL}
		if b.Topic != "" {
			topic, err := repo.CreateTopic(ctx, b.Topic)
			if err != nil {
				return err
			}
			bot.TopicID = &topic.ID
		}
		if _, err := repo.CreateBot(ctx, bot); err != nil {
			return err
		}
		known[b.FeedURL] = true
	}
	return nil
}
