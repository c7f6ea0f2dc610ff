package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/impara/comicgen/internal/compose"
	"github.com/impara/comicgen/internal/http/handlers"
	"github.com/impara/comicgen/internal/http/httpapi"
	"github.com/impara/comicgen/internal/infra"
	"github.com/impara/comicgen/internal/orchestrator"
	"github.com/impara/comicgen/internal/providers/inference"
	"github.com/impara/comicgen/internal/store"
	"github.com/impara/comicgen/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure state store")
	}
	defer cleanup()

	assetStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure asset storage")
	}

	client, err := inference.NewClient(inference.Options{
		APIKey:         cfg.InferenceAPIKey,
		BaseURL:        cfg.InferenceBaseURL,
		CallbackURL:    cfg.CallbackURL(),
		RequestTimeout: cfg.InferenceTimeout,
		RetryCount:     cfg.SubmitRetries,
		RetryDelay:     cfg.SubmitRetryDelay,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure inference client")
	}
	if client.Synthetic() {
		logger.Warn().Msg("inference base url missing, using synthetic generation")
	}

	compositor := compose.New(compose.DefaultConfig(), assetStore, cfg.StorageBaseURL)
	orc := orchestrator.New(st, client, compositor, logger)

	app := handlers.NewApp(orc, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() {
		orc.SweepStalled(context.Background(), cfg.ItemTimeout)
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("invalid sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// newStore picks the state backend: PostgreSQL when DATABASE_URL is set,
// filesystem otherwise.
func newStore(ctx context.Context, cfg *infra.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		fs, err := store.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	pg, err := store.NewPGStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
