package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llmgate/internal/config"
	"llmgate/internal/gateway"
	"llmgate/internal/httpapi"
	"llmgate/internal/metrics"
	"llmgate/internal/settings"
	"llmgate/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("driver", cfg.DB.Driver).
		Str("listen_addr", cfg.HTTP.ListenAddr).
		Msg("starting llmgate")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.DB.Driver == "sqlite" || cfg.DB.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.DB.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatal().Err(err).Msg("failed to create database directory")
			}
		}
	}

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, cfg.DB.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	if cfg.Legacy.LogPath != "" {
		imported, skipped, err := store.ImportLegacy(ctx, cfg.Legacy.LogPath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Legacy.LogPath).Msg("legacy log import failed")
		} else if imported > 0 || skipped > 0 {
			log.Info().
				Int("imported", imported).
				Int("skipped", skipped).
				Str("path", cfg.Legacy.LogPath).
				Msg("legacy logs imported")
		}
	}

	settingsManager := settings.NewManager(cfg.Settings.Path, log.Logger)
	if err := settingsManager.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	m := metrics.Global()
	gw := gateway.New(gateway.Config{
		Store:      store,
		Settings:   settingsManager,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Logger:     log.Logger,
		Metrics:    m,
	})
	api := httpapi.New(httpapi.Config{
		Gateway:     gw,
		Store:       store,
		Settings:    settingsManager,
		Logger:      log.Logger,
		Metrics:     m,
		HealthPath:  cfg.HTTP.HealthPath,
		MetricsPath: cfg.HTTP.MetricsPath,
		CORSOrigin:  cfg.HTTP.CORSOrigin,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
