package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pysugar/hubspot-bridge/internal/api"
	"github.com/pysugar/hubspot-bridge/internal/bridge"
	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/version"
	"github.com/rs/zerolog/log"
)

const purgeInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to bridge.yaml")
	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	svc := bridge.New(cfg, database)
	router := api.NewRouter(api.NewHandler(svc, database, cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go purgeLoop(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Str("version", version.String()).Msg("🚀 HubSpot bridge starting")
	log.Info().Msgf("📊 Admin API: http://%s/api", cfg.ListenAddr)
	log.Info().Msgf("🔌 Entries API: http://%s/v1/entries", cfg.ListenAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("👋 Server stopped")
}

// purgeLoop drops expired transients and locks.
func purgeLoop(ctx context.Context, svc *bridge.Service) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.Store().PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Purge of expired entries failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("🧹 Expired entries purged")
			}
		}
	}
}
