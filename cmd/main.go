package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"imgcompress/internal/engine"
	"imgcompress/internal/events"
	"imgcompress/internal/logger"
	"imgcompress/internal/models"
	"imgcompress/internal/server"
	"imgcompress/internal/session"
	"imgcompress/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	lg := logger.New(cfg.LogLevel, cfg.LogPretty)

	defaults, err := cfg.Defaults()
	if err != nil {
		lg.Fatal().Err(err).Msg("invalid default settings")
	}

	loader := engine.NewLoader(func(context.Context) (engine.Engine, error) {
		return engine.NewImagingEngine(), nil
	}, lg)
	loader.Preload(context.Background())

	blobs := storage.NewStorage()

	observers := events.Fanout{events.NewLogObserver(lg)}
	var sink *events.KafkaSink
	if cfg.KafkaBroker != "" {
		sink = events.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic, lg)
		observers = append(observers, sink)
	}

	sessions := session.NewManager(loader, blobs, defaults, lg,
		session.WithQuietPeriod(cfg.QuietPeriod()),
		session.WithEngineTimeout(cfg.EngineTimeout()),
		session.WithLimits(cfg.MaxWidthOrHeight, cfg.MaxSizeBytes()),
		session.WithObserver(observers),
	)

	srv := server.NewServer(cfg, sessions, blobs, loader, lg)

	go func() {
		if err := srv.Start(); err != nil {
			lg.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		lg.Error().Err(err).Msg("http shutdown failed")
	}
	sessions.Close()
	if sink != nil {
		if err := sink.Close(); err != nil {
			lg.Error().Err(err).Msg("failed to close kafka writer")
		}
	}
	st := blobs.Stats()
	lg.Info().Int("acquired", st.Acquired).Int("released", st.Released).Int("live", st.Live).Msg("shutdown complete")
}
