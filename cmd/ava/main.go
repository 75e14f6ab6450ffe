package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/ai"
	"github.com/lucav88/ava/internal/config"
	"github.com/lucav88/ava/internal/crawl"
	"github.com/lucav88/ava/internal/httpapi"
	"github.com/lucav88/ava/internal/media"
	"github.com/lucav88/ava/internal/observability"
	"github.com/lucav88/ava/internal/orchestrator"
	"github.com/lucav88/ava/internal/store"
	"github.com/lucav88/ava/internal/videogen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config error")
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer db.Close()

	personas := store.NewPersonaCache(db, cfg.PersonaCacheTTL)
	if len(personas.Personas(ctx)) == 0 {
		logger.Warn().Msg("persona table is empty, chat turns will fail until personas are seeded")
	}

	mediaStore, err := media.NewStore(ctx, cfg.MediaBucket)
	if err != nil {
		logger.Fatal().Err(err).Msg("media store init failed")
	}
	defer mediaStore.Close()

	aiClient := ai.NewClient(ai.Config{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		ChatModel: cfg.ChatModel,
		TTSModel:  cfg.TTSModel,
		STTModel:  cfg.STTModel,
	})

	crawler := crawl.NewClient(crawl.Config{
		BaseURL:   cfg.DiscoveryBaseURL,
		APIKey:    cfg.DiscoveryAPIKey,
		DatasetID: cfg.DiscoveryDatasetID,
		OnResult: func(result string) {
			metrics.CrawlFetches.WithLabelValues(result).Inc()
		},
	}, logger.With().Str("component", "crawl").Logger())

	var video orchestrator.VideoRenderer
	if cfg.VideoEngineURL != "" {
		engine := videogen.NewClient(cfg.VideoEngineURL, logger.With().Str("component", "videogen").Logger())
		video = orchestrator.NewTalkingHeadRenderer(engine, mediaStore, cfg.VideoJobTimeout, logger.With().Str("component", "video").Logger())
	} else {
		logger.Info().Msg("VIDEO_ENGINE_URL not set, video replies disabled")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Personas:    personas,
		Chats:       db,
		AI:          aiClient,
		Crawl:       crawler,
		Media:       mediaStore,
		Video:       video,
		Metrics:     metrics,
		Logger:      logger.With().Str("component", "orchestrator").Logger(),
		MediaURLTTL: cfg.MediaURLTTL,
	})

	api := httpapi.New(cfg, orch, personas, db, db, mediaStore, metrics, logger.With().Str("component", "httpapi").Logger())
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
