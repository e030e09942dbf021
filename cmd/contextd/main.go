package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/contextd/contextd/internal/config"
	"github.com/contextd/contextd/internal/contextmgr"
	"github.com/contextd/contextd/internal/embeddings"
	"github.com/contextd/contextd/internal/httpapi"
	"github.com/contextd/contextd/internal/logging"
	"github.com/contextd/contextd/internal/memory"
	"github.com/contextd/contextd/internal/observability"
	"github.com/contextd/contextd/internal/scoring"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	logging.Init(cfg.LogLevel, cfg.Pretty)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store := memory.NewStore(cfg.DatabaseURL, cfg.StoreTimeout)
	defer store.Close()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Warn().Msg("no database configured, archived context will not survive restarts")
	}

	var provider scoring.EmbeddingProvider
	if strings.TrimSpace(cfg.SbertURL) != "" {
		provider = embeddings.NewClient(cfg.SbertURL, cfg.EmbedTimeout)
	}
	scorer := scoring.NewStrategy(cfg.Scorer, provider, cfg.EmbeddingCacheSize)
	log.Info().Str("scorer", scorer.Name()).Msg("scoring strategy selected")

	repo := memory.NewStateRepository(store)
	orchestrator := contextmgr.New(contextmgr.Policy{
		ArchiveThreshold:    cfg.ArchiveThreshold,
		ArchivePercentage:   cfg.ArchivePercentage,
		RetrieveThreshold:   cfg.RetrieveThreshold,
		MinRelevanceScore:   cfg.MinRelevanceScore,
		RetrieveLimit:       cfg.RetrieveLimit,
		SummaryThreshold:    cfg.SummaryThreshold,
		SummaryLimit:        cfg.SummaryLimit,
		DefaultMaxWordCount: cfg.MaxWordCount,
	}, repo, store, scorer, metrics)

	hub := httpapi.NewEventHub()
	orchestrator.SetEventSink(hub.Publish)

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: httpapi.New(cfg, orchestrator, store, metrics, hub).Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("contextd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
