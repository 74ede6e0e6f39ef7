package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"aistudio/internal/adapter/repo"
	"aistudio/internal/agents"
	"aistudio/internal/domain"
	httpapi "aistudio/internal/http"
	"aistudio/internal/http/handlers"
	"aistudio/internal/infra"
	"aistudio/internal/infra/geoip"
	"aistudio/internal/llm"
	"aistudio/internal/moderation"
	"aistudio/internal/orchestrator"
	"aistudio/internal/provider"
	"aistudio/internal/qa"
	"aistudio/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, locale falls back to default")
	}
	if closer, ok := resolver.(io.Closer); ok {
		defer closer.Close()
	}

	throttles := map[domain.ProviderKind]*provider.Throttle{
		domain.ProviderKindVideo: provider.NewThrottle(cfg.VideoConcurrency),
		domain.ProviderKindImage: provider.NewThrottle(cfg.ImageConcurrency),
		domain.ProviderKindText:  provider.NewThrottle(cfg.TextConcurrency),
	}

	videoBackend, err := provider.NewOpenAIVideoBackend(provider.OpenAIVideoOptions{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIVideoModel,
		Seconds: cfg.VideoSeconds,
		Size:    cfg.VideoSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("video backend init failed")
	}
	imageBackend, err := newImageBackend(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("image backend init failed")
	}
	gateway := provider.NewRegistry(logger, throttles, videoBackend, imageBackend)

	refiner, err := llm.NewClient(llm.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.OpenAIChatModel,
		Throttle: throttles[domain.ProviderKindText],
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("llm client init failed")
	}
	gate, err := moderation.NewClient(moderation.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Throttle: throttles[domain.ProviderKindText],
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("moderation client init failed")
	}

	pipeline := agents.New(refiner, logger)
	evaluator := qa.NewEvaluator(refiner, qa.DefaultConfig(cfg.QAThreshold), logger)
	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("artifact store init failed")
	}
	jobRepo := repo.NewJobRepository(dbpool)

	orch := orchestrator.New(pipeline, gateway, gate, evaluator, store, refiner, jobRepo, orchestrator.Config{
		PollInterval:    cfg.PollInterval,
		PollMaxDuration: cfg.PollMaxDuration,
		MaxAttempts:     cfg.MaxAttempts,
		MaxQAIterations: cfg.MaxQAIterations,
	}, logger)
	defer orch.Close()

	app := handlers.NewApp(orch, jobRepo, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		StaticDir:       cfg.StoragePath,
		LocaleLookup: func(ip string) string {
			return geoip.LocaleForIP(resolver, ip, cfg.DefaultLocale)
		},
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newImageBackend(cfg *infra.Config) (provider.Backend, error) {
	if cfg.ImageProvider == "replicate" {
		return provider.NewReplicateImageBackend(provider.ReplicateOptions{
			APIToken: cfg.ReplicateAPIToken,
			Version:  cfg.ReplicateVersion,
		})
	}
	return provider.NewFalImageBackend(provider.FalOptions{
		APIKey:  cfg.FalAPIKey,
		BaseURL: cfg.FalBaseURL,
	})
}
