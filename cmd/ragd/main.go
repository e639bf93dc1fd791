package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/chat"
	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
	logpkg "github.com/kailas-cloud/ragd/internal/logger"
	"github.com/kailas-cloud/ragd/internal/metrics"
	memoryStore "github.com/kailas-cloud/ragd/internal/provider/memory"
	openaiProvider "github.com/kailas-cloud/ragd/internal/provider/openai"
	redisStore "github.com/kailas-cloud/ragd/internal/provider/redis"
	"github.com/kailas-cloud/ragd/internal/ratelimit"
	"github.com/kailas-cloud/ragd/internal/registry"
	"github.com/kailas-cloud/ragd/internal/retrieval"
	chiTransport "github.com/kailas-cloud/ragd/internal/transport/chi"
	healthuc "github.com/kailas-cloud/ragd/internal/usecase/health"
	"github.com/kailas-cloud/ragd/internal/version"
)

const redisReadyTimeout = 5 * time.Second

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragd API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
	)

	// Register provider metrics explicitly (no init())
	metrics.RegisterProviderMetrics()

	// Provider registry — composition root
	reg := registry.New(cfg, logger)
	registerProviders(reg, logger)
	defer reg.Clear()

	healthSvc := healthuc.New(reg, logger)

	// Startup probe is informational: providers are constructed lazily and
	// /ready reports live state, so a cold dependency must not abort boot.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	report := healthSvc.ValidateAll(startupCtx)
	cancelStartup()
	if report.Ready {
		logger.Info("All provider connections validated")
	} else {
		logger.Warn("Some provider connections failed validation",
			zap.Any("services", report.Services),
		)
	}

	server := chiTransport.NewServer(reg, healthSvc, cfg)
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(chiTransport.RateLimitMiddleware(limiter, logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// registerProviders wires every known provider constructor into the
// registry. Instances are built lazily on first Get.
func registerProviders(reg *registry.Registry, logger *zap.Logger) {
	reg.RegisterLLM("openai", func(_ context.Context, cfg config.LLMConfig) (domain.LLMProvider, error) {
		return openaiProvider.NewLLM(cfg, logger)
	})

	reg.RegisterEmbeddings("openai", func(_ context.Context, cfg config.EmbeddingsConfig) (domain.EmbeddingsService, error) {
		return openaiProvider.NewEmbeddings(cfg, logger)
	})

	reg.RegisterVectorStore("memory", func(_ context.Context, cfg config.VectorStoreConfig) (domain.VectorStore, error) {
		return memoryStore.New(cfg.Dimensions, cfg.Metric), nil
	})

	reg.RegisterVectorStore("redis", func(ctx context.Context, cfg config.VectorStoreConfig) (domain.VectorStore, error) {
		store, err := redisStore.NewStore(redisStore.Config{
			Addrs:      cfg.Addrs,
			Password:   cfg.Password,
			KeyPrefix:  cfg.KeyPrefix,
			Dimensions: cfg.Dimensions,
			Metric:     cfg.Metric,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		// Fail construction while Redis is down; the empty cache slot lets
		// the next Get retry.
		if err := store.WaitForReady(ctx, redisReadyTimeout); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	})

	reg.RegisterRetrieval("similarity", func(
		_ context.Context,
		store domain.VectorStore,
		embeddings domain.EmbeddingsService,
		cfg config.RetrievalConfig,
	) (domain.RetrievalStrategy, error) {
		return retrieval.NewSimilarity(store, embeddings, cfg, logger), nil
	})

	reg.RegisterChat("default", func(
		_ context.Context,
		llm domain.LLMProvider,
		strategy domain.RetrievalStrategy,
		cfg config.ChatConfig,
	) (domain.ChatService, error) {
		return chat.New(llm, strategy, cfg, logger), nil
	})
}
