package main

import (
	"context"
	"encoding/json"
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

	"github.com/kailas-cloud/filingrag/internal/chunker"
	"github.com/kailas-cloud/filingrag/internal/config"
	"github.com/kailas-cloud/filingrag/internal/db"
	dbMemory "github.com/kailas-cloud/filingrag/internal/db/memory"
	dbRedis "github.com/kailas-cloud/filingrag/internal/db/redis"
	"github.com/kailas-cloud/filingrag/internal/domain"
	logpkg "github.com/kailas-cloud/filingrag/internal/logger"
	"github.com/kailas-cloud/filingrag/internal/metrics"
	"github.com/kailas-cloud/filingrag/internal/repository/chunkstore"
	"github.com/kailas-cloud/filingrag/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/filingrag/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/filingrag/internal/transport/openai"
	healthuc "github.com/kailas-cloud/filingrag/internal/usecase/health"
	retrievaluc "github.com/kailas-cloud/filingrag/internal/usecase/retrieval"
	synthesisuc "github.com/kailas-cloud/filingrag/internal/usecase/synthesis"
	"github.com/kailas-cloud/filingrag/internal/version"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting filingrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("build_date", version.Date),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Create chunk store backend based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register domain metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	// Chunk store manager and the two fixed collections
	manager := chunkstore.New(store, time.Duration(cfg.Database.OpTimeoutSec)*time.Second, logger)
	for _, collection := range []string{domain.CollectionFilings, domain.CollectionNews} {
		if err := manager.EnsureCollection(ctx, collection, cfg.Embedding.Dimensions); err != nil {
			logger.Fatal("Failed to ensure collection",
				zap.String("collection", collection), zap.Error(err))
		}
	}
	logger.Info("Collections ready",
		zap.Strings("collections", []string{domain.CollectionFilings, domain.CollectionNews}),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Embedder: OpenAI-compatible provider behind an LRU query cache.
	// Batch (indexing) calls go straight to the provider; each chunk text
	// is unique so caching them would only churn the cache.
	provider := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:        cfg.Embedding.APIKey,
		BaseURL:       cfg.Embedding.BaseURL,
		Model:         cfg.Embedding.Model,
		Dimensions:    cfg.Embedding.Dimensions,
		Timeout:       time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		MaxRetries:    cfg.Embedding.MaxRetries,
		RetryBackoff:  time.Duration(cfg.Embedding.RetryBackoffMS) * time.Millisecond,
		MaxInputWords: cfg.Embedding.MaxInputWords,
		Logger:        logger,
	})
	queryEmbedder := embcache.New(provider, cfg.Embedding.CacheSize, metrics.EmbeddingCacheTotal)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("cache_size", cfg.Embedding.CacheSize),
	)

	chunkerSvc, err := chunker.New(chunker.Config{
		ParentSize:      cfg.Chunking.ParentSize,
		ChildSize:       cfg.Chunking.ChildSize,
		Overlap:         cfg.Chunking.Overlap,
		NewsMinSize:     cfg.Chunking.NewsMinSize,
		NewsMaxSize:     cfg.Chunking.NewsMaxSize,
		MinSectionChars: cfg.Chunking.MinSectionChars,
	})
	if err != nil {
		logger.Fatal("Invalid chunking configuration", zap.Error(err))
	}

	// Use case services
	retrievalSvc := retrievaluc.New(manager, queryEmbedder, provider, chunkerSvc, retrievaluc.Config{
		ParentFanout:   cfg.Retrieval.ParentFanout,
		ChildPerParent: cfg.Retrieval.ChildPerParent,
		DefaultTopK:    cfg.Retrieval.DefaultTopK,
	}, logger)
	synthesisSvc := synthesisuc.New(retrievalSvc, logger).WithDefaultTopK(cfg.Retrieval.AnalyzeTopK)
	healthSvc := healthuc.New(store, provider)

	// HTTP server
	server := chiTransport.NewServer(retrievalSvc, synthesisSvc, manager, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

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

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}
