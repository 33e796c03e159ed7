// Package main provides the prescription analysis API entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/api/handlers"
	"github.com/medsafe/go-rxcheck/internal/api/middleware"
	"github.com/medsafe/go-rxcheck/internal/engine"
	"github.com/medsafe/go-rxcheck/internal/engine/alert"
	"github.com/medsafe/go-rxcheck/internal/engine/alternatives"
	"github.com/medsafe/go-rxcheck/internal/engine/dosage"
	"github.com/medsafe/go-rxcheck/internal/engine/extract"
	"github.com/medsafe/go-rxcheck/internal/engine/interaction"
	"github.com/medsafe/go-rxcheck/internal/infrastructure/granite"
	"github.com/medsafe/go-rxcheck/internal/infrastructure/rxnorm"
	"github.com/medsafe/go-rxcheck/internal/observability/metrics"
	"github.com/medsafe/go-rxcheck/internal/observability/tracing"
	"github.com/medsafe/go-rxcheck/pkg/circuitbreaker"
	"github.com/medsafe/go-rxcheck/pkg/workerpool"
)

// Config holds application configuration
type Config struct {
	Port          string
	ModelName     string
	ModelToken    string
	ModelBaseURL  string
	CacheCapacity int
	OTLPEndpoint  string
	CORSOrigin    string
	Workers       int
	APIKeys       map[string]string
}

func main() {
	// .env is optional; deployed environments set variables directly.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	tp, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName:    "analysis-api",
		ServiceVersion: "1.0.0",
		Environment:    getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)

	// Model gateway. A missing token disables enrichment rather than
	// failing startup; the interface vars stay nil in that case so the
	// engine packages run in rule-only mode.
	var (
		queryModel  extract.Querier
		cachedModel dosage.Querier
	)
	granCfg := granite.DefaultConfig()
	granCfg.Token = cfg.ModelToken
	if cfg.ModelName != "" {
		granCfg.Model = cfg.ModelName
	}
	if cfg.ModelBaseURL != "" {
		granCfg.BaseURL = cfg.ModelBaseURL
	}
	if cfg.CacheCapacity > 0 {
		granCfg.CacheCapacity = cfg.CacheCapacity
	}
	model, err := granite.New(granCfg, breakers.GetOrCreate(circuitbreaker.DefaultConfig("granite")), m, logger)
	switch {
	case errors.Is(err, granite.ErrNoToken):
		logger.Warn("model enrichment disabled: HUGGINGFACE_API_TOKEN not set")
	case err != nil:
		logger.Fatal("granite client init failed", zap.Error(err))
	default:
		queryModel = model
		cachedModel = model
		logger.Info("model enrichment enabled", zap.String("model", granCfg.Model))
	}

	reference := rxnorm.New(rxnorm.Config{}, breakers.GetOrCreate(circuitbreaker.DefaultConfig("rxnorm")), m, logger)

	// Worker pool for per-medicine dosage verification.
	poolCfg := workerpool.DefaultConfig()
	if cfg.Workers > 0 {
		poolCfg.Workers = cfg.Workers
	}
	pool := workerpool.New(poolCfg, logger)
	pool.Start()
	defer pool.Stop()

	extractor := extract.New(queryModel, logger)
	svc := engine.NewService(engine.Deps{
		Extractor: extractor,
		Checker:   dosage.NewChecker(cachedModel, logger),
		Evaluator: interaction.NewEvaluator(extractor, alert.NewGenerator(queryModel, logger), cachedModel, logger),
		Finder:    alternatives.NewFinder(queryModel, reference, logger),
		Pool:      pool,
		Metrics:   m,
		Logger:    logger,
	})

	analysisHandler := handlers.NewAnalysisHandler(svc, breakers, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("analysis-api"))
	r.Use(middleware.Metrics(m))

	// Operational endpoints (no auth)
	r.Get("/health", analysisHandler.Health)
	r.Get("/ready", analysisHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	// Analysis endpoints at the root, optionally behind API-key auth.
	r.Group(func(r chi.Router) {
		if len(cfg.APIKeys) > 0 {
			r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		}
		r.Mount("/", analysisHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting analysis API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func loadConfig() Config {
	cfg := Config{
		Port:         getenv("PORT", "8000"),
		ModelName:    os.Getenv("GRANITE_MODEL_NAME"),
		ModelToken:   os.Getenv("HUGGINGFACE_API_TOKEN"),
		ModelBaseURL: os.Getenv("GRANITE_API_BASE"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		CORSOrigin:   os.Getenv("CORS_ALLOW_ORIGIN"),
		APIKeys:      map[string]string{},
	}
	if n, err := strconv.Atoi(os.Getenv("MODEL_CACHE_CAPACITY")); err == nil && n > 0 {
		cfg.CacheCapacity = n
	}
	if n, err := strconv.Atoi(os.Getenv("ANALYSIS_WORKERS")); err == nil && n > 0 {
		cfg.Workers = n
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.APIKeys[key] = "api-client"
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
