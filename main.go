package main

import (
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/adapters/datasource"
	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/handlers"
	"github.com/insightloop/insight-engine/pkg/llm"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/middleware"
	"github.com/insightloop/insight-engine/pkg/services"

	// Dialect executors self-register with the datasource factory.
	_ "github.com/insightloop/insight-engine/pkg/adapters/datasource/mssql"
	_ "github.com/insightloop/insight-engine/pkg/adapters/datasource/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
		zap.Float64("match_threshold", cfg.Resolution.MatchThreshold),
		zap.Int("cache_ttl_minutes", cfg.Cache.TTLMinutes),
		zap.Bool("llm_assist", cfg.LLM.IsAvailable()))

	assist, err := llm.NewFromConfig(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	matcher := matching.NewMatcher(matching.Options{
		Threshold:         cfg.Resolution.MatchThreshold,
		AbbreviationScore: cfg.Resolution.AbbreviationScore,
		PhoneticScore:     cfg.Resolution.PhoneticScore,
		CorrectionFloor:   cfg.Resolution.CorrectionFloor,
	})

	llmTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	cacheTTL := time.Duration(cfg.Cache.TTLMinutes) * time.Minute

	schemaService := services.NewSchemaService(nil, logger)
	resolver := services.NewSemanticResolver(matcher, cfg.Resolution, logger)
	builder := services.NewIntentBuilder(resolver, cfg.Resolution, logger)
	generator := services.NewQueryGenerator(assist, llmTimeout, logger)
	suggestions := services.NewSuggestionEngine(matcher, assist, llmTimeout, cfg.Suggestions, logger)
	sessions := services.NewSessionStore(cfg.Resolution.ContextWindow, 30*time.Minute)
	computationCache := services.NewComputationCache(cfg.Cache.MaxEntries, cacheTTL, logger)

	nlQueryService := services.NewNLQueryService(
		schemaService,
		builder,
		generator,
		suggestions,
		matcher,
		sessions,
		computationCache,
		datasource.NewFactory(),
		logger,
	)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg.Version, logger)
	healthHandler.RegisterRoutes(mux)

	nlQueryHandler := handlers.NewNLQueryHandler(nlQueryService, schemaService, logger)
	nlQueryHandler.RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting insight-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
