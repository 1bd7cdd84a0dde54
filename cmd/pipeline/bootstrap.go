package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"marketlens/internal/analyst"
	"marketlens/internal/analyst/analystobs"
	"marketlens/internal/cache"
	"marketlens/internal/interfaces"
	"marketlens/internal/jobs"
	"marketlens/internal/logger"
	"marketlens/internal/source"
	"marketlens/internal/source/sourceobs"
	"marketlens/internal/store"
	"marketlens/internal/trace"
)

// initializeSystem initializes logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// openStore opens the durable store and migrates the cache and job tables
func openStore(ctx context.Context, cfg *store.Config) (*gorm.DB, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open database", err, "path", cfg.Database.Path)
		return nil, err
	}
	if err := cache.Migrate(db); err != nil {
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	if err := jobs.Migrate(db); err != nil {
		return nil, fmt.Errorf("jobs migration failed: %w", err)
	}
	return db, nil
}

// marketCascade builds the market data source tiers from config, each wrapped
// with observability middleware
func marketCascade(ctx context.Context, cfg *store.Config) *source.Cascade {
	var adapters []interfaces.SourceAdapter
	for _, tier := range cfg.Sources.MarketTiers {
		switch tier {
		case "binance":
			adapters = append(adapters, sourceobs.Wrap(source.NewBinanceAdapter()))
		case "coingecko":
			adapters = append(adapters, sourceobs.Wrap(source.NewCoinGeckoAdapter(cfg.AdapterTimeout(), cfg.Sources.RateLimitPerSecond)))
		case "coinbase":
			adapters = append(adapters, sourceobs.Wrap(source.NewCoinbaseAdapter(cfg.AdapterTimeout(), cfg.Sources.RateLimitPerSecond)))
		default:
			logger.Warn(ctx, "Unknown market tier in config, skipping", "tier", tier)
		}
	}
	return source.NewCascade(cfg.AdapterTimeout(), adapters...)
}

// buildOrchestrator wires every collaborator into the job orchestrator
func buildOrchestrator(ctx context.Context, cfg *store.Config, db *gorm.DB, c *cache.Cache) *jobs.Orchestrator {
	binanceAdapter := source.NewBinanceAdapter()

	deps := jobs.Deps{
		DB:     db,
		Cache:  c,
		Config: cfg,
		Market: marketCascade(ctx, cfg),
		Sentiment: source.NewCascade(cfg.AdapterTimeout(),
			sourceobs.Wrap(source.NewFearGreedAdapter(cfg.AdapterTimeout(), cfg.Sources.RateLimitPerSecond)),
		),
		OnChain: source.NewCascade(cfg.AdapterTimeout(),
			sourceobs.Wrap(source.NewMempoolSpaceAdapter(cfg.AdapterTimeout(), cfg.Sources.RateLimitPerSecond)),
			sourceobs.Wrap(source.NewBlockchainInfoAdapter(cfg.AdapterTimeout(), cfg.Sources.RateLimitPerSecond)),
		),
		Candles:   binanceAdapter,
		Headlines: source.NewNewsScraper(cfg.AdapterTimeout()),
		Analyst:   initializeAnalyst(ctx, cfg),
	}
	return jobs.New(deps)
}

// initializeAnalyst initializes and returns the analyst with observability
func initializeAnalyst(ctx context.Context, cfg *store.Config) interfaces.Analyst {
	base := analyst.New(cfg)
	if _, ok := base.(*analyst.NoopAnalyst); ok {
		logger.Warn(ctx, "No LLM provider configured - using Noop analyst (always NEUTRAL)")
	}

	// Wrap with observability middleware
	return analystobs.Wrap(base)
}
