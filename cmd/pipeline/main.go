package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketlens/internal/api"
	"marketlens/internal/cache"
	"marketlens/internal/logger"
	"marketlens/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "Tracer shutdown failed", "error", err)
		}
	}()

	cfg, err := loadConfig(ctx)
	must(err)

	db, err := openStore(ctx, cfg)
	must(err)

	c := cache.New(db)
	c.StartSweeper(ctx, cfg.SweepInterval(), cfg.SweepGrace())

	orch := buildOrchestrator(ctx, cfg, db, c)

	server := api.New(orch, c)
	go func() {
		logger.Info(ctx, "API server listening", "addr", cfg.APIAddr)
		if err := server.Run(cfg.APIAddr); err != nil {
			logger.ErrorWithErr(ctx, "API server exited", err)
			cancel()
		}
	}()

	// Seed one job per configured symbol so the pipeline has work on a cold
	// start; later runs are deduped against live jobs.
	for _, sym := range cfg.Symbols {
		if _, err := orch.StartOrReuse(ctx, sym); err != nil {
			logger.Warn(ctx, "Failed to seed job", "symbol", sym, "error", err)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(cfg.Tick())
	defer tick.Stop()

	logger.Info(ctx, "Pipeline started", "tick", cfg.Tick().String(), "symbols", cfg.Symbols)
	for {
		select {
		case <-tick.C:
			if _, err := orch.ReclaimStale(ctx); err != nil {
				logger.ErrorWithErr(ctx, "Stale reclaim failed", err)
			}
			job, err := orch.ClaimAndAdvance(ctx)
			if err != nil {
				logger.ErrorWithErr(ctx, "Phase advance failed", err)
				continue
			}
			if job == nil {
				logger.Debug(ctx, "No eligible job this tick")
			}
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			return
		case <-ctx.Done():
			return
		}
	}
}
