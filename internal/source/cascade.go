package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketlens/internal/interfaces"
	"marketlens/internal/logger"
	"marketlens/internal/types"
)

// ErrNoData means every tier failed or timed out. It is distinct from "data
// available but low quality": callers must treat it as a hard failure.
var ErrNoData = errors.New("no data available from any source")

// CascadeResult is the first successful reading found walking the tiers.
type CascadeResult struct {
	Reading types.SourceReading
	// Tier is the 0-based priority tier that satisfied the request.
	Tier int
}

// Cascade walks an ordered list of source adapters by priority tier. Each
// attempt gets its own timeout so one slow provider cannot exhaust the whole
// deadline, and the walk stops at the first success.
type Cascade struct {
	adapters       []interfaces.SourceAdapter
	attemptTimeout time.Duration
}

// NewCascade builds a cascade over adapters in priority order.
func NewCascade(attemptTimeout time.Duration, adapters ...interfaces.SourceAdapter) *Cascade {
	return &Cascade{adapters: adapters, attemptTimeout: attemptTimeout}
}

// Adapters returns the configured adapters in priority order.
func (c *Cascade) Adapters() []interfaces.SourceAdapter { return c.adapters }

// Fetch returns the first successful reading, or ErrNoData once every tier
// has been tried. The overall ctx deadline still bounds the whole walk.
func (c *Cascade) Fetch(ctx context.Context, symbol string) (CascadeResult, error) {
	if len(c.adapters) == 0 {
		return CascadeResult{}, ErrNoData
	}

	for tier, adapter := range c.adapters {
		if err := ctx.Err(); err != nil {
			return CascadeResult{}, fmt.Errorf("cascade aborted at tier %d: %w", tier, err)
		}

		reading := c.attempt(ctx, adapter, symbol)
		if reading.OK() {
			if tier > 0 {
				logger.Info(ctx, "Fallback tier satisfied request",
					"symbol", symbol,
					"source", adapter.Name(),
					"tier", tier,
				)
			}
			return CascadeResult{Reading: reading, Tier: tier}, nil
		}

		logger.Warn(ctx, "Source tier failed, falling through",
			"symbol", symbol,
			"source", adapter.Name(),
			"tier", tier,
			"status", string(reading.Status),
			"error", reading.Err,
		)
	}

	return CascadeResult{}, fmt.Errorf("%w: %d tiers exhausted for %s", ErrNoData, len(c.adapters), symbol)
}

// FetchAll queries every adapter concurrently and returns one reading per
// adapter, in adapter order. This is the cross-validation mode used when the
// caller wants to triangulate rather than take a single best answer.
func (c *Cascade) FetchAll(ctx context.Context, symbol string) []types.SourceReading {
	readings := make([]types.SourceReading, len(c.adapters))

	var wg sync.WaitGroup
	for i, adapter := range c.adapters {
		wg.Add(1)
		go func(i int, adapter interfaces.SourceAdapter) {
			defer wg.Done()
			readings[i] = c.attempt(ctx, adapter, symbol)
		}(i, adapter)
	}
	wg.Wait()

	return readings
}

// attempt runs one adapter fetch under its own timeout.
func (c *Cascade) attempt(ctx context.Context, adapter interfaces.SourceAdapter, symbol string) types.SourceReading {
	attemptCtx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	return adapter.Fetch(attemptCtx, symbol)
}

// Statuses summarizes readings into the per-source availability list the
// quality scorer consumes.
func Statuses(readings []types.SourceReading) []types.SourceStatus {
	out := make([]types.SourceStatus, len(readings))
	for i, r := range readings {
		out[i] = types.SourceStatus{Name: r.SourceName, Status: r.Status}
	}
	return out
}
