package sourceobs

import (
	"context"

	"marketlens/internal/interfaces"
	"marketlens/internal/logger"
	"marketlens/internal/trace"
	"marketlens/internal/types"
)

// observableAdapter wraps a SourceAdapter with observability (logging & tracing)
type observableAdapter struct {
	adapter interfaces.SourceAdapter
}

// Compile-time interface check
var _ interfaces.SourceAdapter = (*observableAdapter)(nil)

// Wrap wraps a source adapter with observability middleware
func Wrap(adapter interfaces.SourceAdapter) interfaces.SourceAdapter {
	return &observableAdapter{adapter: adapter}
}

func (oa *observableAdapter) Name() string { return oa.adapter.Name() }

// Fetch fetches one reading with observability
func (oa *observableAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	ctx, span := trace.StartSpan(ctx, "source.Fetch")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Fetching source reading",
		"source", oa.adapter.Name(),
		"symbol", symbol,
	)

	reading := oa.adapter.Fetch(ctx, symbol)

	if reading.OK() {
		logger.DebugSkip(ctx, 1, "Source reading fetched",
			"source", reading.SourceName,
			"symbol", symbol,
			"latency_ms", reading.LatencyMs,
		)
	} else {
		logger.InfoSkip(ctx, 1, "Source reading failed",
			"source", reading.SourceName,
			"symbol", symbol,
			"status", string(reading.Status),
			"error", reading.Err,
		)
	}

	return reading
}
