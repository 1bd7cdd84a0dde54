package analyst

import (
	"context"

	"marketlens/internal/logger"
	"marketlens/internal/types"
)

// NoopAnalyst is the fallback used when no LLM provider is configured.
type NoopAnalyst struct{}

// NewNoopAnalyst returns an analyst that always answers NEUTRAL.
func NewNoopAnalyst() *NoopAnalyst {
	return &NoopAnalyst{}
}

// Analyze implements the Analyst interface with a constant NEUTRAL verdict.
func (a *NoopAnalyst) Analyze(ctx context.Context, actx types.AnalysisContext) (types.Verdict, error) {
	logger.Debug(ctx, "Noop analyst called - always returns NEUTRAL", "symbol", actx.Symbol)
	return types.Verdict{
		Outlook:    "NEUTRAL",
		Confidence: 0.0,
		Summary:    "noop_analyst_fallback",
	}, nil
}
