package analystobs

import (
	"context"

	"marketlens/internal/interfaces"
	"marketlens/internal/logger"
	"marketlens/internal/trace"
	"marketlens/internal/types"
)

// observableAnalyst wraps an Analyst with observability (logging & tracing)
type observableAnalyst struct {
	analyst interfaces.Analyst
}

// Compile-time interface check
var _ interfaces.Analyst = (*observableAnalyst)(nil)

// Wrap wraps an analyst with observability middleware
func Wrap(analyst interfaces.Analyst) interfaces.Analyst {
	return &observableAnalyst{analyst: analyst}
}

// Analyze produces a verdict with observability
func (oa *observableAnalyst) Analyze(ctx context.Context, actx types.AnalysisContext) (types.Verdict, error) {
	ctx, span := trace.StartSpan(ctx, "analyst.Analyze")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting analysis verdict",
		"symbol", actx.Symbol,
		"overall_quality", actx.OverallQuality,
	)

	verdict, err := oa.analyst.Analyze(ctx, actx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get analysis verdict", err,
			"symbol", actx.Symbol,
		)
		return types.Verdict{}, err
	}

	logger.InfoSkip(ctx, 1, "Analysis verdict received",
		"symbol", actx.Symbol,
		"outlook", verdict.Outlook,
		"confidence", verdict.Confidence,
	)

	return verdict, nil
}
