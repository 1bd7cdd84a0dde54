package interfaces

import (
	"context"

	"marketlens/internal/types"
)

// Analyst turns an aggregated analysis context into a structured verdict.
// Only invoked from the terminal pipeline phase; the core treats the
// implementation (model, prompt, transport) as opaque.
type Analyst interface {
	Analyze(ctx context.Context, ac types.AnalysisContext) (types.Verdict, error)
}
