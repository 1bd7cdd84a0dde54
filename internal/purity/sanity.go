package purity

import (
	"fmt"
	"math"
	"time"

	"marketlens/internal/types"
)

// SanityConfig tunes the cross-field invariants evaluated over a dataset.
type SanityConfig struct {
	// FreshnessWindow is how old the underlying data may be before it is
	// flagged stale.
	FreshnessWindow time.Duration
	// MaxJumpFactor flags a reconciled value that moved more than this
	// multiple away from the previously cached value (3 means 3x).
	MaxJumpFactor float64
	// RequiredNonZero lists auxiliary metrics that structurally cannot be
	// zero; a present-but-zero value is a fatal violation.
	RequiredNonZero []string
}

// DefaultSanityConfig returns the defaults used by the collection phases.
func DefaultSanityConfig() SanityConfig {
	return SanityConfig{
		FreshnessWindow: 15 * time.Minute,
		MaxJumpFactor:   3,
	}
}

// SanityInput bundles everything a check run may inspect.
type SanityInput struct {
	Triangulation types.TriangulationResult
	// Aux holds auxiliary per-domain metrics (mempool size, 24h volume, ...).
	Aux map[string]float64
	// PreviousValue is the last cached reconciled value, when one exists.
	PreviousValue *float64
	// DataTimestamp is when the underlying data was produced.
	DataTimestamp time.Time
	// Now overrides the clock for tests; zero means time.Now().
	Now time.Time
}

// SanityChecker evaluates independent boolean predicates over a triangulated
// dataset. Each failing predicate yields a Discrepancy; only Fatal ones flip
// the overall Passed flag.
type SanityChecker struct {
	cfg SanityConfig
}

// NewSanityChecker creates a checker with the given configuration.
func NewSanityChecker(cfg SanityConfig) *SanityChecker {
	if cfg.MaxJumpFactor <= 1 {
		cfg.MaxJumpFactor = DefaultSanityConfig().MaxJumpFactor
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultSanityConfig().FreshnessWindow
	}
	return &SanityChecker{cfg: cfg}
}

// Check runs every predicate and collects the discrepancies.
func (c *SanityChecker) Check(in SanityInput) types.SanityCheckResult {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	result := types.SanityCheckResult{
		Checks: make(map[string]bool),
	}

	// A reconciled value must exist at all.
	hasValue := in.Triangulation.MedianValue != nil
	result.Checks["value_present"] = hasValue
	if !hasValue {
		result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
			Type:        types.DiscrepancyMissingAux,
			Severity:    types.SeverityFatal,
			Description: "no source produced a usable value",
			Impact:      "dataset unusable",
		})
	}

	// A core metric reporting exactly zero (or negative) cannot be real.
	if hasValue {
		positive := *in.Triangulation.MedianValue > 0
		result.Checks["value_positive"] = positive
		if !positive {
			result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
				Type:        types.DiscrepancyZeroMetric,
				Severity:    types.SeverityFatal,
				Description: fmt.Sprintf("reconciled value %.4f is not positive", *in.Triangulation.MedianValue),
				Impact:      "dataset unusable",
			})
		}
	}

	for _, name := range c.cfg.RequiredNonZero {
		v, present := in.Aux[name]
		ok := present && v != 0
		result.Checks["nonzero_"+name] = ok
		switch {
		case !present:
			result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
				Type:        types.DiscrepancyMissingAux,
				Severity:    types.SeverityWarning,
				Description: fmt.Sprintf("auxiliary metric %q missing", name),
				Impact:      "reduced confidence",
			})
		case v == 0:
			result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
				Type:        types.DiscrepancyZeroMetric,
				Severity:    types.SeverityFatal,
				Description: fmt.Sprintf("auxiliary metric %q is exactly zero", name),
				Impact:      "dataset unusable",
			})
		}
	}

	fresh := true
	if !in.DataTimestamp.IsZero() {
		fresh = now.Sub(in.DataTimestamp) <= c.cfg.FreshnessWindow
	}
	result.Checks["freshness"] = fresh
	if !fresh {
		result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
			Type:        types.DiscrepancyStaleData,
			Severity:    types.SeverityWarning,
			Description: fmt.Sprintf("data is %s old, freshness window is %s", now.Sub(in.DataTimestamp).Round(time.Second), c.cfg.FreshnessWindow),
			Impact:      "reduced confidence",
		})
	}

	if hasValue && in.PreviousValue != nil && *in.PreviousValue > 0 {
		ratio := math.Abs(*in.Triangulation.MedianValue / *in.PreviousValue)
		withinRange := ratio <= c.cfg.MaxJumpFactor && ratio >= 1/c.cfg.MaxJumpFactor
		result.Checks["range_jump"] = withinRange
		if !withinRange {
			result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
				Type:        types.DiscrepancyRangeJump,
				Severity:    types.SeverityWarning,
				Description: fmt.Sprintf("value moved %.2fx from previous cached value", ratio),
				Impact:      "reduced confidence",
			})
		}
	}

	agreement := !in.Triangulation.Divergence.HasDivergence
	result.Checks["source_agreement"] = agreement
	if !agreement {
		result.Discrepancies = append(result.Discrepancies, types.Discrepancy{
			Type:            types.DiscrepancySourceSpread,
			Severity:        types.SeverityWarning,
			Description:     fmt.Sprintf("sources diverge by up to %.3f%%", in.Triangulation.Divergence.MaxDivergencePct),
			AffectedSources: in.Triangulation.Divergence.DivergentSources,
			Impact:          "reduced confidence",
		})
	}

	result.Passed = result.FatalCount() == 0
	return result
}
