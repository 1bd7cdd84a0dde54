package purity

import (
	"math"

	"marketlens/internal/types"
)

// ScoreWeights are the per-component budgets of the composite quality score.
// They are renormalized to sum to 100, so only their ratios matter.
type ScoreWeights struct {
	Availability float64
	Divergence   float64
	Discrepancy  float64
}

// ScorerConfig tunes the quality scorer.
type ScorerConfig struct {
	// TolerancePct is the divergence tolerance in percent; at or below it the
	// divergence component earns full credit.
	TolerancePct float64
	// DecaySpanFactor controls how fast the divergence component decays: the
	// component reaches zero at TolerancePct * DecaySpanFactor.
	DecaySpanFactor float64
	// WarningRetention is the fraction of the discrepancy budget kept per
	// recorded warning (0.6 means each warning removes 40% of what is left).
	WarningRetention float64
	Weights          ScoreWeights
}

// DefaultScorerConfig returns the weights used by the collection phases.
// Availability dominates so that losing most sources always drags the score
// under the usable floor.
func DefaultScorerConfig(tolerancePct float64) ScorerConfig {
	return ScorerConfig{
		TolerancePct:     tolerancePct,
		DecaySpanFactor:  10,
		WarningRetention: 0.6,
		Weights: ScoreWeights{
			Availability: 50,
			Divergence:   30,
			Discrepancy:  20,
		},
	}
}

// QualityScorer reduces source availability, divergence and sanity
// discrepancies into a single 0-100 confidence score.
type QualityScorer struct {
	cfg ScorerConfig
}

// NewQualityScorer creates a scorer with the given configuration.
func NewQualityScorer(cfg ScorerConfig) *QualityScorer {
	if cfg.Weights.Availability <= 0 && cfg.Weights.Divergence <= 0 && cfg.Weights.Discrepancy <= 0 {
		cfg.Weights = DefaultScorerConfig(cfg.TolerancePct).Weights
	}
	if cfg.DecaySpanFactor <= 1 {
		cfg.DecaySpanFactor = 10
	}
	if cfg.WarningRetention <= 0 || cfg.WarningRetention >= 1 {
		cfg.WarningRetention = 0.6
	}
	return &QualityScorer{cfg: cfg}
}

// Score computes the composite quality score. Any fatal discrepancy forces a
// score of exactly 0 regardless of every other factor.
func (s *QualityScorer) Score(tri types.TriangulationResult, sanity types.SanityCheckResult, sources []types.SourceStatus) int {
	if sanity.FatalCount() > 0 {
		return 0
	}

	total := s.cfg.Weights.Availability + s.cfg.Weights.Divergence + s.cfg.Weights.Discrepancy
	if total <= 0 {
		return 0
	}
	scale := 100 / total

	score := s.availabilityComponent(sources)*scale +
		s.divergenceComponent(tri, sources)*scale +
		s.discrepancyComponent(sanity)*scale

	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// availabilityComponent scales the budget by successful/attempted sources.
func (s *QualityScorer) availabilityComponent(sources []types.SourceStatus) float64 {
	if len(sources) == 0 {
		return 0
	}
	ok := 0
	for _, src := range sources {
		if src.Status == types.ReadingSuccess {
			ok++
		}
	}
	return s.cfg.Weights.Availability * float64(ok) / float64(len(sources))
}

// divergenceComponent earns full budget at or below tolerance and decays
// linearly toward zero as divergence grows, clipped at zero. A single source
// has no disagreement to penalize and earns full credit.
func (s *QualityScorer) divergenceComponent(tri types.TriangulationResult, sources []types.SourceStatus) float64 {
	ok := 0
	for _, src := range sources {
		if src.Status == types.ReadingSuccess {
			ok++
		}
	}
	if ok <= 1 {
		return s.cfg.Weights.Divergence
	}

	maxDiv := tri.Divergence.MaxDivergencePct
	if maxDiv <= s.cfg.TolerancePct {
		return s.cfg.Weights.Divergence
	}

	span := s.cfg.TolerancePct * (s.cfg.DecaySpanFactor - 1)
	if span <= 0 {
		return 0
	}
	fraction := 1 - (maxDiv-s.cfg.TolerancePct)/span
	if fraction < 0 {
		fraction = 0
	}
	return s.cfg.Weights.Divergence * fraction
}

// discrepancyComponent shrinks geometrically with each recorded warning.
func (s *QualityScorer) discrepancyComponent(sanity types.SanityCheckResult) float64 {
	return s.cfg.Weights.Discrepancy * math.Pow(s.cfg.WarningRetention, float64(sanity.WarningCount()))
}
