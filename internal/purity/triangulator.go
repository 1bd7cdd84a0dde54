package purity

import (
	"math"
	"sort"
	"time"

	"marketlens/internal/types"
)

// Triangulator combines independent source readings of one metric into a
// single reconciled value plus a disagreement measure. The median is used
// instead of the mean so a single wild outlier cannot skew the result.
type Triangulator struct {
	tolerancePct float64
}

// NewTriangulator creates a triangulator with the given divergence tolerance,
// expressed in percent (0.5 means readings may disagree by up to 0.5%).
func NewTriangulator(tolerancePct float64) *Triangulator {
	return &Triangulator{tolerancePct: tolerancePct}
}

// Triangulate reduces the readings to a TriangulationResult for the named
// metric. Failed and timed-out readings contribute a nil per-source value and
// are excluded from the median. A result with a nil MedianValue means zero
// sources succeeded and must be treated as a hard failure by the caller.
func (t *Triangulator) Triangulate(readings []types.SourceReading, metric string) types.TriangulationResult {
	result := types.TriangulationResult{
		PerSourceValues: make(map[string]*float64, len(readings)),
		ComputedAt:      time.Now(),
	}

	type sample struct {
		source string
		value  float64
	}
	samples := make([]sample, 0, len(readings))

	for _, r := range readings {
		if v, ok := r.Value(metric); ok {
			val := v
			result.PerSourceValues[r.SourceName] = &val
			samples = append(samples, sample{source: r.SourceName, value: v})
		} else {
			result.PerSourceValues[r.SourceName] = nil
		}
	}

	if len(samples) == 0 {
		return result
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	median := medianOf(values)
	result.MedianValue = &median

	// Pairwise relative difference, normalized by the median.
	maxDiv := 0.0
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			d := relativePct(samples[i].value, samples[j].value, median)
			if d > maxDiv {
				maxDiv = d
			}
		}
	}
	result.Divergence.MaxDivergencePct = maxDiv
	result.Divergence.HasDivergence = maxDiv > t.tolerancePct

	for _, s := range samples {
		if relativePct(s.value, median, median) > t.tolerancePct {
			result.Divergence.DivergentSources = append(result.Divergence.DivergentSources, s.source)
		}
	}

	return result
}

// medianOf returns the median of values. values must be non-empty.
func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// relativePct is |a-b| / |ref| as a percentage. A zero reference with unequal
// values counts as full disagreement rather than dividing by zero.
func relativePct(a, b, ref float64) float64 {
	if ref == 0 {
		if a == b {
			return 0
		}
		return 100
	}
	return math.Abs(a-b) / math.Abs(ref) * 100
}
