package types

import "time"

// DataType tags one category of collected data flowing through the pipeline.
type DataType string

const (
	DataMarket    DataType = "market_data"
	DataSentiment DataType = "sentiment"
	DataTechnical DataType = "technical"
	DataOnChain   DataType = "onchain"
	DataNews      DataType = "news"
)

// ReadingStatus is the outcome of a single provider fetch.
type ReadingStatus string

const (
	ReadingSuccess ReadingStatus = "SUCCESS"
	ReadingFailed  ReadingStatus = "FAILED"
	ReadingTimeout ReadingStatus = "TIMEOUT"
)

// SourceReading is one normalized reading from one provider. Immutable once
// produced; adapters never fail past their boundary - failures are encoded in
// Status/Err instead.
type SourceReading struct {
	SourceName string             `json:"source_name"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	FetchedAt  time.Time          `json:"fetched_at"`
	LatencyMs  int64              `json:"latency_ms"`
	Status     ReadingStatus      `json:"status"`
	Err        string             `json:"error,omitempty"`
}

// OK reports whether the reading carries usable data.
func (r SourceReading) OK() bool { return r.Status == ReadingSuccess }

// Value returns a named metric from a successful reading.
func (r SourceReading) Value(metric string) (float64, bool) {
	if !r.OK() || r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[metric]
	return v, ok
}

// Divergence measures disagreement among successful readings of one metric.
type Divergence struct {
	MaxDivergencePct float64  `json:"max_divergence_pct"`
	HasDivergence    bool     `json:"has_divergence"`
	DivergentSources []string `json:"divergent_sources,omitempty"`
}

// TriangulationResult reconciles N source readings into one value.
// MedianValue is nil when zero sources succeeded; callers must treat that as a
// hard failure, not a low-quality dataset.
type TriangulationResult struct {
	MedianValue     *float64            `json:"median_value"`
	PerSourceValues map[string]*float64 `json:"per_source_values"`
	Divergence      Divergence          `json:"divergence"`
	ComputedAt      time.Time           `json:"computed_at"`
}

// Severity classifies a sanity-check discrepancy.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityFatal   Severity = "FATAL"
)

// DiscrepancyType enumerates the known sanity violations.
type DiscrepancyType string

const (
	DiscrepancyZeroMetric   DiscrepancyType = "ZERO_METRIC"
	DiscrepancyStaleData    DiscrepancyType = "STALE_DATA"
	DiscrepancyRangeJump    DiscrepancyType = "RANGE_JUMP"
	DiscrepancyMissingAux   DiscrepancyType = "MISSING_AUX"
	DiscrepancySourceSpread DiscrepancyType = "SOURCE_SPREAD"
	DiscrepancyOutOfRange   DiscrepancyType = "OUT_OF_RANGE"
)

// Discrepancy records one failed sanity check.
type Discrepancy struct {
	Type            DiscrepancyType `json:"type"`
	Severity        Severity        `json:"severity"`
	Description     string          `json:"description"`
	AffectedSources []string        `json:"affected_sources,omitempty"`
	Impact          string          `json:"impact,omitempty"`
}

// SanityCheckResult aggregates the outcome of every check run over a dataset.
// Passed flips false only on a Fatal discrepancy; warnings degrade the quality
// score without invalidating the dataset.
type SanityCheckResult struct {
	Passed        bool            `json:"passed"`
	Checks        map[string]bool `json:"checks"`
	Discrepancies []Discrepancy   `json:"discrepancies,omitempty"`
}

// FatalCount returns the number of fatal discrepancies.
func (r SanityCheckResult) FatalCount() int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityFatal {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning discrepancies.
func (r SanityCheckResult) WarningCount() int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// SourceStatus is the per-source availability summary fed to the scorer.
type SourceStatus struct {
	Name   string        `json:"name"`
	Status ReadingStatus `json:"status"`
}
