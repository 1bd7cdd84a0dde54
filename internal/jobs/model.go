package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobStatus is the coarse lifecycle state of a job. Completed and Failed are
// terminal and never change again.
type JobStatus string

const (
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Phase is the pipeline sub-state, only meaningful before a job reaches a
// terminal status. Phases advance strictly forward through phaseOrder.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseMarketData Phase = "MARKET_DATA"
	PhaseSentiment  Phase = "SENTIMENT"
	PhaseTechnical  Phase = "TECHNICAL"
	PhaseOnChain    Phase = "ONCHAIN"
	PhaseNews       Phase = "NEWS"
	PhaseAIAnalysis Phase = "AI_ANALYSIS"
	PhaseDone       Phase = "DONE"
)

var phaseOrder = []Phase{
	PhaseInit,
	PhaseMarketData,
	PhaseSentiment,
	PhaseTechnical,
	PhaseOnChain,
	PhaseNews,
	PhaseAIAnalysis,
	PhaseDone,
}

// Next returns the phase after p, or PhaseDone when p is already terminal.
func (p Phase) Next() Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return PhaseDone
}

// ProgressFor maps a phase to a 0..100 progress value proportional to its
// position in the pipeline.
func ProgressFor(p Phase) int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i * 100 / (len(phaseOrder) - 1)
		}
	}
	return 0
}

// Job is one analysis run for a symbol. ResultAccumulator stores each
// collection phase's payload as opaque JSON keyed by phase name; a null
// value records that an optional phase produced nothing.
type Job struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Symbol            string    `gorm:"index;size:16" json:"symbol"`
	Status            JobStatus `gorm:"index;size:16" json:"status"`
	Phase             Phase     `gorm:"size:16" json:"phase"`
	Progress          int       `json:"progress"`
	ResultAccumulator string    `gorm:"type:text" json:"-"`
	Verdict           string    `gorm:"type:text" json:"verdict,omitempty"`
	Error             string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (Job) TableName() string { return "jobs" }

// Migrate creates or updates the jobs table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}

// Results decodes the accumulator. A missing key means the phase has not run
// yet; an explicit null means it ran and produced nothing.
func (j *Job) Results() (map[Phase]json.RawMessage, error) {
	out := make(map[Phase]json.RawMessage)
	if j.ResultAccumulator == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(j.ResultAccumulator), &out); err != nil {
		return nil, fmt.Errorf("corrupt result accumulator for job %s: %w", j.ID, err)
	}
	return out, nil
}

// SetResult records a phase's payload in the accumulator. A nil payload is
// stored as an explicit null.
func (j *Job) SetResult(phase Phase, payload any) error {
	results, err := j.Results()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal phase result: %w", err)
	}
	results[phase] = raw
	acc, err := json.Marshal(results)
	if err != nil {
		return err
	}
	j.ResultAccumulator = string(acc)
	return nil
}

// Terminal reports whether the job can never change again.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
