package orchestrator

import (
	"time"

	"github.com/vampirenirmal/storyforge/internal/quality"
)

// GenerationAttempt is the immutable record of one scored or failed attempt.
type GenerationAttempt struct {
	AttemptNumber int             `json:"attempt_number"`
	Strategy      string          `json:"strategy"`
	Tier          int             `json:"tier"`
	ContextSize   string          `json:"context_size"`
	OutputText    string          `json:"output_text,omitempty"`
	Report        *quality.Report `json:"report,omitempty"`
	Cost          float64         `json:"cost"`
	DurationMS    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}

// UnitResult is the terminal output for one unit. The orchestrator owns it;
// downstream consumers only read.
type UnitResult struct {
	WorkID              string              `json:"work_id"`
	UnitID              string              `json:"unit_id"`
	Content             string              `json:"content"`
	Attempts            int                 `json:"attempts"`
	FinalStrategy       string              `json:"final_strategy"`
	QualityScore        float64             `json:"quality_score"`
	IsFallback          bool                `json:"is_fallback"`
	RequiresHumanReview bool                `json:"requires_human_review"`
	FactsCommitted      int                 `json:"facts_committed"`
	History             []GenerationAttempt `json:"history"`
	CompletedAt         time.Time           `json:"completed_at"`
}

// WorkResult aggregates a finished work.
type WorkResult struct {
	WorkID        string       `json:"work_id"`
	Units         []UnitResult `json:"units"`
	TotalCost     float64      `json:"total_cost"`
	FallbackUnits int          `json:"fallback_units"`
	FactCount     int          `json:"fact_count"`
}
