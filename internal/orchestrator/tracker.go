package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vampirenirmal/storyforge/internal/storage"
)

// WorkProgress is the persisted completion state for one work. Reloading it
// lets an interrupted run resume without regenerating finished units.
type WorkProgress struct {
	WorkID     string                 `json:"work_id"`
	TotalUnits int                    `json:"total_units"`
	Completed  map[string]UnitSummary `json:"completed"`
	Failed     map[string]UnitFailure `json:"failed"`
	StartTime  time.Time              `json:"start_time"`
	LastUpdate time.Time              `json:"last_update"`
}

// UnitSummary is the progress-file view of a finished unit. Content lives in
// its own file; the summary stays small enough to rewrite on every update.
type UnitSummary struct {
	UnitID      string    `json:"unit_id"`
	Attempts    int       `json:"attempts"`
	Score       float64   `json:"score"`
	IsFallback  bool      `json:"is_fallback"`
	CompletedAt time.Time `json:"completed_at"`
}

type UnitFailure struct {
	UnitID    string    `json:"unit_id"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// WorkTracker records unit completion atomically: content and result first,
// then the progress index. A crash between the two leaves a resumable state,
// never a progress entry pointing at missing content.
type WorkTracker struct {
	archive *storage.Archive
	mu      sync.RWMutex
	state   *WorkProgress
}

func NewWorkTracker(archive *storage.Archive, workID string, totalUnits int) *WorkTracker {
	now := time.Now()
	return &WorkTracker{
		archive: archive,
		state: &WorkProgress{
			WorkID:     workID,
			TotalUnits: totalUnits,
			Completed:  make(map[string]UnitSummary),
			Failed:     make(map[string]UnitFailure),
			StartTime:  now,
			LastUpdate: now,
		},
	}
}

// Load restores persisted progress. A missing file means a fresh run.
func (t *WorkTracker) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var state WorkProgress
	if err := t.archive.LoadJSON(ctx, storage.ProgressPath(t.state.WorkID), &state); err != nil {
		return nil
	}
	if state.Completed == nil {
		state.Completed = make(map[string]UnitSummary)
	}
	if state.Failed == nil {
		state.Failed = make(map[string]UnitFailure)
	}
	state.TotalUnits = t.state.TotalUnits
	t.state = &state
	return nil
}

func (t *WorkTracker) saveLocked(ctx context.Context) error {
	t.state.LastUpdate = time.Now()
	return t.archive.SaveJSON(ctx, storage.ProgressPath(t.state.WorkID), t.state)
}

// MarkCompleted persists the unit's content and result, then updates progress.
func (t *WorkTracker) MarkCompleted(ctx context.Context, result UnitResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.archive.SaveContent(ctx, result.WorkID, result.UnitID, result.Content); err != nil {
		return fmt.Errorf("saving unit content: %w", err)
	}
	if err := t.archive.SaveJSON(ctx, storage.ResultPath(result.WorkID, result.UnitID), result); err != nil {
		return fmt.Errorf("saving unit result: %w", err)
	}

	t.state.Completed[result.UnitID] = UnitSummary{
		UnitID:      result.UnitID,
		Attempts:    result.Attempts,
		Score:       result.QualityScore,
		IsFallback:  result.IsFallback,
		CompletedAt: result.CompletedAt,
	}
	delete(t.state.Failed, result.UnitID)

	return t.saveLocked(ctx)
}

// MarkFailed records a failed attempt without touching completion state.
func (t *WorkTracker) MarkFailed(ctx context.Context, unitID string, attempt int, failure error, retryable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Failed[unitID] = UnitFailure{
		UnitID:    unitID,
		Attempt:   attempt,
		Error:     failure.Error(),
		Retryable: retryable,
		At:        time.Now(),
	}
	return t.saveLocked(ctx)
}

func (t *WorkTracker) IsCompleted(unitID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.state.Completed[unitID]
	return ok
}

// CompletedContent loads the stored prose for a finished unit.
func (t *WorkTracker) CompletedContent(ctx context.Context, unitID string) (string, error) {
	t.mu.RLock()
	workID := t.state.WorkID
	t.mu.RUnlock()

	var result UnitResult
	if err := t.archive.LoadJSON(ctx, storage.ResultPath(workID, unitID), &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// Stats summarizes progress for event consumers.
func (t *WorkTracker) Stats() (completed, failed, total int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.state.Completed), len(t.state.Failed), t.state.TotalUnits
}
