package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Archive is the typed layer over Storage that the pipeline writes through.
// Every record is JSON under a stable works/<work>/units/<unit> layout so the
// output of a run is inspectable with nothing but a text editor.
type Archive struct {
	store Storage
}

func NewArchive(store Storage) *Archive {
	return &Archive{store: store}
}

// Record paths. Attempt numbers are 1-based to match attempt records.
func ContentPath(workID, unitID string) string {
	return filepath.Join("works", workID, "units", unitID, "content.md")
}

func ResultPath(workID, unitID string) string {
	return filepath.Join("works", workID, "units", unitID, "result.json")
}

func ReportPath(workID, unitID string, attempt int) string {
	return filepath.Join("works", workID, "units", unitID, fmt.Sprintf("report_attempt_%d.json", attempt))
}

func ProgressPath(workID string) string {
	return filepath.Join("works", workID, "progress.json")
}

func FactsPath(workID string) string {
	return filepath.Join("works", workID, "facts.json")
}

// SaveJSON marshals v with indentation and stores it at path.
func (a *Archive) SaveJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := a.store.Save(ctx, path, data); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads path into v.
func (a *Archive) LoadJSON(ctx context.Context, path string, v any) error {
	data, err := a.store.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return nil
}

// SaveContent stores a unit's accepted prose.
func (a *Archive) SaveContent(ctx context.Context, workID, unitID, content string) error {
	return a.store.Save(ctx, ContentPath(workID, unitID), []byte(content))
}

// ListUnits returns the unit IDs with a stored result for the work.
func (a *Archive) ListUnits(ctx context.Context, workID string) ([]string, error) {
	matches, err := a.store.List(ctx, filepath.Join("works", workID, "units", "*", "result.json"))
	if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(matches))
	for _, m := range matches {
		units = append(units, filepath.Base(filepath.Dir(m)))
	}
	return units, nil
}

// HasResult reports whether a unit already has a terminal result, which lets
// a rerun skip completed units.
func (a *Archive) HasResult(ctx context.Context, workID, unitID string) bool {
	return a.store.Exists(ctx, ResultPath(workID, unitID))
}
