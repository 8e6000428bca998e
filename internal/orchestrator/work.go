package orchestrator

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyforge/internal/assembly"
)

// Work is the generation plan for one long-form piece: an ordered list of
// units plus an optional spend cap.
type Work struct {
	ID        string     `yaml:"id" validate:"required"`
	Title     string     `yaml:"title"`
	BudgetUSD float64    `yaml:"budget_usd"`
	Units     []UnitPlan `yaml:"units" validate:"required,min=1,dive"`
}

// UnitPlan is the work-file shape of one unit. It converts into the
// assembly spec with positions assigned by file order.
type UnitPlan struct {
	Chapter     int      `yaml:"chapter" validate:"required,min=1"`
	Scene       int      `yaml:"scene" validate:"required,min=1"`
	Title       string   `yaml:"title"`
	Summary     string   `yaml:"summary"`
	Objective   string   `yaml:"objective" validate:"required"`
	Characters  []string `yaml:"characters" validate:"required,min=1"`
	Locations   []string `yaml:"locations"`
	TargetWords int      `yaml:"target_words"`
}

// LoadWork reads and validates a work file.
func LoadWork(path string) (*Work, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading work file: %w", err)
	}

	var work Work
	if err := yaml.Unmarshal(data, &work); err != nil {
		return nil, fmt.Errorf("parsing work file: %w", err)
	}
	if err := work.Validate(); err != nil {
		return nil, err
	}
	return &work, nil
}

// Validate enforces the work-file contract, including unique unit identity.
func (w *Work) Validate() error {
	if err := validator.New().Struct(w); err != nil {
		return fmt.Errorf("invalid work %s: %w", w.ID, err)
	}

	seen := make(map[string]bool, len(w.Units))
	for _, plan := range w.Units {
		key := fmt.Sprintf("chapter_%d_scene_%d", plan.Chapter, plan.Scene)
		if seen[key] {
			return fmt.Errorf("invalid work %s: duplicate unit %s", w.ID, key)
		}
		seen[key] = true
	}
	return nil
}

// UnitSpecs converts the plan into ordered generation specs.
func (w *Work) UnitSpecs() []assembly.UnitSpec {
	specs := make([]assembly.UnitSpec, 0, len(w.Units))
	for i, plan := range w.Units {
		specs = append(specs, assembly.UnitSpec{
			WorkID:      w.ID,
			ChapterNum:  plan.Chapter,
			SceneNum:    plan.Scene,
			Title:       plan.Title,
			Summary:     plan.Summary,
			Objective:   plan.Objective,
			Characters:  plan.Characters,
			Locations:   plan.Locations,
			Position:    i + 1,
			TargetWords: plan.TargetWords,
		})
	}
	return specs
}
