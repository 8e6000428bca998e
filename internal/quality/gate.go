package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/knowledge"
	"github.com/vampirenirmal/storyforge/internal/provider"
)

// Criterion names. "structural" is scored by deterministic checks; the rest
// by a capability-appropriate judge call.
const (
	CriterionStructural = "structural"
	CriterionContinuity = "continuity"
	CriterionStyle      = "style"
	CriterionDialogue   = "dialogue"
	CriterionEngagement = "engagement"
)

// Config holds the gate's weights and thresholds. Weights must sum to 1.0;
// Validate enforces that at construction so a bad config fails at startup.
type Config struct {
	Weights          map[string]float64
	AcceptThreshold  float64 // weighted total at or above which output is accepted
	RepairThreshold  float64 // at or above which output is repairable
	StructuralFloor  float64 // below this the judge call is skipped entirely
	PatternCapScore  float64 // cap applied when a pattern guard matches
	JudgeTier        provider.Tier
	JudgeMaxTokens   int
}

func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			CriterionStructural: 0.20,
			CriterionContinuity: 0.25,
			CriterionStyle:      0.25,
			CriterionDialogue:   0.15,
			CriterionEngagement: 0.15,
		},
		AcceptThreshold: 85,
		RepairThreshold: 70,
		StructuralFloor: 40,
		PatternCapScore: 60,
		JudgeTier:       provider.TierStandard,
		JudgeMaxTokens:  1024,
	}
}

// Valid checks the configuration. Weight drift beyond a rounding epsilon is a
// configuration error, not something to normalize silently at runtime.
func (c Config) Valid() error {
	sum := 0.0
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("criterion %s has negative weight %f", name, w)
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("criterion weights sum to %f, must sum to 1.0", sum)
	}
	if c.AcceptThreshold <= c.RepairThreshold {
		return fmt.Errorf("accept threshold %f must exceed repair threshold %f", c.AcceptThreshold, c.RepairThreshold)
	}
	return nil
}

// Gate scores generated units and classifies them accept, repair or reject.
type Gate struct {
	cfg      Config
	judge    provider.Provider
	logger   *slog.Logger
}

func NewGate(cfg Config, judge provider.Provider, logger *slog.Logger) (*Gate, error) {
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("quality gate config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:    cfg,
		judge:  judge,
		logger: logger.With("component", "quality_gate"),
	}, nil
}

// Validate scores output text for one unit. Cheap deterministic checks run
// first; the judge call only happens when they clear the structural floor.
func (g *Gate) Validate(ctx context.Context, text string, unit assembly.UnitSpec, consistency knowledge.CheckResult) (*Report, error) {
	report := &Report{PerCriterion: make(map[string]float64)}

	structural, structuralIssues := g.structuralScore(text, unit)
	report.PerCriterion[CriterionStructural] = structural
	report.Issues = append(report.Issues, structuralIssues...)

	// Consistency findings always surface, never silently dropped.
	for _, con := range consistency.Contradictions {
		report.Issues = append(report.Issues, Issue{
			Severity: IssueSeverity(con.Severity),
			Source:   "consistency",
			Message:  fmt.Sprintf("%s contradiction on %s: %q vs %q", con.Type, con.Entity, con.NewText, con.ExistingText),
		})
	}

	patternIssues := patternViolations(text)
	report.Issues = append(report.Issues, patternIssues...)

	if structural < g.cfg.StructuralFloor {
		// Obviously broken output: don't spend a judge call on it.
		report.WeightedTotal = structural * g.cfg.Weights[CriterionStructural]
		report.Status = StatusReject
		g.logger.Info("structural floor not cleared, skipping judge",
			"unit", unit.ID(),
			"structural", structural,
			"floor", g.cfg.StructuralFloor)
		return report, nil
	}

	judged, err := g.judgeCriteria(ctx, text, unit)
	if err != nil {
		return nil, fmt.Errorf("judging criteria: %w", err)
	}
	for name, score := range judged {
		report.PerCriterion[name] = score
	}

	// Critical contradictions pull continuity down regardless of what the
	// judge thought of it.
	if consistency.HasCritical() {
		if report.PerCriterion[CriterionContinuity] > 40 {
			report.PerCriterion[CriterionContinuity] = 40
		}
	}

	total := 0.0
	for name, weight := range g.cfg.Weights {
		total += report.PerCriterion[name] * weight
	}
	report.WeightedTotal = total

	if len(patternIssues) > 0 && report.WeightedTotal > g.cfg.PatternCapScore {
		report.WeightedTotal = g.cfg.PatternCapScore
		report.ScoreCapped = true
	}

	report.Status = g.classify(report)

	g.logger.Info("unit validated",
		"unit", unit.ID(),
		"status", string(report.Status),
		"weighted_total", report.WeightedTotal,
		"issues", len(report.Issues),
		"capped", report.ScoreCapped)

	return report, nil
}

func (g *Gate) classify(report *Report) Status {
	switch {
	case report.WeightedTotal >= g.cfg.AcceptThreshold && !report.HasCritical():
		return StatusAccept
	case report.WeightedTotal >= g.cfg.RepairThreshold:
		return StatusRepair
	default:
		return StatusReject
	}
}

// structuralScore runs the cheap deterministic checks. Bit-identical for the
// same input.
func (g *Gate) structuralScore(text string, unit assembly.UnitSpec) (float64, []Issue) {
	var issues []Issue
	score := 100.0

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, []Issue{{Severity: IssueCritical, Source: "structural", Message: "empty output"}}
	}

	words := len(strings.Fields(trimmed))
	if unit.TargetWords > 0 {
		switch {
		case words < unit.TargetWords/2:
			score -= 40
			issues = append(issues, Issue{Severity: IssueMajor, Source: "structural",
				Message: fmt.Sprintf("output too short: %d words, target %d", words, unit.TargetWords)})
		case words > unit.TargetWords*2:
			score -= 20
			issues = append(issues, Issue{Severity: IssueMinor, Source: "structural",
				Message: fmt.Sprintf("output too long: %d words, target %d", words, unit.TargetWords)})
		}
	}

	if strings.Count(trimmed, "\n\n") == 0 && words > 150 {
		score -= 15
		issues = append(issues, Issue{Severity: IssueMinor, Source: "structural",
			Message: "no paragraph breaks"})
	}

	for _, placeholder := range []string{"[TODO", "[INSERT", "{{", "TK]", "XXX"} {
		if strings.Contains(trimmed, placeholder) {
			score -= 30
			issues = append(issues, Issue{Severity: IssueMajor, Source: "structural",
				Message: "unresolved placeholder: " + placeholder})
			break
		}
	}

	if !strings.ContainsAny(trimmed, "\"“”") && words > 200 {
		score -= 10
		issues = append(issues, Issue{Severity: IssueMinor, Source: "structural",
			Message: "no dialogue markers"})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

// judgeSchema is the fixed shape the judge must return. Missing or out-of-range
// values fall back to a neutral default instead of failing the attempt.
type judgeSchema struct {
	Continuity float64  `json:"continuity"`
	Style      float64  `json:"style"`
	Dialogue   float64  `json:"dialogue"`
	Engagement float64  `json:"engagement"`
	Notes      []string `json:"notes"`
}

const judgeDefaultScore = 70.0

func (g *Gate) judgeCriteria(ctx context.Context, text string, unit assembly.UnitSpec) (map[string]float64, error) {
	prompt := fmt.Sprintf(`Score this scene on four criteria from 0 to 100.

Scene objective: %s
Scene summary: %s

Scene text:
%s

Return JSON: {"continuity": n, "style": n, "dialogue": n, "engagement": n, "notes": ["..."]}`,
		unit.Objective, unit.Summary, text)

	resp, err := g.judge.Generate(ctx, provider.Request{
		Prompt:      prompt,
		System:      "You are a strict fiction editor. Score exactly as asked.",
		Tier:        g.cfg.JudgeTier,
		Temperature: 0.2,
		MaxTokens:   g.cfg.JudgeMaxTokens,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var parsed judgeSchema
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		g.logger.Warn("judge returned unparseable scores, using defaults",
			"unit", unit.ID(),
			"error", err)
		parsed = judgeSchema{}
	}

	return map[string]float64{
		CriterionContinuity: clampScore(parsed.Continuity),
		CriterionStyle:      clampScore(parsed.Style),
		CriterionDialogue:   clampScore(parsed.Dialogue),
		CriterionEngagement: clampScore(parsed.Engagement),
	}, nil
}

func clampScore(s float64) float64 {
	if s <= 0 {
		return judgeDefaultScore
	}
	if s > 100 {
		return 100
	}
	return s
}

// extractJSON strips markdown fences the judge sometimes wraps around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
