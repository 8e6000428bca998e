package repair

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/provider"
	"github.com/vampirenirmal/storyforge/internal/quality"
)

// Engine turns a strategy row plus an assembled context into one generation
// call. It holds no attempt state; the orchestrator owns the attempt loop and
// feeds the engine whichever strategy the ladder selects.
type Engine struct {
	gen    provider.Provider
	logger *slog.Logger
}

func NewEngine(gen provider.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gen:    gen,
		logger: logger.With("component", "repair_engine"),
	}
}

// Generate runs one attempt under the given strategy. priorIssues carries the
// previous report's findings so a repair attempt knows what to avoid; it is
// empty on the first attempt.
func (e *Engine) Generate(ctx context.Context, unit assembly.UnitSpec, pack *assembly.ContextPack, strat Strategy, priorIssues []quality.Issue) (*provider.Response, error) {
	prompt := e.composePrompt(unit, pack, strat, priorIssues)

	e.logger.Debug("generating unit",
		"unit", unit.ID(),
		"strategy", strat.Name,
		"tier", int(strat.Tier),
		"context_size", string(strat.Context))

	resp, err := e.gen.Generate(ctx, provider.Request{
		Prompt:      prompt,
		System:      "You are a fiction writer producing one scene of a longer work. Write only the scene prose.",
		Tier:        strat.Tier,
		Temperature: strat.Temperature,
		MaxTokens:   strat.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strat.Name, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, fmt.Errorf("strategy %s: %w", strat.Name, provider.ErrEmptyOutput)
	}
	return resp, nil
}

func (e *Engine) composePrompt(unit assembly.UnitSpec, pack *assembly.ContextPack, strat Strategy, priorIssues []quality.Issue) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Scene: chapter %d, scene %d", unit.ChapterNum, unit.SceneNum)
	if unit.Title != "" {
		fmt.Fprintf(&b, " (%s)", unit.Title)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Objective: %s\n", unit.Objective)
	if unit.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", unit.Summary)
	}
	if len(unit.Characters) > 0 {
		fmt.Fprintf(&b, "Characters present: %s\n", strings.Join(unit.Characters, ", "))
	}
	if len(unit.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s\n", strings.Join(unit.Locations, ", "))
	}
	if unit.TargetWords > 0 {
		fmt.Fprintf(&b, "Target length: about %d words\n", unit.TargetWords)
	}
	b.WriteString("\n")

	if rendered := renderContext(pack, strat.Context); rendered != "" {
		b.WriteString(rendered)
		b.WriteString("\n\n")
	}

	if len(priorIssues) > 0 {
		b.WriteString("## Problems in the previous draft\n")
		for _, issue := range priorIssues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Message)
		}
		b.WriteString("\n")
	}

	if strat.Instructions != "" {
		b.WriteString(strat.Instructions)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderContext narrows the pack before rendering. The pack itself is not
// mutated; the orchestrator reuses it across attempts.
func renderContext(pack *assembly.ContextPack, size ContextSize) string {
	if pack == nil {
		return ""
	}

	switch size {
	case ContextSimplified:
		trimmed := *pack
		trimmed.Foreshadowing = nil
		trimmed.PreviousTail = ""
		trimmed.PlotContext = ""
		return trimmed.Render()
	case ContextMinimal:
		minimal := assembly.ContextPack{
			Facts: pack.Facts,
			Recap: pack.Recap,
		}
		return minimal.Render()
	default:
		return pack.Render()
	}
}

// Fallback deterministically produces a minimal but complete scene from the
// unit spec alone. It makes no provider call, so exhausted attempts always
// still yield content for a human to rework.
func Fallback(unit assembly.UnitSpec, pack *assembly.ContextPack) string {
	var b strings.Builder

	subject := "The scene"
	if len(unit.Characters) > 0 {
		subject = humanList(unit.Characters)
	}

	where := ""
	if len(unit.Locations) > 0 {
		where = " at " + humanList(unit.Locations)
	}

	fmt.Fprintf(&b, "%s met%s.", subject, where)
	if unit.Summary != "" {
		fmt.Fprintf(&b, " %s", ensureSentence(unit.Summary))
	}
	b.WriteString("\n\n")

	if unit.Objective != "" {
		fmt.Fprintf(&b, "What mattered here: %s\n\n", ensureSentence(unit.Objective))
	}

	if pack != nil && pack.Recap != "" {
		fmt.Fprintf(&b, "Before this: %s\n\n", ensureSentence(pack.Recap))
	}

	b.WriteString("The moment passed, and the story moved on.")
	return b.String()
}

func humanList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

func ensureSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.ContainsAny(s[len(s)-1:], ".!?") {
		s += "."
	}
	return s
}
