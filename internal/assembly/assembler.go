package assembly

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/knowledge"
	"github.com/vampirenirmal/storyforge/internal/tokens"
)

// Budgets bound how much of the pool one pack may carry.
type Budgets struct {
	MaxContextTokens  int // hard ceiling on the whole pack
	MaxFacts          int // cap on facts pulled from the store
	EntityFieldChars  int // per-entity budget for each profile field
	PreviousTailChars int // how much of the previous unit's ending to carry
}

func DefaultBudgets() Budgets {
	return Budgets{
		MaxContextTokens:  6000,
		MaxFacts:          40,
		EntityFieldChars:  400,
		PreviousTailChars: 1200,
	}
}

// Assembler builds bounded context packs. Assembly has no side effects and
// never fails on over-budget input; it truncates and logs instead.
type Assembler struct {
	store     *knowledge.Store
	estimator *tokens.Estimator
	budgets   Budgets
	logger    *slog.Logger
}

func NewAssembler(store *knowledge.Store, estimator *tokens.Estimator, budgets Budgets, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:     store,
		estimator: estimator,
		budgets:   budgets,
		logger:    logger.With("component", "context_assembler"),
	}
}

// Build assembles the context pack for one unit. previousContent is the full
// accepted text of the preceding unit, or "" for the first unit. Fails only
// on malformed input.
func (a *Assembler) Build(unit UnitSpec, pool *Pool, previousContent string) (*ContextPack, error) {
	if pool == nil {
		return nil, fmt.Errorf("knowledge pool is required")
	}
	if len(unit.Characters) == 0 && len(unit.Locations) == 0 {
		return nil, fmt.Errorf("unit %s resolves no entities", unit.ID())
	}

	entities := a.resolveEntities(unit)

	pack := &ContextPack{
		Recap:            pool.Recap,
		ActiveEntities:   entities,
		CharacterContext: a.characterContext(unit, pool),
		SettingContext:   a.settingContext(unit, pool),
		PlotContext:      a.plotContext(unit, pool),
		Facts:            a.store.Relevant(entities, a.budgets.MaxFacts),
		Foreshadowing:    a.foreshadowing(unit, pool),
		PreviousTail:     tail(previousContent, a.budgets.PreviousTailChars),
	}

	a.fitToBudget(unit, pack)
	return pack, nil
}

func (a *Assembler) resolveEntities(unit UnitSpec) []string {
	var entities []string
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, unit.Characters...), unit.Locations...) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, key)
	}
	return entities
}

func (a *Assembler) characterContext(unit UnitSpec, pool *Pool) string {
	var b strings.Builder
	for _, name := range unit.Characters {
		profile, ok := pool.Character(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): %s", profile.Name, profile.Role,
			clip(profile.Description, a.budgets.EntityFieldChars))
		if profile.Arc != "" {
			fmt.Fprintf(&b, " Arc: %s", clip(profile.Arc, a.budgets.EntityFieldChars))
		}
		if profile.Voice != "" {
			fmt.Fprintf(&b, " Voice: %s", clip(profile.Voice, a.budgets.EntityFieldChars))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) settingContext(unit UnitSpec, pool *Pool) string {
	var b strings.Builder
	for _, name := range unit.Locations {
		profile, ok := pool.Setting(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %s", profile.Name, clip(profile.Description, a.budgets.EntityFieldChars))
		if profile.Atmosphere != "" {
			fmt.Fprintf(&b, " Atmosphere: %s", clip(profile.Atmosphere, a.budgets.EntityFieldChars))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// plotContext pulls only arcs that touch this unit's position.
func (a *Assembler) plotContext(unit UnitSpec, pool *Pool) string {
	var b strings.Builder
	for _, arc := range pool.PlotArcs {
		for _, pos := range arc.Units {
			if pos == unit.Position {
				fmt.Fprintf(&b, "%s: %s\n", arc.Name, clip(arc.Description, a.budgets.EntityFieldChars))
				break
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assembler) foreshadowing(unit UnitSpec, pool *Pool) []string {
	var out []string
	for _, f := range pool.Foreshadowing {
		switch unit.Position {
		case f.PlantAt:
			out = append(out, fmt.Sprintf("Plant subtly: %s", f.Hint))
		case f.PayoffAt:
			out = append(out, fmt.Sprintf("Pay off now: %s", f.Hint))
		}
	}
	return out
}

// fitToBudget drops sections in fixed priority order until the pack estimate
// is within the token ceiling: facts, then plot, then world, then character,
// then recap. As a last resort the previous-unit tail shrinks. The final
// estimate always reflects the post-truncation pack.
func (a *Assembler) fitToBudget(unit UnitSpec, pack *ContextPack) {
	pack.EstimatedTokens = a.estimatePack(pack)
	if pack.EstimatedTokens <= a.budgets.MaxContextTokens {
		return
	}

	raw := pack.EstimatedTokens

	drops := []struct {
		name string
		drop func()
	}{
		{"facts", func() { pack.Facts = nil }},
		{"plot_context", func() { pack.PlotContext = "" }},
		{"setting_context", func() { pack.SettingContext = "" }},
		{"character_context", func() { pack.CharacterContext = "" }},
		{"recap", func() { pack.Recap = "" }},
	}

	for _, d := range drops {
		if pack.EstimatedTokens <= a.budgets.MaxContextTokens {
			break
		}
		d.drop()
		pack.Truncated = append(pack.Truncated, d.name)
		pack.EstimatedTokens = a.estimatePack(pack)
	}

	// Everything droppable is gone; shrink the tail until the estimate fits.
	for pack.EstimatedTokens > a.budgets.MaxContextTokens && len(pack.PreviousTail) > 0 {
		pack.PreviousTail = tail(pack.PreviousTail, len(pack.PreviousTail)/2)
		if len(pack.PreviousTail) < 10 {
			pack.PreviousTail = ""
		}
		pack.EstimatedTokens = a.estimatePack(pack)
	}

	if pack.EstimatedTokens > a.budgets.MaxContextTokens {
		pack.Foreshadowing = nil
		pack.Truncated = append(pack.Truncated, "foreshadowing")
		pack.EstimatedTokens = a.estimatePack(pack)
	}

	a.logger.Warn("context pack truncated to fit budget",
		"unit", unit.ID(),
		"raw_tokens", raw,
		"final_tokens", pack.EstimatedTokens,
		"budget", a.budgets.MaxContextTokens,
		"dropped", strings.Join(pack.Truncated, ","))
}

func (a *Assembler) estimatePack(pack *ContextPack) int {
	parts := []string{
		pack.Recap,
		pack.CharacterContext,
		pack.SettingContext,
		pack.PlotContext,
		pack.PreviousTail,
	}
	for _, f := range pack.Facts {
		parts = append(parts, f.Text)
	}
	parts = append(parts, pack.Foreshadowing...)
	return a.estimator.EstimateAll(parts...)
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// tail returns the last n characters of s, starting at a word boundary.
func tail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if idx := strings.Index(cut, " "); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}
