package repair

import (
	"github.com/vampirenirmal/storyforge/internal/provider"
)

// ContextSize selects how much of the assembled context a strategy feeds the
// model. Later attempts narrow the context so the model has fewer ways to
// wander off the objective.
type ContextSize string

const (
	ContextFull       ContextSize = "full"
	ContextSimplified ContextSize = "simplified"
	ContextMinimal    ContextSize = "minimal"
)

// Strategy is one row of the escalation ladder.
type Strategy struct {
	Name         string
	Tier         provider.Tier
	Context      ContextSize
	Temperature  float64
	MaxTokens    int
	Instructions string // extra directive appended to the prompt, may be empty
}

// MaxContentAttempts is the number of scored generation attempts before the
// engine falls back. The fallback itself is always attempt MaxContentAttempts+1.
const MaxContentAttempts = 3

// ladder is the full escalation table, indexed by attempt number. Tier never
// decreases and context never widens as attempts increase. Keeping it as one
// static table means the orchestrator holds no escalation branching of its own.
var ladder = [MaxContentAttempts]Strategy{
	{
		Name:        "baseline",
		Tier:        provider.TierStandard,
		Context:     ContextFull,
		Temperature: 0.8,
		MaxTokens:   4096,
	},
	{
		Name:        "escalated",
		Tier:        provider.TierEnhanced,
		Context:     ContextSimplified,
		Temperature: 0.6,
		MaxTokens:   4096,
		Instructions: "The previous draft failed validation. Follow the scene objective exactly. " +
			"Do not introduce new characters, locations or established-fact changes.",
	},
	{
		Name:        "last_resort",
		Tier:        provider.TierMaximum,
		Context:     ContextMinimal,
		Temperature: 0.4,
		MaxTokens:   4096,
		Instructions: "Earlier drafts failed validation twice. Write the simplest possible " +
			"version of this scene: short declarative sentences, only the listed characters, " +
			"no subplots, no flourishes. Completing the objective is the only goal.",
	},
}

// ForAttempt returns the strategy for a 1-based attempt number. ok is false
// once the ladder is exhausted and the caller must fall back.
func ForAttempt(n int) (Strategy, bool) {
	if n < 1 || n > MaxContentAttempts {
		return Strategy{}, false
	}
	return ladder[n-1], true
}

// FallbackStrategy describes the terminal guaranteed-progress path. It is
// deterministic and spends no provider budget, so it can never itself fail.
func FallbackStrategy() Strategy {
	return Strategy{
		Name:    "fallback",
		Tier:    provider.TierStandard,
		Context: ContextMinimal,
	}
}
