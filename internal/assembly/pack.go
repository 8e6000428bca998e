package assembly

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/storyforge/internal/knowledge"
)

// UnitSpec describes one generation target: a scene within a chapter.
type UnitSpec struct {
	WorkID      string   `json:"work_id"`
	ChapterNum  int      `json:"chapter_num"`
	SceneNum    int      `json:"scene_num"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Objective   string   `json:"objective"`
	Characters  []string `json:"characters"`
	Locations   []string `json:"locations"`
	Position    int      `json:"position"`     // 1-based position in the work
	TargetWords int      `json:"target_words"`
}

// ID identifies the unit within its work.
func (u UnitSpec) ID() string {
	return fmt.Sprintf("chapter_%d_scene_%d", u.ChapterNum, u.SceneNum)
}

// ContextPack is the bounded input assembled for one unit's generation call.
// Built fresh per unit and discarded afterwards.
type ContextPack struct {
	Facts            []*knowledge.Fact `json:"facts"`
	Recap            string            `json:"recap"`
	ActiveEntities   []string          `json:"active_entities"`
	SettingContext   string            `json:"setting_context"`
	PlotContext      string            `json:"plot_context"`
	CharacterContext string            `json:"character_context"`
	Foreshadowing    []string          `json:"foreshadowing"`
	PreviousTail     string            `json:"previous_unit_summary"`
	EstimatedTokens  int               `json:"estimated_tokens"`
	Truncated        []string          `json:"truncated,omitempty"` // sections dropped to fit budget
}

// Render flattens the pack into prompt text. Section order mirrors priority:
// the most load-bearing material sits closest to the unit objective.
func (p *ContextPack) Render() string {
	var b strings.Builder

	writeSection := func(header, body string) {
		if body == "" {
			return
		}
		b.WriteString("## ")
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	writeSection("Recap", p.Recap)
	writeSection("Characters", p.CharacterContext)
	writeSection("Setting", p.SettingContext)
	writeSection("Plot", p.PlotContext)

	if len(p.Facts) > 0 {
		var facts strings.Builder
		for _, f := range p.Facts {
			facts.WriteString("- ")
			facts.WriteString(f.Text)
			facts.WriteString("\n")
		}
		writeSection("Established facts", strings.TrimRight(facts.String(), "\n"))
	}

	if len(p.Foreshadowing) > 0 {
		writeSection("Foreshadowing", strings.Join(p.Foreshadowing, "\n"))
	}

	writeSection("Previous scene ending", p.PreviousTail)

	return strings.TrimRight(b.String(), "\n")
}
