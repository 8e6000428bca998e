package assembly

import (
	"strings"
	"testing"

	"github.com/vampirenirmal/storyforge/internal/knowledge"
	"github.com/vampirenirmal/storyforge/internal/tokens"
)

func testPool() *Pool {
	return &Pool{
		Characters: []CharacterProfile{
			{Name: "Mira", Role: "protagonist", Description: "A lighthouse keeper's daughter with blue eyes.", Arc: "From dutiful to defiant.", Voice: "Clipped, observant."},
			{Name: "Tomas", Role: "antagonist", Description: "Harbor master with a long memory.", Arc: "Slow unmasking."},
		},
		Settings: []SettingProfile{
			{Name: "Thornwick", Description: "A fishing town north of the marshes.", Atmosphere: "Salt, fog, suspicion."},
		},
		PlotArcs: []PlotArc{
			{Name: "The missing ledger", Description: "Who took the harbor ledger and why.", Units: []int{1, 2, 3}},
			{Name: "The storm debt", Description: "An old debt comes due.", Units: []int{5, 6}},
		},
		Recap: "Mira found the cellar door unlocked and the ledger gone.",
		Foreshadowing: []Foreshadow{
			{ID: "fs1", Hint: "The harbor bell rings once at odd hours.", PlantAt: 1, PayoffAt: 4},
		},
	}
}

func testUnit() UnitSpec {
	return UnitSpec{
		WorkID:     "work_1",
		ChapterNum: 1,
		SceneNum:   1,
		Title:      "The empty cellar",
		Summary:    "Mira confronts Tomas about the ledger.",
		Objective:  "Establish distrust between Mira and Tomas.",
		Characters: []string{"Mira", "Tomas"},
		Locations:  []string{"Thornwick"},
		Position:   1,
	}
}

func newTestAssembler(budgets Budgets) (*Assembler, *knowledge.Store) {
	store := knowledge.NewStore(nil)
	estimator := tokens.NewEstimator(tokens.ModelProfile{Language: "en"})
	return NewAssembler(store, estimator, budgets, nil), store
}

func TestBuildResolvesEntitiesAndSections(t *testing.T) {
	asm, _ := newTestAssembler(DefaultBudgets())

	pack, err := asm.Build(testUnit(), testPool(), "")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	wantEntities := []string{"mira", "tomas", "thornwick"}
	if len(pack.ActiveEntities) != len(wantEntities) {
		t.Fatalf("active entities = %v, want %v", pack.ActiveEntities, wantEntities)
	}
	for i, e := range wantEntities {
		if pack.ActiveEntities[i] != e {
			t.Errorf("entity[%d] = %q, want %q", i, pack.ActiveEntities[i], e)
		}
	}

	if !strings.Contains(pack.CharacterContext, "Mira") || !strings.Contains(pack.CharacterContext, "Tomas") {
		t.Errorf("character context missing entities: %q", pack.CharacterContext)
	}
	if !strings.Contains(pack.SettingContext, "Thornwick") {
		t.Errorf("setting context missing location: %q", pack.SettingContext)
	}
	if !strings.Contains(pack.PlotContext, "missing ledger") {
		t.Errorf("plot context should include arcs touching position 1: %q", pack.PlotContext)
	}
	if strings.Contains(pack.PlotContext, "storm debt") {
		t.Errorf("plot context should exclude arcs not touching position 1: %q", pack.PlotContext)
	}
	if len(pack.Foreshadowing) != 1 || !strings.Contains(pack.Foreshadowing[0], "Plant") {
		t.Errorf("foreshadowing plant entry missing: %v", pack.Foreshadowing)
	}
	if pack.EstimatedTokens <= 0 {
		t.Error("pack must carry its own token estimate")
	}
}

func TestBuildMalformedInput(t *testing.T) {
	asm, _ := newTestAssembler(DefaultBudgets())

	if _, err := asm.Build(testUnit(), nil, ""); err == nil {
		t.Error("Build() should fail on nil pool")
	}

	unit := testUnit()
	unit.Characters = nil
	unit.Locations = nil
	if _, err := asm.Build(unit, testPool(), ""); err == nil {
		t.Error("Build() should fail when no entities resolve")
	}
}

func TestBuildPullsRelevantFactsOnly(t *testing.T) {
	asm, store := newTestAssembler(DefaultBudgets())

	staging := store.NewStaging("chapter_0")
	f1, _ := knowledge.NewFact("Mira has blue eyes", knowledge.KindAppearance, "chapter_0", []string{"mira"}, 0.9)
	f2, _ := knowledge.NewFact("The abbot knows the tide tables", knowledge.KindKnowledge, "chapter_0", []string{"abbot"}, 0.9)
	staging.Add(f1)
	staging.Add(f2)
	store.Commit(staging)

	pack, err := asm.Build(testUnit(), testPool(), "")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if len(pack.Facts) != 1 {
		t.Fatalf("pack has %d facts, want 1 (only entity-relevant)", len(pack.Facts))
	}
	if pack.Facts[0].Text != "Mira has blue eyes" {
		t.Errorf("wrong fact pulled: %q", pack.Facts[0].Text)
	}
}

func TestBuildFactCap(t *testing.T) {
	budgets := DefaultBudgets()
	budgets.MaxFacts = 3
	asm, store := newTestAssembler(budgets)

	staging := store.NewStaging("chapter_0")
	topics := []string{"old road", "cellar key", "harbor gate", "north tower", "tide tables", "salt cellar"}
	for _, topic := range topics {
		f, _ := knowledge.NewFact("Mira knows about the "+topic, knowledge.KindKnowledge, "chapter_0", []string{"mira"}, 0.9)
		staging.Facts = append(staging.Facts, f)
	}
	store.Commit(staging)

	pack, err := asm.Build(testUnit(), testPool(), "")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(pack.Facts) > 3 {
		t.Errorf("pack has %d facts, cap is 3", len(pack.Facts))
	}
}

func TestBuildPreviousTail(t *testing.T) {
	budgets := DefaultBudgets()
	budgets.PreviousTailChars = 50
	asm, _ := newTestAssembler(budgets)

	previous := strings.Repeat("and the waves kept coming ", 40) + "until the bell rang."
	pack, err := asm.Build(testUnit(), testPool(), previous)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if len(pack.PreviousTail) > 50 {
		t.Errorf("previous tail %d chars, budget 50", len(pack.PreviousTail))
	}
	if !strings.HasSuffix(pack.PreviousTail, "until the bell rang.") {
		t.Errorf("tail should keep the ending: %q", pack.PreviousTail)
	}
}

// Budget invariant: a pool 3x over budget truncates in the documented order
// and the final estimate reflects the post-truncation pack.
func TestBuildTruncatesInPriorityOrder(t *testing.T) {
	budgets := DefaultBudgets()
	budgets.MaxContextTokens = 200
	budgets.EntityFieldChars = 4000
	asm, store := newTestAssembler(budgets)

	pool := testPool()
	pool.Recap = strings.Repeat("recap sentence about the ledger theft ", 10)
	pool.Characters[0].Description = strings.Repeat("character detail ", 60)
	pool.Settings[0].Description = strings.Repeat("setting detail ", 60)
	pool.PlotArcs[0].Description = strings.Repeat("plot detail ", 60)

	staging := store.NewStaging("chapter_0")
	for _, topic := range []string{"road", "key", "gate", "tower", "tables"} {
		f, _ := knowledge.NewFact("Mira knows about the "+topic+" and much more besides", knowledge.KindKnowledge, "chapter_0", []string{"mira"}, 0.9)
		staging.Facts = append(staging.Facts, f)
	}
	store.Commit(staging)

	pack, err := asm.Build(testUnit(), pool, strings.Repeat("previous content ", 100))
	if err != nil {
		t.Fatalf("Build() should truncate, not fail: %v", err)
	}

	if pack.EstimatedTokens > budgets.MaxContextTokens {
		t.Errorf("estimated tokens %d exceed budget %d", pack.EstimatedTokens, budgets.MaxContextTokens)
	}
	if len(pack.Truncated) == 0 {
		t.Fatal("over-budget pack should record truncated sections")
	}
	if pack.Truncated[0] != "facts" {
		t.Errorf("first dropped section = %q, want facts", pack.Truncated[0])
	}

	// Dropped sections must follow the fixed order with no skips.
	order := []string{"facts", "plot_context", "setting_context", "character_context", "recap"}
	for i, name := range pack.Truncated {
		if i < len(order) && name != order[i] {
			t.Errorf("truncation order[%d] = %q, want %q", i, name, order[i])
		}
	}
}

func TestBuildWithinBudgetNoTruncation(t *testing.T) {
	asm, _ := newTestAssembler(DefaultBudgets())

	pack, err := asm.Build(testUnit(), testPool(), "short previous scene ending.")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(pack.Truncated) != 0 {
		t.Errorf("small pack should not truncate, dropped: %v", pack.Truncated)
	}
	if pack.EstimatedTokens > DefaultBudgets().MaxContextTokens {
		t.Errorf("estimate %d over default budget", pack.EstimatedTokens)
	}
}

func TestRenderIncludesSections(t *testing.T) {
	asm, _ := newTestAssembler(DefaultBudgets())
	pack, err := asm.Build(testUnit(), testPool(), "the bell rang once.")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	rendered := pack.Render()
	for _, header := range []string{"## Recap", "## Characters", "## Setting", "## Plot", "## Foreshadowing", "## Previous scene ending"} {
		if !strings.Contains(rendered, header) {
			t.Errorf("rendered pack missing %q", header)
		}
	}
}
