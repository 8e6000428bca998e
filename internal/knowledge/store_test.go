package knowledge

import (
	"testing"
)

func mustFact(t *testing.T, text string, kind FactKind, entities []string, confidence float64) *Fact {
	t.Helper()
	f, err := NewFact(text, kind, "test", entities, confidence)
	if err != nil {
		t.Fatalf("NewFact(%q): %v", text, err)
	}
	return f
}

func TestNewFactValidation(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		entities   []string
		confidence float64
		wantErr    bool
	}{
		{name: "valid", text: "Mira has blue eyes", entities: []string{"mira"}, confidence: 0.9},
		{name: "empty text", text: "  ", entities: []string{"mira"}, confidence: 0.9, wantErr: true},
		{name: "no entities", text: "Mira has blue eyes", entities: nil, confidence: 0.9, wantErr: true},
		{name: "confidence out of range", text: "Mira has blue eyes", entities: []string{"mira"}, confidence: 1.5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFact(tt.text, KindAppearance, "src", tt.entities, tt.confidence)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFact() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestImmutabilityFollowsKind(t *testing.T) {
	tests := []struct {
		kind          FactKind
		wantImmutable bool
	}{
		{KindAppearance, true},
		{KindGeography, true},
		{KindRule, true},
		{KindKnowledge, false},
		{KindRelationship, false},
		{KindObjectState, false},
		{KindTimeline, false},
		{KindTrait, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := mustFact(t, "some claim about the world", tt.kind, []string{"mira"}, 0.9)
			if f.Immutable != tt.wantImmutable {
				t.Errorf("kind %s: immutable = %v, want %v", tt.kind, f.Immutable, tt.wantImmutable)
			}
		})
	}
}

func TestCommitIsAtomicAndVisible(t *testing.T) {
	store := NewStore(nil)

	staging := store.NewStaging("scene_1")
	staging.Add(mustFact(t, "Mira has blue eyes", KindAppearance, []string{"mira"}, 0.9))
	staging.Add(mustFact(t, "Mira knows the harbor password", KindKnowledge, []string{"mira"}, 0.8))

	// Nothing visible before commit.
	if store.Len() != 0 {
		t.Fatalf("store should be empty before commit, has %d facts", store.Len())
	}
	if got := store.ByEntityKind("mira", KindAppearance); len(got) != 0 {
		t.Fatalf("lookup before commit returned %d facts", len(got))
	}

	added := store.Commit(staging)
	if added != 2 {
		t.Errorf("Commit() added = %d, want 2", added)
	}
	if got := store.ByEntityKind("mira", KindAppearance); len(got) != 1 {
		t.Errorf("ByEntityKind() returned %d facts, want 1", len(got))
	}
}

func TestStagingMergesNearDuplicates(t *testing.T) {
	store := NewStore(nil)
	staging := store.NewStaging("scene_1")

	staging.Add(mustFact(t, "Mira has deep blue eyes", KindAppearance, []string{"mira"}, 0.7))
	added := staging.Add(mustFact(t, "Mira has deep blue eyes today", KindAppearance, []string{"mira"}, 0.9))

	if added {
		t.Error("near-duplicate should merge, not append")
	}
	if len(staging.Facts) != 1 {
		t.Fatalf("staging has %d facts, want 1", len(staging.Facts))
	}
	if staging.Facts[0].Confidence != 0.9 {
		t.Errorf("merge should keep higher confidence, got %f", staging.Facts[0].Confidence)
	}
}

func TestCommitMergesDuplicatesAcrossUnits(t *testing.T) {
	store := NewStore(nil)

	first := store.NewStaging("scene_1")
	first.Add(mustFact(t, "Mira has deep blue eyes", KindAppearance, []string{"mira"}, 0.9))
	store.Commit(first)

	second := store.NewStaging("scene_2")
	second.Add(mustFact(t, "Mira has deep blue eyes still", KindAppearance, []string{"mira"}, 0.8))
	added := store.Commit(second)

	if added != 0 {
		t.Errorf("duplicate across units should merge, added = %d", added)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d facts, want 1", store.Len())
	}
}

func TestRelevantPrioritizesImmutableThenRecency(t *testing.T) {
	store := NewStore(nil)

	s := store.NewStaging("setup")
	older := mustFact(t, "Mira knows the old road", KindKnowledge, []string{"mira"}, 0.9)
	newer := mustFact(t, "Mira knows the cellar key location", KindKnowledge, []string{"mira"}, 0.9)
	newer.AssertedAt = older.AssertedAt.Add(1)
	immutable := mustFact(t, "Mira has a scar across her palm", KindAppearance, []string{"mira"}, 0.9)
	s.Facts = append(s.Facts, older, newer, immutable)
	store.Commit(s)

	got := store.Relevant([]string{"Mira"}, 2)
	if len(got) != 2 {
		t.Fatalf("Relevant() returned %d facts, want 2", len(got))
	}
	if !got[0].Immutable {
		t.Errorf("first relevant fact should be immutable, got %q", got[0].Text)
	}
	if got[1].ID != newer.ID {
		t.Errorf("second fact should be most recent mutable, got %q", got[1].Text)
	}
}

func TestReset(t *testing.T) {
	store := NewStore(nil)
	s := store.NewStaging("setup")
	s.Add(mustFact(t, "Mira has blue eyes", KindAppearance, []string{"mira"}, 0.9))
	store.Commit(s)

	store.Reset()
	if store.Len() != 0 {
		t.Errorf("store has %d facts after reset, want 0", store.Len())
	}
	if got := store.ByEntityKind("mira", KindAppearance); len(got) != 0 {
		t.Errorf("lookup after reset returned %d facts", len(got))
	}
}
