package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FactKind classifies what a fact claims about the fictional universe.
type FactKind string

const (
	KindAppearance   FactKind = "appearance"
	KindTrait        FactKind = "trait"
	KindKnowledge    FactKind = "knowledge"
	KindGeography    FactKind = "geography"
	KindRule         FactKind = "rule"
	KindTimeline     FactKind = "timeline"
	KindRelationship FactKind = "relationship"
	KindObjectState  FactKind = "object_state"
)

// Kinds whose facts can never be superseded, only contradicted. Knowledge,
// relationships and object state move with the story; appearance, geography
// and world rules do not.
var immutableKinds = map[FactKind]bool{
	KindAppearance: true,
	KindGeography:  true,
	KindRule:       true,
}

// Fact is an atomic, typed, entity-tagged claim about the universe.
type Fact struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Kind       FactKind  `json:"kind"`
	Source     string    `json:"source"`
	Entities   []string  `json:"entities"`
	Immutable  bool      `json:"immutable"`
	Confidence float64   `json:"confidence"`
	AssertedAt time.Time `json:"asserted_at"`
}

// NewFact builds a fact with a generated ID. Immutability follows the kind
// unless the caller overrides it afterwards.
func NewFact(text string, kind FactKind, source string, entities []string, confidence float64) (*Fact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("fact text cannot be empty")
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("fact requires at least one entity tag")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence must be in [0,1], got %f", confidence)
	}

	return &Fact{
		ID:         fmt.Sprintf("fact_%s", uuid.New().String()[:8]),
		Text:       strings.TrimSpace(text),
		Kind:       kind,
		Source:     source,
		Entities:   normalizeEntities(entities),
		Immutable:  immutableKinds[kind],
		Confidence: confidence,
		AssertedAt: time.Now().UTC(),
	}, nil
}

// Mentions reports whether the fact is tagged with the given entity.
func (f *Fact) Mentions(entity string) bool {
	needle := strings.ToLower(strings.TrimSpace(entity))
	for _, e := range f.Entities {
		if e == needle {
			return true
		}
	}
	return false
}

func normalizeEntities(entities []string) []string {
	out := make([]string, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
