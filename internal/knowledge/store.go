package knowledge

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Store is the single shared source of truth for what holds in one work's
// universe. It is append-mostly: facts enter through staged commits and only
// leave on an explicit universe reset.
type Store struct {
	mu       sync.RWMutex
	facts    map[string]*Fact
	byEntity map[string][]string // entity -> fact IDs in assertion order
	logger   *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		facts:    make(map[string]*Fact),
		byEntity: make(map[string][]string),
		logger:   logger.With("component", "fact_store"),
	}
}

// Staging holds facts extracted from one generation attempt. Nothing in a
// staging area is visible to lookups until Commit, so a cancelled or rejected
// attempt never leaves partial state behind.
type Staging struct {
	Source string
	Facts  []*Fact
}

func (s *Store) NewStaging(source string) *Staging {
	return &Staging{Source: source}
}

// Add appends a fact to the staging area, merging near-duplicates of facts
// already staged for the same entity and kind.
func (st *Staging) Add(fact *Fact) bool {
	for _, existing := range st.Facts {
		if existing.Kind == fact.Kind && sharesEntity(existing, fact) &&
			Similarity(existing.Text, fact.Text) >= mergeThreshold {
			if fact.Confidence > existing.Confidence {
				existing.Confidence = fact.Confidence
			}
			return false
		}
	}
	st.Facts = append(st.Facts, fact)
	return true
}

// Commit merges a staging area into the store atomically. Near-duplicates of
// already-committed facts are merged rather than appended. Returns the number
// of facts actually added.
func (s *Store) Commit(staging *Staging) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, fact := range staging.Facts {
		if dup := s.findDuplicateLocked(fact); dup != nil {
			if fact.Confidence > dup.Confidence {
				dup.Confidence = fact.Confidence
			}
			continue
		}
		s.facts[fact.ID] = fact
		for _, entity := range fact.Entities {
			s.byEntity[entity] = append(s.byEntity[entity], fact.ID)
		}
		added++
	}

	s.logger.Debug("staging committed",
		"source", staging.Source,
		"staged", len(staging.Facts),
		"added", added,
		"total", len(s.facts))

	return added
}

func (s *Store) findDuplicateLocked(fact *Fact) *Fact {
	for _, entity := range fact.Entities {
		for _, id := range s.byEntity[entity] {
			existing := s.facts[id]
			if existing.Kind == fact.Kind && Similarity(existing.Text, fact.Text) >= mergeThreshold {
				return existing
			}
		}
	}
	return nil
}

// ByEntityKind returns all facts sharing an entity and kind, in assertion order.
func (s *Store) ByEntityKind(entity string, kind FactKind) []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity = strings.ToLower(strings.TrimSpace(entity))
	var out []*Fact
	for _, id := range s.byEntity[entity] {
		if f := s.facts[id]; f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Relevant returns up to max facts touching any of the given entities.
// Immutable facts come first, then mutable facts most-recently-asserted first.
func (s *Store) Relevant(entities []string, max int) []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var candidates []*Fact
	for _, entity := range normalizeEntities(entities) {
		for _, id := range s.byEntity[entity] {
			if seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, s.facts[id])
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Immutable != candidates[j].Immutable {
			return candidates[i].Immutable
		}
		if candidates[i].Immutable {
			// Stable order for immutable facts: oldest assertion first.
			return candidates[i].AssertedAt.Before(candidates[j].AssertedAt)
		}
		return candidates[i].AssertedAt.After(candidates[j].AssertedAt)
	})

	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// Len returns the number of committed facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// All returns every committed fact ordered by assertion time, for snapshots.
func (s *Store) All() []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := make([]*Fact, 0, len(s.facts))
	for _, f := range s.facts {
		facts = append(facts, f)
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].AssertedAt.Equal(facts[j].AssertedAt) {
			return facts[i].ID < facts[j].ID
		}
		return facts[i].AssertedAt.Before(facts[j].AssertedAt)
	})
	return facts
}

// Reset drops every fact. Only used for an explicit universe reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.facts)
	s.facts = make(map[string]*Fact)
	s.byEntity = make(map[string][]string)
	s.logger.Warn("universe reset", "facts_dropped", dropped)
}

func sharesEntity(a, b *Fact) bool {
	for _, e := range a.Entities {
		if b.Mentions(e) {
			return true
		}
	}
	return false
}
