package knowledge

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Similarity thresholds. Above sameFactThreshold two statements are treated
// as restatements of the same fact; above mergeThreshold a new fact merges
// into an existing one instead of duplicating it.
const (
	sameFactThreshold = 0.80
	mergeThreshold    = 0.65
)

// ContradictionType classifies how a candidate statement conflicts with a
// stored fact.
type ContradictionType string

const (
	ContradictionDirect   ContradictionType = "direct"
	ContradictionTemporal ContradictionType = "temporal"
	ContradictionLogical  ContradictionType = "logical"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Contradiction records one conflict between generated text and the store.
type Contradiction struct {
	Type         ContradictionType `json:"type"`
	Severity     Severity          `json:"severity"`
	Entity       string            `json:"entity"`
	Kind         FactKind          `json:"kind"`
	ExistingID   string            `json:"existing_id"`
	ExistingText string            `json:"existing_text"`
	NewText      string            `json:"new_text"`
	SuggestedFix string            `json:"suggested_fix,omitempty"`
	AutoFixable  bool              `json:"auto_fixable"`
}

// CheckResult is the outcome of checking one unit of text against the store.
type CheckResult struct {
	Contradictions []Contradiction
	FactsAdded     int
	Staged         *Staging
}

// HasCritical reports whether any contradiction is critical.
func (r CheckResult) HasCritical() bool {
	for _, c := range r.Contradictions {
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Checker extracts facts from text and checks them against the store.
// Extraction and checking are deterministic string work so the same pair of
// facts always yields the same verdict.
type Checker struct {
	store    *Store
	entities []string
	logger   *slog.Logger
}

// NewChecker builds a checker scoped to the known entity names of one work.
func NewChecker(store *Store, knownEntities []string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		store:    store,
		entities: normalizeEntities(knownEntities),
		logger:   logger.With("component", "consistency_checker"),
	}
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+|[.!?]+$`)

// kindPatterns map signal phrases to fact kinds. First match wins, so more
// specific signals sit before generic ones.
var kindPatterns = []struct {
	kind    FactKind
	signals []string
}{
	{KindAppearance, []string{"eyes", "hair", "scar", "tall", "short", "wears", "beard", "skin", "face"}},
	{KindGeography, []string{"north of", "south of", "east of", "west of", "located", "lies", "borders", "capital"}},
	{KindRule, []string{"magic", "forbidden", "law of", "cannot ever", "always requires", "custom of"}},
	{KindTimeline, []string{"years ago", "yesterday", "last winter", "before the", "after the war", "when she was", "when he was"}},
	{KindRelationship, []string{"brother", "sister", "mother", "father", "married", "loves", "hates", "friend", "enemy", "ally"}},
	{KindObjectState, []string{"broken", "locked", "carries", "holds", "lost the", "destroyed", "sealed"}},
	{KindKnowledge, []string{"knows", "learned", "discovered", "realizes", "remembers", "secret", "aware"}},
}

// Extract pulls typed facts from text. Only sentences mentioning a known
// entity and matching a kind signal produce facts; near-duplicates within the
// same extraction merge in the staging area.
func (c *Checker) Extract(text, sourceID string) []*Fact {
	staging := c.store.NewStaging(sourceID)
	c.extractInto(staging, text, sourceID)
	return staging.Facts
}

func (c *Checker) extractInto(staging *Staging, text, sourceID string) {
	for _, sentence := range splitSentences(text) {
		entities := c.mentionedEntities(sentence)
		if len(entities) == 0 {
			continue
		}
		kind, ok := classifyKind(sentence)
		if !ok {
			continue
		}
		fact, err := NewFact(sentence, kind, sourceID, entities, extractionConfidence(sentence))
		if err != nil {
			continue
		}
		staging.Add(fact)
	}
}

// Check extracts candidate facts from text and compares each against stored
// facts sharing an entity and kind. Candidates stay staged; the caller commits
// them only after the unit passes validation.
func (c *Checker) Check(text, sourceID string) CheckResult {
	staging := c.store.NewStaging(sourceID)
	c.extractInto(staging, text, sourceID)

	var contradictions []Contradiction
	seenPairs := make(map[string]bool)
	for _, candidate := range staging.Facts {
		for _, entity := range candidate.Entities {
			for _, existing := range c.store.ByEntityKind(entity, candidate.Kind) {
				pairKey := existing.ID + "|" + candidate.ID
				if seenPairs[pairKey] {
					continue
				}
				seenPairs[pairKey] = true
				if con, ok := c.comparePair(existing, candidate, entity); ok {
					contradictions = append(contradictions, con)
				}
			}
		}
	}

	if len(contradictions) > 0 {
		c.logger.Info("contradictions detected",
			"source", sourceID,
			"count", len(contradictions),
			"staged_facts", len(staging.Facts))
	}

	return CheckResult{
		Contradictions: contradictions,
		FactsAdded:     len(staging.Facts),
		Staged:         staging,
	}
}

// comparePair decides, for one existing/candidate pair, whether the candidate
// contradicts the stored fact. Deterministic given the same two facts.
func (c *Checker) comparePair(existing, candidate *Fact, entity string) (Contradiction, bool) {
	sim := Similarity(existing.Text, candidate.Text)
	if sim >= sameFactThreshold {
		return Contradiction{}, false
	}

	// Statements about different aspects of the same entity (eyes vs hair)
	// only conflict when they share an attribute anchor. The entity name
	// itself is not an anchor.
	anchor := sharedAnchor(existing.Text, candidate.Text, entity)
	if anchor == "" {
		return Contradiction{}, false
	}

	con := Contradiction{
		Entity:       entity,
		Kind:         existing.Kind,
		ExistingID:   existing.ID,
		ExistingText: existing.Text,
		NewText:      candidate.Text,
	}

	switch {
	case existing.Immutable:
		// Immutable facts are canonical: the stored text is the replacement,
		// which is exactly what makes the violation auto-fixable.
		con.Type = ContradictionDirect
		con.Severity = SeverityCritical
		con.SuggestedFix = existing.Text
		con.AutoFixable = true
	case existing.Kind == KindRule:
		con.Type = ContradictionLogical
		con.Severity = SeverityMajor
	default:
		// Mutable facts may be legitimately overwritten by later events, so
		// conflicts surface conservatively at reduced severity rather than
		// being dropped.
		con.Type = ContradictionTemporal
		con.Severity = SeverityMinor
		if candidate.Confidence >= 0.8 && existing.Confidence >= 0.8 {
			con.Severity = SeverityMajor
		}
	}

	return con, true
}

// ApplyFix rewrites only the offending sentence of text, replacing it with the
// canonical fact text. Returns the text unchanged if the contradiction is not
// auto-fixable or the offending span cannot be located.
func ApplyFix(text string, con Contradiction) (string, error) {
	if !con.AutoFixable {
		return text, fmt.Errorf("contradiction is not auto-fixable")
	}
	if !strings.Contains(text, con.NewText) {
		return text, fmt.Errorf("offending span not found in text")
	}
	return strings.Replace(text, con.NewText, con.SuggestedFix, 1), nil
}

func (c *Checker) mentionedEntities(sentence string) []string {
	lower := strings.ToLower(sentence)
	var out []string
	for _, entity := range c.entities {
		if strings.Contains(lower, entity) {
			out = append(out, entity)
		}
	}
	return out
}

func classifyKind(sentence string) (FactKind, bool) {
	lower := strings.ToLower(sentence)
	for _, kp := range kindPatterns {
		for _, signal := range kp.signals {
			if strings.Contains(lower, signal) {
				return kp.kind, true
			}
		}
	}
	return "", false
}

// extractionConfidence is higher for short declarative statements; hedged
// sentences score lower.
func extractionConfidence(sentence string) float64 {
	lower := strings.ToLower(sentence)
	conf := 0.9
	for _, hedge := range []string{"maybe", "perhaps", "might", "seemed", "appeared to", "rumor"} {
		if strings.Contains(lower, hedge) {
			conf = 0.5
			break
		}
	}
	if len(strings.Fields(sentence)) > 30 {
		conf -= 0.2
	}
	return conf
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Similarity is the Jaccard overlap of lowercased word sets.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// stopWords are excluded from anchor detection so that pairs only anchor on
// content words.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "has": true, "have": true, "had": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "and": true, "or": true, "with": true,
	"his": true, "her": true, "their": true, "its": true, "that": true, "this": true,
}

// sharedAnchor returns a content word both statements share, or "". Words
// belonging to the entity name are skipped.
func sharedAnchor(a, b, entity string) string {
	entityWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(entity)) {
		entityWords[w] = true
	}

	setB := wordSet(b)
	for _, w := range strings.Fields(strings.ToLower(a)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) < 3 || stopWords[w] || entityWords[w] {
			continue
		}
		if setB[w] {
			return w
		}
	}
	return ""
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if w == "" || stopWords[w] {
			continue
		}
		set[w] = true
	}
	return set
}
