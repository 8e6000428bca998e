package tokens

import (
	"strings"
	"unicode"
)

// ModelProfile describes the tokenization characteristics of a model family.
type ModelProfile struct {
	Family        string  // "anthropic", "openai", or "" for unknown
	Language      string  // ISO 639-1 target language, e.g. "en", "pl"
	CharsPerToken float64 // explicit override; 0 means derive from language
}

// Languages with heavy inflection tokenize denser than analytic languages.
// Ratios are deliberately conservative so downstream ceilings hold.
const (
	charsPerTokenInflected = 3.0
	charsPerTokenDefault   = 4.0
)

var inflectedLanguages = map[string]bool{
	"pl": true, "ru": true, "cs": true, "uk": true,
	"fi": true, "hu": true, "tr": true, "lt": true,
}

// Estimator converts text into a conservative token count estimate.
// Deterministic for the same input; never underestimates by more than
// the word-boundary rounding margin (one token per call).
type Estimator struct {
	profile ModelProfile
}

func NewEstimator(profile ModelProfile) *Estimator {
	return &Estimator{profile: profile}
}

// Estimate returns the estimated token count for text. Side-effect free.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	ratio := e.profile.CharsPerToken
	if ratio <= 0 {
		if inflectedLanguages[strings.ToLower(e.profile.Language)] {
			ratio = charsPerTokenInflected
		} else {
			ratio = charsPerTokenDefault
		}
	}

	// Whitespace runs collapse to a single separator before counting so
	// formatting-heavy text does not inflate the estimate arbitrarily,
	// then round up. Punctuation tends to split into its own tokens, so
	// count it on top of the character ratio.
	chars := 0
	punct := 0
	inSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				chars++
			}
			inSpace = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
			inSpace = false
		default:
			chars++
			inSpace = false
		}
	}

	estimate := int(float64(chars)/ratio) + punct + 1
	return estimate
}

// EstimateAll sums estimates across multiple parts. Each part carries its own
// rounding, which keeps the sum conservative relative to concatenation.
func (e *Estimator) EstimateAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += e.Estimate(p)
	}
	return total
}
