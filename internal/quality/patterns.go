package quality

import (
	"strconv"
	"strings"
)

// Pattern guards are non-negotiable: when one matches, the weighted total is
// capped regardless of how well the judged criteria scored.

// boilerplateOpenings are openings the pipeline never accepts uncapped.
var boilerplateOpenings = []string{
	"it was a dark and stormy night",
	"little did he know",
	"little did she know",
	"little did they know",
	"in a world where",
	"once upon a time",
	"the sun rose over",
}

const (
	repeatedPhraseWords = 4 // phrase length checked for repetition
	repeatedPhraseLimit = 3 // occurrences at which the cap applies
)

// patternViolations returns one issue per matched guard.
func patternViolations(text string) []Issue {
	var issues []Issue
	lower := strings.ToLower(text)

	opening := lower
	if len(opening) > 200 {
		opening = opening[:200]
	}
	for _, phrase := range boilerplateOpenings {
		if strings.Contains(opening, phrase) {
			issues = append(issues, Issue{
				Severity: IssueMajor,
				Source:   "pattern",
				Message:  "boilerplate opening: " + phrase,
			})
		}
	}

	if phrase, count := mostRepeatedPhrase(lower); count >= repeatedPhraseLimit {
		issues = append(issues, Issue{
			Severity: IssueMajor,
			Source:   "pattern",
			Message:  "phrase repeated " + strconv.Itoa(count) + " times: " + phrase,
		})
	}

	return issues
}

// mostRepeatedPhrase finds the most frequent n-word phrase in the text.
func mostRepeatedPhrase(lower string) (string, int) {
	words := strings.Fields(lower)
	if len(words) < repeatedPhraseWords {
		return "", 0
	}

	counts := make(map[string]int)
	best, bestCount := "", 0
	for i := 0; i+repeatedPhraseWords <= len(words); i++ {
		phrase := strings.Join(words[i:i+repeatedPhraseWords], " ")
		counts[phrase]++
		if counts[phrase] > bestCount {
			best, bestCount = phrase, counts[phrase]
		}
	}
	return best, bestCount
}
