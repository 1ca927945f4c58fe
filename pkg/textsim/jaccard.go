// Package textsim scores text similarity and filters near-duplicate
// flashcard candidates before they are persisted.
package textsim

import "strings"

// DefaultThreshold is the Jaccard score at or above which two texts are
// treated as duplicates.
const DefaultThreshold = 0.8

// Similarity returns the Jaccard similarity of the two texts' word sets.
// Tokenization is lower-case whitespace splitting; punctuation stays glued
// to its word. Two empty texts score 1.0, one empty text scores 0.0.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(fields))
	for _, field := range fields {
		set[field] = true
	}
	return set
}

// FilterDuplicates walks candidates in order and drops any whose front is a
// near-duplicate of an existing front or of an earlier kept candidate.
// It returns the kept texts and the number dropped. Existing fronts seed
// the comparison set, so results depend on candidate order.
func FilterDuplicates(candidates, existing []string, threshold float64) (kept []string, dropped int) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	seen := make([]string, 0, len(existing)+len(candidates))
	seen = append(seen, existing...)

	kept = make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		duplicate := false
		for _, prior := range seen {
			if Similarity(candidate, prior) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		kept = append(kept, candidate)
		seen = append(seen, candidate)
	}
	return kept, dropped
}
