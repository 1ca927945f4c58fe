package textsim

import (
	"math"
	"testing"
)

func TestSimilarityIdentical(t *testing.T) {
	if got := Similarity("the quick brown fox", "the quick brown fox"); got != 1.0 {
		t.Fatalf("similarity of identical texts = %v, want 1.0", got)
	}
}

func TestSimilarityEmptyInputs(t *testing.T) {
	if got := Similarity("", ""); got != 1.0 {
		t.Fatalf("similarity of two empty texts = %v, want 1.0", got)
	}
	if got := Similarity("", "something"); got != 0.0 {
		t.Fatalf("similarity of empty vs non-empty = %v, want 0.0", got)
	}
	if got := Similarity("something", ""); got != 0.0 {
		t.Fatalf("similarity of non-empty vs empty = %v, want 0.0", got)
	}
	if got := Similarity("   ", "\t\n"); got != 1.0 {
		t.Fatalf("similarity of whitespace-only texts = %v, want 1.0", got)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a, b := "learning compounds over time", "time compounds all learning"
	if x, y := Similarity(a, b), Similarity(b, a); x != y {
		t.Fatalf("similarity not symmetric: %v vs %v", x, y)
	}
}

func TestSimilarityCaseInsensitive(t *testing.T) {
	if got := Similarity("The Sky", "the sky"); got != 1.0 {
		t.Fatalf("case-insensitive similarity = %v, want 1.0", got)
	}
}

// Trailing punctuation makes a distinct token, so a sentence and its
// exclaimed twin land below the duplicate threshold.
func TestSimilarityPunctuationMakesDistinctTokens(t *testing.T) {
	got := Similarity("The sky is blue today", "The sky is blue today!")
	want := 4.0 / 6.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("similarity = %v, want %v", got, want)
	}
	if got >= DefaultThreshold {
		t.Fatalf("similarity %v unexpectedly at or above threshold %v", got, DefaultThreshold)
	}
}

func TestFilterDuplicatesDropsRepeatedCandidate(t *testing.T) {
	kept, dropped := FilterDuplicates(
		[]string{"What is entropy?", "What is entropy?"},
		nil,
		DefaultThreshold,
	)
	if len(kept) != 1 {
		t.Fatalf("kept = %v, want single candidate", kept)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestFilterDuplicatesSeedsWithExisting(t *testing.T) {
	kept, dropped := FilterDuplicates(
		[]string{"what is entropy?", "define free energy"},
		[]string{"What is entropy?"},
		DefaultThreshold,
	)
	if len(kept) != 1 || kept[0] != "define free energy" {
		t.Fatalf("kept = %v, want only the new candidate", kept)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestFilterDuplicatesKeepsDistinct(t *testing.T) {
	candidates := []string{
		"The sky is blue today",
		"The sky is blue today!",
	}
	kept, dropped := FilterDuplicates(candidates, nil, DefaultThreshold)
	if len(kept) != 2 || dropped != 0 {
		t.Fatalf("kept=%v dropped=%d, want both kept under exact tokenizer", kept, dropped)
	}
}
