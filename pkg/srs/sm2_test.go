package srs

import (
	"math"
	"testing"
	"time"

	"readmaster/pkg/domain"
)

func TestApplyEaseFloor(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()
	card := domain.Flashcard{EaseFactor: 1.3, IntervalDays: 10, Repetitions: 3}

	got := s.Apply(card, 0, now)
	if got.EaseFactor != 1.3 {
		t.Fatalf("ease factor = %v, want floor 1.3", got.EaseFactor)
	}
}

func TestApplyFailResetsProgress(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()
	card := domain.Flashcard{EaseFactor: 2.5, IntervalDays: 30, Repetitions: 6, Lapses: 1}

	got := s.Apply(card, 2, now)
	if got.IntervalDays != 1 {
		t.Fatalf("interval after fail = %d, want 1", got.IntervalDays)
	}
	if got.Repetitions != 0 {
		t.Fatalf("repetitions after fail = %d, want 0", got.Repetitions)
	}
	if got.Lapses != 2 {
		t.Fatalf("lapses after fail = %d, want 2", got.Lapses)
	}
	if wantDue := now.AddDate(0, 0, 1); !got.DueAt.Equal(wantDue) {
		t.Fatalf("due after fail = %v, want %v", got.DueAt, wantDue)
	}
}

func TestApplyPassWalksEarlyIntervals(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()
	card := s.InitCard(domain.Flashcard{}, now)

	wantIntervals := []int{1, 2, 3, 7, 10, 15, 20, 30}
	for i, want := range wantIntervals {
		card = s.Apply(card, 4, now)
		if card.IntervalDays != want {
			t.Fatalf("repetition %d interval = %d, want %d", i+1, card.IntervalDays, want)
		}
	}
}

func TestApplyPassFormulaAfterTable(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()
	card := domain.Flashcard{EaseFactor: 2.5, IntervalDays: 30, Repetitions: 8}

	got := s.Apply(card, 5, now)
	// quality 5 raises ease to 2.6; 30 * 2.6 = 78.
	if got.IntervalDays != 78 {
		t.Fatalf("interval = %d, want 78", got.IntervalDays)
	}
	if math.Abs(got.EaseFactor-2.6) > 1e-9 {
		t.Fatalf("ease factor = %v, want 2.6", got.EaseFactor)
	}
}

func TestApplyPassCapsAtMaxInterval(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()
	card := domain.Flashcard{EaseFactor: 2.5, IntervalDays: 300, Repetitions: 12}

	got := s.Apply(card, 5, now)
	if got.IntervalDays != s.MaxInterval {
		t.Fatalf("interval = %d, want cap %d", got.IntervalDays, s.MaxInterval)
	}
}

func TestApplyEaseMovesWithGrade(t *testing.T) {
	s := NewScheduler()
	now := time.Now().UTC()

	hard := s.Apply(domain.Flashcard{EaseFactor: 2.5}, 3, now)
	// quality 3: EF' = 2.5 + (0.1 - 2*(0.08 + 2*0.02)) = 2.36.
	if math.Abs(hard.EaseFactor-2.36) > 1e-9 {
		t.Fatalf("ease after quality 3 = %v, want 2.36", hard.EaseFactor)
	}

	perfect := s.Apply(domain.Flashcard{EaseFactor: 2.5}, 5, now)
	if math.Abs(perfect.EaseFactor-2.6) > 1e-9 {
		t.Fatalf("ease after quality 5 = %v, want 2.6", perfect.EaseFactor)
	}
}

func TestValidQuality(t *testing.T) {
	for q := 0; q <= 5; q++ {
		if !ValidQuality(q) {
			t.Fatalf("quality %d should be valid", q)
		}
	}
	if ValidQuality(-1) || ValidQuality(6) {
		t.Fatal("out-of-range quality should be invalid")
	}
}
