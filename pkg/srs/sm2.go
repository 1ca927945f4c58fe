// Package srs implements the SuperMemo-2 spaced repetition scheduler
// used for flashcard review planning.
package srs

import (
	"time"

	"readmaster/pkg/domain"
)

const (
	MinQuality = 0
	MaxQuality = 5

	// DefaultEaseFactor is the SM-2 starting easiness for new cards.
	DefaultEaseFactor = 2.5

	minEaseFactor = 1.3
)

// Scheduler holds SM-2 tuning parameters.
type Scheduler struct {
	// PassThreshold is the lowest quality counted as a successful recall.
	PassThreshold int
	// MaxInterval caps the repetition interval in days.
	MaxInterval int
	// InitialIntervals are fixed day counts for the first repetitions.
	InitialIntervals []int
}

// NewScheduler returns a Scheduler with the standard SM-2 defaults.
func NewScheduler() *Scheduler {
	return &Scheduler{
		PassThreshold:    3,
		MaxInterval:      365,
		InitialIntervals: []int{0, 1, 2, 3, 7, 10, 15, 20, 30},
	}
}

// ValidQuality reports whether q is a legal SM-2 quality grade.
func ValidQuality(q int) bool {
	return q >= MinQuality && q <= MaxQuality
}

// InitCard sets the SRS state for a newly created card: due immediately,
// default ease, no history.
func (s *Scheduler) InitCard(card domain.Flashcard, now time.Time) domain.Flashcard {
	card.DueAt = now
	card.IntervalDays = 0
	card.EaseFactor = DefaultEaseFactor
	card.Repetitions = 0
	card.Lapses = 0
	card.LastReviewedAt = nil
	return card
}

// Apply advances the card by one review at the given time.
//
// The easiness factor always moves with the grade and never drops below
// 1.3. A passing grade walks the fixed early-interval table until the
// repetition count outgrows it, then multiplies the current interval by
// the new ease, capped at MaxInterval. A failing grade resets the
// repetition count and schedules the card for the next day.
func (s *Scheduler) Apply(card domain.Flashcard, quality int, now time.Time) domain.Flashcard {
	q := float64(quality)
	ease := card.EaseFactor + (0.1 - (5.0-q)*(0.08+(5.0-q)*0.02))
	if ease < minEaseFactor {
		ease = minEaseFactor
	}

	var interval, repetitions int
	if quality >= s.PassThreshold {
		repetitions = card.Repetitions + 1
		if repetitions < len(s.InitialIntervals) {
			interval = s.InitialIntervals[repetitions]
		} else {
			interval = int(float64(card.IntervalDays) * ease)
			if interval > s.MaxInterval {
				interval = s.MaxInterval
			}
		}
	} else {
		repetitions = 0
		interval = 1
		card.Lapses++
	}

	reviewedAt := now
	card.EaseFactor = ease
	card.IntervalDays = interval
	card.Repetitions = repetitions
	card.LastReviewedAt = &reviewedAt
	card.DueAt = now.AddDate(0, 0, interval)
	card.UpdatedAt = now
	return card
}
