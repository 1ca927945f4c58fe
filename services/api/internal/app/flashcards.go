package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"readmaster/pkg/domain"
	"readmaster/pkg/srs"
)

const (
	defaultDueLimit = 20
	maxDueLimit     = 100
)

// ListFlashcards returns the caller's cards, optionally scoped to one book.
func (a *App) ListFlashcards(user domain.User, bookID string) ([]domain.Flashcard, error) {
	cards, err := a.store.ListFlashcardsByOwner(user.ID, bookID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	return cards, nil
}

// DueFlashcards returns cards due for review in study order: never-reviewed
// cards first, then hardest (lowest ease), then earliest due.
func (a *App) DueFlashcards(user domain.User, limit int) ([]domain.Flashcard, error) {
	if limit <= 0 || limit > maxDueLimit {
		limit = defaultDueLimit
	}
	cards, err := a.store.ListDueFlashcards(user.ID, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due flashcards: %w", err)
	}
	return cards, nil
}

// DeleteFlashcard soft-deletes one of the caller's cards.
func (a *App) DeleteFlashcard(user domain.User, id string) error {
	if _, err := a.ownedCard(user, id); err != nil {
		return err
	}
	if err := a.store.DeleteFlashcard(id); err != nil {
		return fmt.Errorf("delete flashcard: %w", err)
	}
	return nil
}

func (a *App) ownedCard(user domain.User, id string) (domain.Flashcard, error) {
	card, ok, err := a.store.GetFlashcard(id)
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("load flashcard: %w", err)
	}
	if !ok {
		return domain.Flashcard{}, ErrCardNotFound
	}
	if card.OwnerID != user.ID {
		return domain.Flashcard{}, ErrForbidden
	}
	return card, nil
}

// ReviewResult reports the rescheduled card plus gamification side effects.
type ReviewResult struct {
	Card         domain.Flashcard     `json:"card"`
	XPAwarded    int64                `json:"xpAwarded"`
	TotalXP      int64                `json:"totalXp"`
	Achievements []domain.Achievement `json:"achievements,omitempty"`
}

// ReviewFlashcard grades one recall attempt. The card is rescheduled with
// SM-2, the review is logged for streak and analytics purposes, and XP plus
// any review-count achievements are awarded.
func (a *App) ReviewFlashcard(ctx context.Context, user domain.User, cardID string, quality int) (ReviewResult, error) {
	if !srs.ValidQuality(quality) {
		return ReviewResult{}, fmt.Errorf("quality must be between %d and %d", srs.MinQuality, srs.MaxQuality)
	}
	card, err := a.ownedCard(user, cardID)
	if err != nil {
		return ReviewResult{}, err
	}
	now := time.Now().UTC()
	card = a.srs.Apply(card, quality, now)
	if err := a.store.SaveFlashcard(card); err != nil {
		return ReviewResult{}, fmt.Errorf("save flashcard: %w", err)
	}
	if err := a.store.AppendReviewLog(domain.ReviewLog{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		CardID:        card.ID,
		Quality:       quality,
		IntervalAfter: card.IntervalDays,
		EaseAfter:     card.EaseFactor,
		ReviewedAt:    now,
	}); err != nil {
		return ReviewResult{}, fmt.Errorf("log review: %w", err)
	}

	xp := reviewXP(quality)
	total, err := a.store.AddXP(user.ID, xp, "review", now)
	if err != nil {
		return ReviewResult{}, fmt.Errorf("award xp: %w", err)
	}
	result := ReviewResult{Card: card, XPAwarded: xp, TotalXP: total}

	reviews, err := a.store.CountReviewsByUser(user.ID)
	if err != nil {
		return result, fmt.Errorf("count reviews: %w", err)
	}
	awarded, bonusXP, err := a.awardForCategory(user, domain.CategoryReview, reviews, now)
	if err != nil {
		return result, err
	}
	result.Achievements = awarded
	result.XPAwarded += bonusXP
	result.TotalXP += bonusXP
	a.mirrorXP(ctx, user, result.XPAwarded, now)
	return result, nil
}

// reviewXP scales the award with recall quality; failed recalls still earn
// a little for showing up.
func reviewXP(quality int) int64 {
	switch {
	case quality >= 5:
		return 10
	case quality == 4:
		return 8
	case quality == 3:
		return 5
	default:
		return 1
	}
}
