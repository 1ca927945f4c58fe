package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"readmaster/pkg/domain"
)

// AnalyticsReport summarizes one daily activity rollup.
type AnalyticsReport struct {
	Processed           int `json:"processed"`
	DaysWritten         int `json:"days_written"`
	ChallengesCompleted int `json:"challenges_completed"`
	Errors              int `json:"errors"`
}

// RunAnalytics rolls yesterday's raw activity into per-day counters and
// stamps challenge entries whose target was reached.
func (a *App) RunAnalytics(ctx context.Context) (AnalyticsReport, error) {
	return a.runAnalytics(ctx, time.Now().UTC())
}

func (a *App) runAnalytics(ctx context.Context, now time.Time) (AnalyticsReport, error) {
	today := dayStart(now)
	yesterday := today.Add(-24 * time.Hour)

	var (
		mu     sync.Mutex
		report AnalyticsReport
	)
	err := a.eachUserPage(ctx, func(users []domain.User) error {
		var g errgroup.Group
		g.SetLimit(a.concurrency)
		for _, user := range users {
			u := user
			g.Go(func() error {
				wrote, completed, err := a.rollupUser(u, yesterday, today, now)
				mu.Lock()
				defer mu.Unlock()
				report.Processed++
				report.ChallengesCompleted += completed
				if wrote {
					report.DaysWritten++
				}
				if err != nil {
					report.Errors++
					slog.Error("analytics rollup failed", "user_id", u.ID, "error", err)
				}
				return nil
			})
		}
		return g.Wait()
	})
	return report, err
}

func (a *App) rollupUser(user domain.User, from, to, now time.Time) (bool, int, error) {
	reviews, err := a.store.CountReviewsInRange(user.ID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("count reviews: %w", err)
	}
	progress, err := a.store.CountProgressUpdatesInRange(user.ID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("count progress updates: %w", err)
	}
	cards, err := a.store.CountFlashcardsCreatedInRange(user.ID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("count created cards: %w", err)
	}
	finished, err := a.store.CountBooksFinishedInRange(user.ID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("count finished books: %w", err)
	}
	xp, err := a.store.SumXPInRange(user.ID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("sum xp: %w", err)
	}

	wrote := false
	if reviews > 0 || progress > 0 || cards > 0 || finished > 0 || xp > 0 {
		day := domain.ActivityDay{
			UserID:          user.ID,
			Day:             from,
			Reviews:         reviews,
			ProgressUpdates: progress,
			CardsCreated:    cards,
			BooksFinished:   finished,
			XPEarned:        xp,
		}
		if err := a.store.UpsertActivityDay(day); err != nil {
			return false, 0, fmt.Errorf("upsert activity day: %w", err)
		}
		wrote = true
	}

	completed, err := a.stampChallenges(user, now)
	return wrote, completed, err
}

// stampChallenges marks joined challenges as completed once their metric
// reaches the target, so completion survives even if the user never opens
// the progress view.
func (a *App) stampChallenges(user domain.User, now time.Time) (int, error) {
	entries, err := a.store.ListEntriesByUser(user.ID)
	if err != nil {
		return 0, fmt.Errorf("list challenge entries: %w", err)
	}
	completed := 0
	for _, entry := range entries {
		if entry.CompletedAt != nil {
			continue
		}
		challenge, ok, err := a.store.GetChallenge(entry.ChallengeID)
		if err != nil {
			return completed, fmt.Errorf("load challenge %s: %w", entry.ChallengeID, err)
		}
		if !ok {
			continue
		}
		value, err := a.challengeValue(user.ID, challenge)
		if err != nil {
			return completed, err
		}
		if value < challenge.Target {
			continue
		}
		if err := a.store.CompleteChallengeEntry(user.ID, challenge.ID, now); err != nil {
			return completed, fmt.Errorf("complete challenge %s: %w", challenge.Code, err)
		}
		completed++
	}
	return completed, nil
}

func (a *App) challengeValue(userID string, challenge domain.Challenge) (int, error) {
	switch challenge.Metric {
	case domain.MetricReviews:
		return a.store.CountReviewsInRange(userID, challenge.StartsAt, challenge.EndsAt)
	case domain.MetricBooksFinished:
		return a.store.CountBooksFinishedInRange(userID, challenge.StartsAt, challenge.EndsAt)
	case domain.MetricStreakDays:
		stats, ok, err := a.store.GetStats(userID)
		if err != nil || !ok {
			return 0, err
		}
		return stats.CurrentStreak, nil
	default:
		return 0, fmt.Errorf("unknown challenge metric %q", challenge.Metric)
	}
}
