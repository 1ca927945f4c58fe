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

// StreakReport summarizes one nightly streak pass.
type StreakReport struct {
	Processed           int   `json:"processed"`
	Incremented         int   `json:"incremented"`
	Reset               int   `json:"reset"`
	Maintained          int   `json:"maintained"`
	AchievementsAwarded int   `json:"achievements_awarded"`
	XPAwarded           int64 `json:"xp_awarded"`
	Errors              int   `json:"errors"`
}

type streakKind int

const (
	streakIdle streakKind = iota // no activity and nothing to reset
	streakIncremented
	streakReset
	streakMaintained
)

type streakOutcome struct {
	kind         streakKind
	achievements int
	xp           int64
}

// RunStreaks advances every user's streak against yesterday's activity.
// Per-user failures are logged and counted; they do not abort the pass.
func (a *App) RunStreaks(ctx context.Context) (StreakReport, error) {
	return a.runStreaks(ctx, time.Now().UTC())
}

func (a *App) runStreaks(ctx context.Context, now time.Time) (StreakReport, error) {
	today := dayStart(now)
	yesterday := today.Add(-24 * time.Hour)

	milestones, err := a.store.ListAchievements(domain.CategoryStreak, true)
	if err != nil {
		return StreakReport{}, fmt.Errorf("list streak achievements: %w", err)
	}

	var (
		mu     sync.Mutex
		report StreakReport
	)
	err = a.eachUserPage(ctx, func(users []domain.User) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for _, user := range users {
			u := user
			g.Go(func() error {
				outcome, err := a.advanceStreak(gctx, u, yesterday, today, now, milestones)
				mu.Lock()
				defer mu.Unlock()
				report.Processed++
				report.AchievementsAwarded += outcome.achievements
				report.XPAwarded += outcome.xp
				if err != nil {
					report.Errors++
					slog.Error("streak update failed", "user_id", u.ID, "error", err)
					return nil
				}
				switch outcome.kind {
				case streakIncremented:
					report.Incremented++
				case streakReset:
					report.Reset++
				case streakMaintained:
					report.Maintained++
				}
				return nil
			})
		}
		return g.Wait()
	})
	return report, err
}

func (a *App) advanceStreak(ctx context.Context, user domain.User, yesterday, today, now time.Time, milestones []domain.Achievement) (streakOutcome, error) {
	stats, ok, err := a.store.GetStats(user.ID)
	if err != nil {
		return streakOutcome{}, fmt.Errorf("load stats: %w", err)
	}
	if !ok {
		stats = domain.UserStats{UserID: user.ID}
	}
	// The streak already covers yesterday, so a rerun must not advance again.
	if stats.LastActivityAt != nil && !stats.LastActivityAt.Before(yesterday) {
		return streakOutcome{kind: streakMaintained}, nil
	}

	reviews, err := a.store.CountReviewsInRange(user.ID, yesterday, today)
	if err != nil {
		return streakOutcome{}, fmt.Errorf("count reviews: %w", err)
	}
	progress := 0
	if reviews == 0 {
		progress, err = a.store.CountProgressUpdatesInRange(user.ID, yesterday, today)
		if err != nil {
			return streakOutcome{}, fmt.Errorf("count progress updates: %w", err)
		}
	}
	if reviews == 0 && progress == 0 {
		if stats.CurrentStreak == 0 {
			return streakOutcome{kind: streakIdle}, nil
		}
		stats.CurrentStreak = 0
		if err := a.store.SaveStats(stats); err != nil {
			return streakOutcome{}, fmt.Errorf("save stats: %w", err)
		}
		if user.PublicProfile {
			a.mirrorStreak(ctx, user.ID, 0)
		}
		return streakOutcome{kind: streakReset}, nil
	}

	stats.CurrentStreak++
	if stats.CurrentStreak > stats.LongestStreak {
		stats.LongestStreak = stats.CurrentStreak
	}
	lastActivity := yesterday
	stats.LastActivityAt = &lastActivity
	if err := a.store.SaveStats(stats); err != nil {
		return streakOutcome{}, fmt.Errorf("save stats: %w", err)
	}

	outcome := streakOutcome{kind: streakIncremented}
	for _, m := range milestones {
		if m.Threshold > stats.CurrentStreak {
			break
		}
		held, err := a.store.HasUserAchievement(user.ID, m.ID)
		if err != nil {
			return outcome, fmt.Errorf("check achievement %s: %w", m.Code, err)
		}
		if held {
			continue
		}
		if err := a.store.AwardAchievement(domain.UserAchievement{UserID: user.ID, AchievementID: m.ID, EarnedAt: now}); err != nil {
			return outcome, fmt.Errorf("award achievement %s: %w", m.Code, err)
		}
		if m.XPReward > 0 {
			if _, err := a.store.AddXP(user.ID, m.XPReward, "achievement:"+m.Code, now); err != nil {
				return outcome, fmt.Errorf("award xp for %s: %w", m.Code, err)
			}
		}
		outcome.achievements++
		outcome.xp += m.XPReward
	}

	if user.PublicProfile {
		a.mirrorStreak(ctx, user.ID, stats.CurrentStreak)
		if outcome.xp > 0 {
			if err := a.board.RecordXP(ctx, user.ID, outcome.xp, now); err != nil {
				slog.Warn("leaderboard xp mirror failed", "user_id", user.ID, "error", err)
			}
		}
	}
	return outcome, nil
}

func (a *App) mirrorStreak(ctx context.Context, userID string, streak int) {
	if err := a.board.SetStreak(ctx, userID, streak); err != nil {
		slog.Warn("leaderboard streak mirror failed", "user_id", userID, "error", err)
	}
}
