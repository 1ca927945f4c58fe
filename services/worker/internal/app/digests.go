package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
)

const digestSubject = "Your week at Read Master"

// DigestReport summarizes one weekly digest pass.
type DigestReport struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RunDigests composes and delivers last week's digest to every opted-in
// user who was active during that week. The digest body is persisted
// before delivery; a failed send leaves the row undelivered.
func (a *App) RunDigests(ctx context.Context) (DigestReport, error) {
	return a.runDigests(ctx, time.Now().UTC())
}

func (a *App) runDigests(ctx context.Context, now time.Time) (DigestReport, error) {
	weekEnd := leaderboard.WeekStart(now)
	weekStart := weekEnd.Add(-7 * 24 * time.Hour)

	var (
		mu     sync.Mutex
		report DigestReport
	)
	err := a.eachUserPage(ctx, func(users []domain.User) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for _, user := range users {
			u := user
			if !u.DigestOptIn {
				continue
			}
			g.Go(func() error {
				sent, err := a.sendDigest(gctx, u, weekStart, weekEnd, now)
				mu.Lock()
				defer mu.Unlock()
				report.Scanned++
				if err != nil {
					report.Errors++
					slog.Error("digest failed", "user_id", u.ID, "error", err)
					return nil
				}
				if sent {
					report.Sent++
				} else {
					report.Skipped++
				}
				return nil
			})
		}
		return g.Wait()
	})
	return report, err
}

func (a *App) sendDigest(ctx context.Context, user domain.User, weekStart, weekEnd, now time.Time) (bool, error) {
	reviews, err := a.store.CountReviewsInRange(user.ID, weekStart, weekEnd)
	if err != nil {
		return false, fmt.Errorf("count reviews: %w", err)
	}
	xp, err := a.store.SumXPInRange(user.ID, weekStart, weekEnd)
	if err != nil {
		return false, fmt.Errorf("sum xp: %w", err)
	}
	if reviews == 0 && xp == 0 {
		return false, nil
	}

	streak := 0
	if stats, ok, err := a.store.GetStats(user.ID); err != nil {
		return false, fmt.Errorf("load stats: %w", err)
	} else if ok {
		streak = stats.CurrentStreak
	}
	due, err := a.store.CountDueFlashcards(user.ID, now)
	if err != nil {
		return false, fmt.Errorf("count due cards: %w", err)
	}
	similar, err := a.similarReaderNames(user.ID, 3)
	if err != nil {
		return false, err
	}

	digest := domain.Digest{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		PeriodStart: weekStart,
		PeriodEnd:   weekEnd,
		Body:        renderDigestBody(user, weekStart, weekEnd, reviews, xp, streak, due, similar),
		CreatedAt:   now,
	}
	if err := a.store.SaveDigest(digest); err != nil {
		return false, fmt.Errorf("save digest: %w", err)
	}
	if err := a.mailer.Send(ctx, user, digestSubject, digest.Body); err != nil {
		return false, fmt.Errorf("send digest: %w", err)
	}
	if err := a.store.MarkDigestDelivered(digest.ID); err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	return true, nil
}

// similarReaderNames resolves stored matches to display names, dropping
// readers who have since gone private or disappeared.
func (a *App) similarReaderNames(userID string, limit int) ([]string, error) {
	matches, err := a.store.ListSimilarReaders(userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list similar readers: %w", err)
	}
	var names []string
	for _, m := range matches {
		other, ok, err := a.store.GetUserByID(m.OtherID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", m.OtherID, err)
		}
		if !ok || !other.PublicProfile {
			continue
		}
		names = append(names, other.DisplayName)
	}
	return names, nil
}

func renderDigestBody(user domain.User, from, to time.Time, reviews int, xp int64, streak, due int, similar []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.DisplayName)
	fmt.Fprintf(&b, "Your week in review (%s to %s):\n\n",
		from.Format("Jan 2"), to.Add(-24*time.Hour).Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "  Cards reviewed: %d\n", reviews)
	fmt.Fprintf(&b, "  XP earned: %d\n", xp)
	fmt.Fprintf(&b, "  Current streak: %d days\n", streak)
	fmt.Fprintf(&b, "  Cards waiting for review: %d\n", due)
	if len(similar) > 0 {
		fmt.Fprintf(&b, "\nReaders with taste like yours: %s\n", strings.Join(similar, ", "))
	}
	b.WriteString("\nKeep reading!\n")
	return b.String()
}
