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

// ReminderReport summarizes one due-card reminder pass.
type ReminderReport struct {
	Scanned  int `json:"scanned"`
	Reminded int `json:"reminded"`
	Errors   int `json:"errors"`
}

// RunReminders nudges every user who has flashcards due for review.
func (a *App) RunReminders(ctx context.Context) (ReminderReport, error) {
	return a.runReminders(ctx, time.Now().UTC())
}

func (a *App) runReminders(ctx context.Context, now time.Time) (ReminderReport, error) {
	var (
		mu     sync.Mutex
		report ReminderReport
	)
	err := a.eachUserPage(ctx, func(users []domain.User) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for _, user := range users {
			u := user
			g.Go(func() error {
				reminded, err := a.remindUser(gctx, u, now)
				mu.Lock()
				defer mu.Unlock()
				report.Scanned++
				if err != nil {
					report.Errors++
					slog.Error("reminder failed", "user_id", u.ID, "error", err)
					return nil
				}
				if reminded {
					report.Reminded++
				}
				return nil
			})
		}
		return g.Wait()
	})
	return report, err
}

func (a *App) remindUser(ctx context.Context, user domain.User, now time.Time) (bool, error) {
	due, err := a.store.CountDueFlashcards(user.ID, now)
	if err != nil {
		return false, fmt.Errorf("count due cards: %w", err)
	}
	if due == 0 {
		return false, nil
	}
	noun := "flashcards"
	if due == 1 {
		noun = "flashcard"
	}
	subject := fmt.Sprintf("%d %s ready for review", due, noun)
	body := fmt.Sprintf("Hi %s,\n\nYou have %d %s waiting. A few minutes of review today keeps your streak going.\n",
		user.DisplayName, due, noun)
	if err := a.mailer.Send(ctx, user, subject, body); err != nil {
		return false, fmt.Errorf("send reminder: %w", err)
	}
	return true, nil
}
