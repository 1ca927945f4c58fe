// Package scheduler puts the worker's batch jobs on a fixed UTC timetable.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"readmaster/services/worker/internal/app"
)

// Run times, UTC. Streaks settle before the analytics rollup so
// streak-based challenge stamping sees the advanced values.
const (
	streaksAt    = "03:10"
	similarityAt = "03:40"
	analyticsAt  = "04:10"
	digestsAt    = "07:00"
	remindersAt  = "08:00"
)

// Scheduler manages the recurring batch jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	app       *app.App
}

// New creates a scheduler around the worker application.
func New(a *app.App) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		app:       a,
	}
}

// Start registers the timetable and begins running it in the background.
func (s *Scheduler) Start() {
	s.scheduler.Every(1).Day().At(streaksAt).Do(s.runStreaks)
	s.scheduler.Every(1).Day().At(similarityAt).Do(s.runSimilarity)
	s.scheduler.Every(1).Day().At(analyticsAt).Do(s.runAnalytics)
	s.scheduler.Every(1).Monday().At(digestsAt).Do(s.runDigests)
	s.scheduler.Every(1).Day().At(remindersAt).Do(s.runReminders)
	s.scheduler.StartAsync()
}

// Stop terminates the timetable.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) runStreaks() {
	report, err := s.app.RunStreaks(context.Background())
	if err != nil {
		slog.Error("streak job failed", "error", err)
		return
	}
	slog.Info("streak job finished",
		"processed", report.Processed, "incremented", report.Incremented,
		"reset", report.Reset, "maintained", report.Maintained,
		"achievements", report.AchievementsAwarded, "errors", report.Errors)
}

func (s *Scheduler) runSimilarity() {
	report, err := s.app.RunSimilarity(context.Background())
	if err != nil {
		slog.Error("similarity job failed", "error", err)
		return
	}
	slog.Info("similarity job finished",
		"scanned", report.Scanned, "eligible", report.Eligible,
		"updated", report.Updated, "errors", report.Errors)
}

func (s *Scheduler) runAnalytics() {
	report, err := s.app.RunAnalytics(context.Background())
	if err != nil {
		slog.Error("analytics job failed", "error", err)
		return
	}
	slog.Info("analytics job finished",
		"processed", report.Processed, "days_written", report.DaysWritten,
		"challenges_completed", report.ChallengesCompleted, "errors", report.Errors)
}

func (s *Scheduler) runDigests() {
	report, err := s.app.RunDigests(context.Background())
	if err != nil {
		slog.Error("digest job failed", "error", err)
		return
	}
	slog.Info("digest job finished",
		"scanned", report.Scanned, "sent", report.Sent,
		"skipped", report.Skipped, "errors", report.Errors)
}

func (s *Scheduler) runReminders() {
	report, err := s.app.RunReminders(context.Background())
	if err != nil {
		slog.Error("reminder job failed", "error", err)
		return
	}
	slog.Info("reminder job finished",
		"scanned", report.Scanned, "reminded", report.Reminded, "errors", report.Errors)
}
