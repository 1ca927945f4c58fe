package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
)

func optedInUser(t *testing.T, f *fixture, id string, public bool) domain.User {
	t.Helper()
	u := f.user(t, id, public)
	u.DigestOptIn = true
	if err := f.store.SaveUser(u); err != nil {
		t.Fatalf("opt in %s: %v", id, err)
	}
	return u
}

func TestRunDigestsSendsToActiveOptedInUsers(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	lastWeek := leaderboard.WeekStart(now).Add(-7 * 24 * time.Hour)

	optedInUser(t, f, "reader", false)
	f.review(t, "reader", lastWeek.Add(26*time.Hour))
	if _, err := f.store.AddXP("reader", 40, "review", lastWeek.Add(26*time.Hour)); err != nil {
		t.Fatalf("seed xp: %v", err)
	}

	// Opted in but idle last week: skipped.
	optedInUser(t, f, "sleeper", false)

	// Active but not opted in: not even scanned.
	f.user(t, "lurker", false)
	f.review(t, "lurker", lastWeek.Add(26*time.Hour))

	report, err := f.app.runDigests(context.Background(), now)
	if err != nil {
		t.Fatalf("run digests: %v", err)
	}
	if report.Scanned != 2 || report.Sent != 1 || report.Skipped != 1 || report.Errors != 0 {
		t.Fatalf("report = %+v, want 1 sent and 1 skipped of 2 scanned", report)
	}

	msgs := f.mail.messages()
	if len(msgs) != 1 || msgs[0].To.ID != "reader" {
		t.Fatalf("messages = %+v, want one digest for reader", msgs)
	}
	if msgs[0].Subject != digestSubject {
		t.Fatalf("subject = %q, want %q", msgs[0].Subject, digestSubject)
	}
	if !strings.Contains(msgs[0].Body, "Cards reviewed: 1") {
		t.Fatalf("body missing review count:\n%s", msgs[0].Body)
	}
	if !strings.Contains(msgs[0].Body, "XP earned: 40") {
		t.Fatalf("body missing xp:\n%s", msgs[0].Body)
	}
}

func TestRunDigestsNamesOnlyPublicSimilarReaders(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	lastWeek := leaderboard.WeekStart(now).Add(-7 * 24 * time.Hour)

	optedInUser(t, f, "reader", true)
	f.review(t, "reader", lastWeek.Add(time.Hour))
	f.user(t, "open", true)
	f.user(t, "hidden", false)
	if err := f.store.ReplaceSimilarities("reader", []domain.UserSimilarity{
		{UserID: "reader", OtherID: "hidden", Score: 0.9, ComputedAt: now},
		{UserID: "reader", OtherID: "open", Score: 0.8, ComputedAt: now},
	}); err != nil {
		t.Fatalf("seed matches: %v", err)
	}

	if _, err := f.app.runDigests(context.Background(), now); err != nil {
		t.Fatalf("run digests: %v", err)
	}
	msgs := f.mail.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "open") {
		t.Fatalf("body missing public match:\n%s", msgs[0].Body)
	}
	if strings.Contains(msgs[0].Body, "hidden") {
		t.Fatalf("body leaks private match:\n%s", msgs[0].Body)
	}
}

func TestRunDigestsCountsDeliveryFailures(t *testing.T) {
	f := newFixture(t)
	f.mail.err = fmt.Errorf("smtp down")
	now := time.Now().UTC()
	lastWeek := leaderboard.WeekStart(now).Add(-7 * 24 * time.Hour)

	optedInUser(t, f, "reader", false)
	f.review(t, "reader", lastWeek.Add(time.Hour))

	report, err := f.app.runDigests(context.Background(), now)
	if err != nil {
		t.Fatalf("run digests: %v", err)
	}
	if report.Errors != 1 || report.Sent != 0 {
		t.Fatalf("report = %+v, want one error and no sends", report)
	}
}
