package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"readmaster/pkg/domain"
	"readmaster/pkg/readersim"
)

// SimilarityReport summarizes one reader-similarity recompute.
type SimilarityReport struct {
	Scanned  int `json:"scanned"`
	Eligible int `json:"eligible"`
	Updated  int `json:"updated"`
	Errors   int `json:"errors"`
}

// RunSimilarity rebuilds the similar-readers lists for every eligible
// public reader. Each reader's stored list is replaced wholesale; lists
// for users who have since gone private or ineligible are left in place
// and filtered at read time.
func (a *App) RunSimilarity(ctx context.Context) (SimilarityReport, error) {
	return a.runSimilarity(ctx, time.Now().UTC())
}

func (a *App) runSimilarity(ctx context.Context, now time.Time) (SimilarityReport, error) {
	var (
		mu       sync.Mutex
		report   SimilarityReport
		profiles []readersim.Profile
	)
	err := a.eachUserPage(ctx, func(users []domain.User) error {
		var g errgroup.Group
		g.SetLimit(a.concurrency)
		for _, user := range users {
			u := user
			if !u.PublicProfile {
				continue
			}
			g.Go(func() error {
				books, err := a.store.ListBooksByOwner(u.ID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Errors++
					slog.Error("similarity profile failed", "user_id", u.ID, "error", err)
					return nil
				}
				if !readersim.Eligible(u, len(books)) {
					return nil
				}
				profiles = append(profiles, readersim.BuildProfile(u.ID, books))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		report.Scanned += len(users)
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Eligible = len(profiles)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range profiles {
		self := profiles[i]
		g.Go(func() error {
			var matches []domain.UserSimilarity
			for j := range profiles {
				other := profiles[j]
				if other.UserID == self.UserID {
					continue
				}
				score, factors := readersim.Score(self, other)
				if score < readersim.MinScore {
					continue
				}
				matches = append(matches, domain.UserSimilarity{
					UserID:     self.UserID,
					OtherID:    other.UserID,
					Score:      score,
					Factors:    factors,
					ComputedAt: now,
				})
			}
			matches = readersim.TopN(matches, readersim.DefaultTopN)
			err := a.store.ReplaceSimilarities(self.UserID, matches)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors++
				slog.Error("similarity update failed", "user_id", self.UserID, "error", err)
				return nil
			}
			report.Updated++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
