// Command seedcatalog loads achievement and challenge definitions from a
// YAML file and upserts them into the database, keyed by code. Rows absent
// from the file are left alone, so retiring an entry means seeding it with
// active: false rather than deleting it.
//
// Catalog format:
//
//	achievements:
//	  - code: streak-7
//	    name: One Week Strong
//	    description: Keep a seven day reading streak.
//	    category: streak
//	    threshold: 7
//	    xpReward: 50
//	challenges:
//	  - code: summer-sprint
//	    name: Summer Review Sprint
//	    description: Review 200 cards over the summer.
//	    metric: reviews
//	    target: 200
//	    startsAt: 2026-06-01
//	    endsAt: 2026-09-01
//
// Entries default to active unless "active: false" is set.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"readmaster/pkg/domain"
	"readmaster/pkg/store"
)

type catalogFile struct {
	Achievements []achievementEntry `yaml:"achievements"`
	Challenges   []challengeEntry   `yaml:"challenges"`
}

type achievementEntry struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Threshold   int    `yaml:"threshold"`
	XPReward    int64  `yaml:"xpReward"`
	Active      *bool  `yaml:"active"`
}

type challengeEntry struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metric      string `yaml:"metric"`
	Target      int    `yaml:"target"`
	StartsAt    string `yaml:"startsAt"`
	EndsAt      string `yaml:"endsAt"`
	Active      *bool  `yaml:"active"`
}

var achievementCategories = map[string]domain.AchievementCategory{
	string(domain.CategoryStreak):  domain.CategoryStreak,
	string(domain.CategoryReview):  domain.CategoryReview,
	string(domain.CategoryLibrary): domain.CategoryLibrary,
	string(domain.CategorySocial):  domain.CategorySocial,
}

var challengeMetrics = map[string]domain.ChallengeMetric{
	string(domain.MetricReviews):       domain.MetricReviews,
	string(domain.MetricBooksFinished): domain.MetricBooksFinished,
	string(domain.MetricStreakDays):    domain.MetricStreakDays,
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <catalog.yaml>\n\nDATABASE_URL selects the target database.\n", os.Args[0])
		os.Exit(2)
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		exitErr(errors.New("DATABASE_URL is not set"))
	}

	catalog, err := loadCatalog(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	achievements, err := buildAchievements(catalog.Achievements)
	if err != nil {
		exitErr(err)
	}
	challenges, err := buildChallenges(catalog.Challenges)
	if err != nil {
		exitErr(err)
	}
	if len(achievements) == 0 && len(challenges) == 0 {
		exitErr(errors.New("catalog is empty"))
	}

	dataStore, err := store.NewGormStore(databaseURL)
	if err != nil {
		exitErr(fmt.Errorf("open database: %w", err))
	}
	for _, a := range achievements {
		if err := dataStore.SaveAchievement(a); err != nil {
			exitErr(fmt.Errorf("save achievement %s: %w", a.Code, err))
		}
	}
	for _, c := range challenges {
		if err := dataStore.SaveChallenge(c); err != nil {
			exitErr(fmt.Errorf("save challenge %s: %w", c.Code, err))
		}
	}
	fmt.Printf("seeded %d achievements and %d challenges\n", len(achievements), len(challenges))
}

func loadCatalog(path string) (catalogFile, error) {
	var catalog catalogFile
	data, err := os.ReadFile(path)
	if err != nil {
		return catalog, fmt.Errorf("read catalog: %w", err)
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return catalog, fmt.Errorf("parse catalog: %w", err)
	}
	return catalog, nil
}

func buildAchievements(entries []achievementEntry) ([]domain.Achievement, error) {
	seen := make(map[string]bool, len(entries))
	achievements := make([]domain.Achievement, 0, len(entries))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return nil, errors.New("achievement with empty code")
		}
		if seen[code] {
			return nil, fmt.Errorf("achievement %s listed twice", code)
		}
		seen[code] = true
		category, ok := achievementCategories[entry.Category]
		if !ok {
			return nil, fmt.Errorf("achievement %s: unknown category %q", code, entry.Category)
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("achievement %s: name is required", code)
		}
		if entry.Threshold <= 0 {
			return nil, fmt.Errorf("achievement %s: threshold must be positive", code)
		}
		if entry.XPReward < 0 {
			return nil, fmt.Errorf("achievement %s: xpReward must not be negative", code)
		}
		achievements = append(achievements, domain.Achievement{
			ID:          uuid.NewString(),
			Code:        code,
			Name:        entry.Name,
			Description: entry.Description,
			Category:    category,
			Threshold:   entry.Threshold,
			XPReward:    entry.XPReward,
			Active:      entry.Active == nil || *entry.Active,
		})
	}
	return achievements, nil
}

func buildChallenges(entries []challengeEntry) ([]domain.Challenge, error) {
	seen := make(map[string]bool, len(entries))
	challenges := make([]domain.Challenge, 0, len(entries))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return nil, errors.New("challenge with empty code")
		}
		if seen[code] {
			return nil, fmt.Errorf("challenge %s listed twice", code)
		}
		seen[code] = true
		metric, ok := challengeMetrics[entry.Metric]
		if !ok {
			return nil, fmt.Errorf("challenge %s: unknown metric %q", code, entry.Metric)
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("challenge %s: name is required", code)
		}
		if entry.Target <= 0 {
			return nil, fmt.Errorf("challenge %s: target must be positive", code)
		}
		startsAt, err := parseCatalogTime(entry.StartsAt)
		if err != nil {
			return nil, fmt.Errorf("challenge %s: startsAt: %w", code, err)
		}
		endsAt, err := parseCatalogTime(entry.EndsAt)
		if err != nil {
			return nil, fmt.Errorf("challenge %s: endsAt: %w", code, err)
		}
		if !endsAt.After(startsAt) {
			return nil, fmt.Errorf("challenge %s: endsAt must be after startsAt", code)
		}
		challenges = append(challenges, domain.Challenge{
			ID:          uuid.NewString(),
			Code:        code,
			Name:        entry.Name,
			Description: entry.Description,
			Metric:      metric,
			Target:      entry.Target,
			StartsAt:    startsAt,
			EndsAt:      endsAt,
			Active:      entry.Active == nil || *entry.Active,
		})
	}
	return challenges, nil
}

var catalogTimeLayouts = []string{time.RFC3339, "2006-01-02"}

// parseCatalogTime accepts RFC 3339 timestamps or bare dates, which read as
// midnight UTC.
func parseCatalogTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("value is required")
	}
	for _, layout := range catalogTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q", value)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
