package app

import (
	"context"
	"fmt"
	"time"

	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
)

const (
	defaultBoardLimit = 10
	maxBoardLimit     = 50

	defaultSimilarLimit = 10
	maxSimilarLimit     = 25
)

// StatsSummary is the reader's gamification dashboard.
type StatsSummary struct {
	CurrentStreak  int                  `json:"currentStreak"`
	LongestStreak  int                  `json:"longestStreak"`
	LastActivityAt *time.Time           `json:"lastActivityAt,omitempty"`
	TotalXP        int64                `json:"totalXp"`
	WeekXP         int64                `json:"weekXp"`
	DueCards       int                  `json:"dueCards"`
	Books          int                  `json:"books"`
	BooksFinished  int                  `json:"booksFinished"`
	Reviews        int                  `json:"reviews"`
	RecentActivity []domain.ActivityDay `json:"recentActivity"`
	Achievements   []EarnedAchievement  `json:"achievements"`
}

// EarnedAchievement joins a grant with its catalog entry.
type EarnedAchievement struct {
	Code        string                     `json:"code"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Category    domain.AchievementCategory `json:"category"`
	XPReward    int64                      `json:"xpReward"`
	EarnedAt    time.Time                  `json:"earnedAt"`
}

// Stats assembles the caller's streak, XP, workload and achievement state.
func (a *App) Stats(user domain.User) (StatsSummary, error) {
	now := time.Now().UTC()
	stats, ok, err := a.store.GetStats(user.ID)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("load stats: %w", err)
	}
	if !ok {
		stats = domain.UserStats{UserID: user.ID}
	}
	due, err := a.store.CountDueFlashcards(user.ID, now)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("count due cards: %w", err)
	}
	books, err := a.store.CountBooksByOwner(user.ID)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("count books: %w", err)
	}
	finished, err := a.store.CountBooksFinishedInRange(user.ID, time.Time{}, now)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("count finished books: %w", err)
	}
	reviews, err := a.store.CountReviewsByUser(user.ID)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("count reviews: %w", err)
	}
	weekXP, err := a.store.SumXPInRange(user.ID, leaderboard.WeekStart(now), now)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("sum week xp: %w", err)
	}
	// Rolled-up daily counters for the trailing week, oldest first.
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	activity, err := a.store.ListActivityRange(user.ID, today.AddDate(0, 0, -6), today.AddDate(0, 0, 1))
	if err != nil {
		return StatsSummary{}, fmt.Errorf("list activity: %w", err)
	}
	earned, err := a.earnedAchievements(user.ID)
	if err != nil {
		return StatsSummary{}, err
	}
	return StatsSummary{
		CurrentStreak:  stats.CurrentStreak,
		LongestStreak:  stats.LongestStreak,
		LastActivityAt: stats.LastActivityAt,
		TotalXP:        stats.TotalXP,
		WeekXP:         weekXP,
		DueCards:       due,
		Books:          books,
		BooksFinished:  finished,
		Reviews:        reviews,
		RecentActivity: activity,
		Achievements:   earned,
	}, nil
}

func (a *App) earnedAchievements(userID string) ([]EarnedAchievement, error) {
	grants, err := a.store.ListUserAchievements(userID)
	if err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}
	earned := make([]EarnedAchievement, 0, len(grants))
	if len(grants) == 0 {
		return earned, nil
	}
	catalog, err := a.store.ListAchievements("", false)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	byID := make(map[string]domain.Achievement, len(catalog))
	for _, def := range catalog {
		byID[def.ID] = def
	}
	for _, grant := range grants {
		def, ok := byID[grant.AchievementID]
		if !ok {
			continue
		}
		earned = append(earned, EarnedAchievement{
			Code:        def.Code,
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			XPReward:    def.XPReward,
			EarnedAt:    grant.EarnedAt,
		})
	}
	return earned, nil
}

// SimilarReader is one suggested reading match.
type SimilarReader struct {
	UserID      string                   `json:"userId"`
	DisplayName string                   `json:"displayName"`
	Score       float64                  `json:"score"`
	Factors     domain.SimilarityFactors `json:"factors"`
	ComputedAt  time.Time                `json:"computedAt"`
}

// SimilarReaders returns the caller's precomputed matches, best first.
// Readers who went private since the last computation are dropped.
func (a *App) SimilarReaders(user domain.User, limit int) ([]SimilarReader, error) {
	if limit <= 0 || limit > maxSimilarLimit {
		limit = defaultSimilarLimit
	}
	items, err := a.store.ListSimilarReaders(user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list similar readers: %w", err)
	}
	matches := make([]SimilarReader, 0, len(items))
	for _, item := range items {
		other, ok, err := a.store.GetUserByID(item.OtherID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", item.OtherID, err)
		}
		if !ok || !other.PublicProfile {
			continue
		}
		matches = append(matches, SimilarReader{
			UserID:      other.ID,
			DisplayName: other.DisplayName,
			Score:       item.Score,
			Factors:     item.Factors,
			ComputedAt:  item.ComputedAt,
		})
	}
	return matches, nil
}

// LeaderboardEntry is one decorated leaderboard row.
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int64  `json:"score"`
}

// LeaderboardView is a board page plus the caller's own position.
type LeaderboardView struct {
	Period  string             `json:"period"`
	Entries []LeaderboardEntry `json:"entries"`
	Me      *LeaderboardEntry  `json:"me,omitempty"`
}

// Leaderboard returns the requested board: XP all-time, XP for the current
// ISO week, or current streaks. Only public profiles appear.
func (a *App) Leaderboard(ctx context.Context, user domain.User, period string, limit int64) (LeaderboardView, error) {
	if limit <= 0 || limit > maxBoardLimit {
		limit = defaultBoardLimit
	}
	now := time.Now().UTC()

	var (
		entries []leaderboard.Entry
		me      leaderboard.Entry
		err     error
	)
	switch period {
	case "", "alltime":
		period = "alltime"
		entries, err = a.board.TopXPAllTime(ctx, limit)
		if err == nil {
			me, err = a.board.XPRankAllTime(ctx, user.ID)
		}
	case "week":
		entries, err = a.board.TopXPWeek(ctx, now, limit)
		if err == nil {
			me, err = a.board.XPRankWeek(ctx, now, user.ID)
		}
	case "streak":
		entries, err = a.board.TopStreaks(ctx, limit)
		if err == nil {
			me, err = a.board.StreakRank(ctx, user.ID)
		}
	default:
		return LeaderboardView{}, fmt.Errorf("unknown period %q (alltime, week or streak)", period)
	}
	if err != nil {
		return LeaderboardView{}, fmt.Errorf("load leaderboard: %w", err)
	}

	view := LeaderboardView{Period: period, Entries: make([]LeaderboardEntry, 0, len(entries))}
	for _, entry := range entries {
		other, ok, err := a.store.GetUserByID(entry.UserID)
		if err != nil {
			return LeaderboardView{}, fmt.Errorf("load user %s: %w", entry.UserID, err)
		}
		if !ok {
			continue
		}
		view.Entries = append(view.Entries, LeaderboardEntry{
			Rank:        entry.Rank,
			UserID:      other.ID,
			DisplayName: other.DisplayName,
			Score:       entry.Score,
		})
	}
	if me.Rank > 0 {
		view.Me = &LeaderboardEntry{
			Rank:        me.Rank,
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Score:       me.Score,
		}
	}
	return view, nil
}

// ChallengeView is a catalog entry plus the caller's participation state.
type ChallengeView struct {
	domain.Challenge
	Joined      bool       `json:"joined"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ListChallenges returns challenges open at the current time with the
// caller's join state attached.
func (a *App) ListChallenges(user domain.User) ([]ChallengeView, error) {
	now := time.Now().UTC()
	challenges, err := a.store.ListChallenges(true, now)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	entries, err := a.store.ListEntriesByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list challenge entries: %w", err)
	}
	byChallenge := make(map[string]domain.ChallengeEntry, len(entries))
	for _, entry := range entries {
		byChallenge[entry.ChallengeID] = entry
	}
	views := make([]ChallengeView, 0, len(challenges))
	for _, challenge := range challenges {
		view := ChallengeView{Challenge: challenge}
		if entry, ok := byChallenge[challenge.ID]; ok {
			view.Joined = true
			view.CompletedAt = entry.CompletedAt
		}
		views = append(views, view)
	}
	return views, nil
}

// JoinChallenge enrolls the caller in an open challenge. Joining twice is
// a no-op.
func (a *App) JoinChallenge(user domain.User, challengeID string) (domain.ChallengeEntry, error) {
	challenge, ok, err := a.store.GetChallenge(challengeID)
	if err != nil {
		return domain.ChallengeEntry{}, fmt.Errorf("load challenge: %w", err)
	}
	if !ok {
		return domain.ChallengeEntry{}, ErrChallengeNotFound
	}
	now := time.Now().UTC()
	if !challenge.Active || now.Before(challenge.StartsAt) || !now.Before(challenge.EndsAt) {
		return domain.ChallengeEntry{}, ErrChallengeClosed
	}
	entry := domain.ChallengeEntry{
		UserID:      user.ID,
		ChallengeID: challenge.ID,
		JoinedAt:    now,
	}
	if err := a.store.JoinChallenge(entry); err != nil {
		return domain.ChallengeEntry{}, fmt.Errorf("join challenge: %w", err)
	}
	stored, ok, err := a.store.GetChallengeEntry(user.ID, challenge.ID)
	if err != nil {
		return domain.ChallengeEntry{}, fmt.Errorf("load challenge entry: %w", err)
	}
	if !ok {
		return domain.ChallengeEntry{}, fmt.Errorf("join challenge: entry missing after insert")
	}
	return stored, nil
}

// ChallengeProgress reports how far the caller is toward a challenge target.
type ChallengeProgress struct {
	Challenge   domain.Challenge `json:"challenge"`
	Value       int              `json:"value"`
	Target      int              `json:"target"`
	Completed   bool             `json:"completed"`
	JoinedAt    time.Time        `json:"joinedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// GetChallengeProgress computes the caller's metric value inside the
// challenge window. Hitting the target stamps the completion on read; the
// nightly analytics job does the same for readers who never check.
func (a *App) GetChallengeProgress(user domain.User, challengeID string) (ChallengeProgress, error) {
	challenge, ok, err := a.store.GetChallenge(challengeID)
	if err != nil {
		return ChallengeProgress{}, fmt.Errorf("load challenge: %w", err)
	}
	if !ok {
		return ChallengeProgress{}, ErrChallengeNotFound
	}
	entry, ok, err := a.store.GetChallengeEntry(user.ID, challengeID)
	if err != nil {
		return ChallengeProgress{}, fmt.Errorf("load challenge entry: %w", err)
	}
	if !ok {
		return ChallengeProgress{}, ErrNotJoined
	}
	value, err := a.challengeMetricValue(user.ID, challenge)
	if err != nil {
		return ChallengeProgress{}, err
	}
	progress := ChallengeProgress{
		Challenge:   challenge,
		Value:       value,
		Target:      challenge.Target,
		Completed:   entry.CompletedAt != nil,
		JoinedAt:    entry.JoinedAt,
		CompletedAt: entry.CompletedAt,
	}
	if !progress.Completed && value >= challenge.Target {
		now := time.Now().UTC()
		if err := a.store.CompleteChallengeEntry(user.ID, challengeID, now); err != nil {
			return ChallengeProgress{}, fmt.Errorf("complete challenge: %w", err)
		}
		progress.Completed = true
		progress.CompletedAt = &now
	}
	return progress, nil
}

func (a *App) challengeMetricValue(userID string, challenge domain.Challenge) (int, error) {
	switch challenge.Metric {
	case domain.MetricReviews:
		value, err := a.store.CountReviewsInRange(userID, challenge.StartsAt, challenge.EndsAt)
		if err != nil {
			return 0, fmt.Errorf("count reviews: %w", err)
		}
		return value, nil
	case domain.MetricBooksFinished:
		value, err := a.store.CountBooksFinishedInRange(userID, challenge.StartsAt, challenge.EndsAt)
		if err != nil {
			return 0, fmt.Errorf("count finished books: %w", err)
		}
		return value, nil
	case domain.MetricStreakDays:
		stats, ok, err := a.store.GetStats(userID)
		if err != nil {
			return 0, fmt.Errorf("load stats: %w", err)
		}
		if !ok {
			return 0, nil
		}
		return stats.CurrentStreak, nil
	default:
		return 0, fmt.Errorf("unknown challenge metric %q", challenge.Metric)
	}
}
