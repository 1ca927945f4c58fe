package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// weeklyTTL keeps the current and previous week around for digests.
	weeklyTTL = 15 * 24 * time.Hour

	defaultPrefix = "readmaster:lb"
)

// Entry is one row of a leaderboard. Rank is 1-indexed; Rank 0 means
// the user is not on the board.
type Entry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	Rank   int64  `json:"rank"`
}

// Board maintains Redis sorted sets for XP and streak rankings.
// XP is tracked both all-time and per ISO week; streaks track the
// current value only.
type Board struct {
	client *redis.Client
	prefix string
}

type Config struct {
	Addr     string
	Password string
	Prefix   string
}

func NewBoard(cfg Config) (*Board, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("leaderboard redis addr required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Board{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
	}, nil
}

// RecordXP adds earned XP to the all-time and current-week boards.
func (b *Board) RecordXP(ctx context.Context, userID string, amount int64, at time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("userId required")
	}
	if amount <= 0 {
		return nil
	}
	week := b.weekKey(at)
	pipe := b.client.TxPipeline()
	pipe.ZIncrBy(ctx, b.allTimeKey(), float64(amount), userID)
	pipe.ZIncrBy(ctx, week, float64(amount), userID)
	pipe.Expire(ctx, week, weeklyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetXP writes absolute all-time and current-week totals. Used when a
// user re-enters the boards and their history has to be replayed from
// the persistent store.
func (b *Board) SetXP(ctx context.Context, userID string, allTime, week int64, at time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("userId required")
	}
	weekKey := b.weekKey(at)
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, b.allTimeKey(), redis.Z{Score: float64(allTime), Member: userID})
	pipe.ZAdd(ctx, weekKey, redis.Z{Score: float64(week), Member: userID})
	pipe.Expire(ctx, weekKey, weeklyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetStreak records the user's current streak. The score is absolute,
// not incremental, so a reset streak drops the user down the board.
func (b *Board) SetStreak(ctx context.Context, userID string, streak int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("userId required")
	}
	return b.client.ZAdd(ctx, b.streakKey(), redis.Z{
		Score:  float64(streak),
		Member: userID,
	}).Err()
}

// TopXPAllTime returns the highest all-time XP earners, best first.
func (b *Board) TopXPAllTime(ctx context.Context, limit int64) ([]Entry, error) {
	return b.top(ctx, b.allTimeKey(), limit)
}

// TopXPWeek returns the highest earners for the ISO week containing at.
func (b *Board) TopXPWeek(ctx context.Context, at time.Time, limit int64) ([]Entry, error) {
	return b.top(ctx, b.weekKey(at), limit)
}

// TopStreaks returns the longest current streaks, best first.
func (b *Board) TopStreaks(ctx context.Context, limit int64) ([]Entry, error) {
	return b.top(ctx, b.streakKey(), limit)
}

// XPRankAllTime returns the user's all-time XP entry.
func (b *Board) XPRankAllTime(ctx context.Context, userID string) (Entry, error) {
	return b.rank(ctx, b.allTimeKey(), userID)
}

// XPRankWeek returns the user's entry for the ISO week containing at.
func (b *Board) XPRankWeek(ctx context.Context, at time.Time, userID string) (Entry, error) {
	return b.rank(ctx, b.weekKey(at), userID)
}

// StreakRank returns the user's streak entry.
func (b *Board) StreakRank(ctx context.Context, userID string) (Entry, error) {
	return b.rank(ctx, b.streakKey(), userID)
}

// RemoveUser drops the user from every board. Used when an account
// turns its public profile off.
func (b *Board) RemoveUser(ctx context.Context, userID string, at time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.allTimeKey(), userID)
	pipe.ZRem(ctx, b.weekKey(at), userID)
	pipe.ZRem(ctx, b.streakKey(), userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *Board) top(ctx context.Context, key string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	results, err := b.client.ZRevRangeWithScores(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(results))
	for i, result := range results {
		member, _ := result.Member.(string)
		entries[i] = Entry{
			UserID: member,
			Score:  int64(result.Score),
			Rank:   int64(i) + 1,
		}
	}
	return entries, nil
}

func (b *Board) rank(ctx context.Context, key, userID string) (Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, errors.New("userId required")
	}
	pos, err := b.client.ZRevRank(ctx, key, userID).Result()
	if err == redis.Nil {
		return Entry{UserID: userID}, nil
	}
	if err != nil {
		return Entry{}, err
	}
	score, err := b.client.ZScore(ctx, key, userID).Result()
	if err != nil && err != redis.Nil {
		return Entry{}, err
	}
	return Entry{
		UserID: userID,
		Score:  int64(score),
		Rank:   pos + 1,
	}, nil
}

func (b *Board) allTimeKey() string {
	return b.prefix + ":xp:alltime"
}

func (b *Board) weekKey(at time.Time) string {
	year, week := at.UTC().ISOWeek()
	return fmt.Sprintf("%s:xp:%04d-W%02d", b.prefix, year, week)
}

// WeekStart returns the UTC start of the ISO week containing at, the
// window the weekly XP keys cover.
func WeekStart(at time.Time) time.Time {
	at = at.UTC()
	weekday := int(at.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := at.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func (b *Board) streakKey() string {
	return b.prefix + ":streak"
}
