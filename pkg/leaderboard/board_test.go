package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testBoard(t *testing.T) *Board {
	t.Helper()
	redis := miniredis.RunT(t)
	board, err := NewBoard(Config{Addr: redis.Addr(), Prefix: "test:lb"})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	return board
}

func TestRecordXPAccumulates(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	if err := board.RecordXP(ctx, "u1", 10, now); err != nil {
		t.Fatalf("record xp: %v", err)
	}
	if err := board.RecordXP(ctx, "u1", 5, now); err != nil {
		t.Fatalf("record xp: %v", err)
	}

	entry, err := board.XPRankAllTime(ctx, "u1")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if entry.Score != 15 || entry.Rank != 1 {
		t.Fatalf("entry = %+v, want score 15 rank 1", entry)
	}
}

func TestTopXPOrdersAndRanks(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, row := range []struct {
		user string
		xp   int64
	}{{"low", 5}, {"high", 50}, {"mid", 20}} {
		if err := board.RecordXP(ctx, row.user, row.xp, now); err != nil {
			t.Fatalf("record xp: %v", err)
		}
	}

	top, err := board.TopXPAllTime(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("len(top) = %d, want 3", len(top))
	}
	if top[0].UserID != "high" || top[0].Rank != 1 {
		t.Fatalf("top[0] = %+v, want high at rank 1", top[0])
	}
	if top[1].UserID != "mid" || top[1].Rank != 2 {
		t.Fatalf("top[1] = %+v, want mid at rank 2", top[1])
	}
	if top[2].UserID != "low" || top[2].Rank != 3 {
		t.Fatalf("top[2] = %+v, want low at rank 3", top[2])
	}
}

func TestWeeklyBoardIsolatedByWeek(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()
	thisWeek := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	lastWeek := thisWeek.AddDate(0, 0, -7)

	if err := board.RecordXP(ctx, "u1", 30, lastWeek); err != nil {
		t.Fatalf("record xp: %v", err)
	}
	if err := board.RecordXP(ctx, "u1", 7, thisWeek); err != nil {
		t.Fatalf("record xp: %v", err)
	}

	entry, err := board.XPRankWeek(ctx, thisWeek, "u1")
	if err != nil {
		t.Fatalf("week rank: %v", err)
	}
	if entry.Score != 7 {
		t.Fatalf("this week score = %d, want 7", entry.Score)
	}

	allTime, err := board.XPRankAllTime(ctx, "u1")
	if err != nil {
		t.Fatalf("all-time rank: %v", err)
	}
	if allTime.Score != 37 {
		t.Fatalf("all-time score = %d, want 37", allTime.Score)
	}
}

func TestStreakIsAbsoluteNotIncremental(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()

	if err := board.SetStreak(ctx, "u1", 12); err != nil {
		t.Fatalf("set streak: %v", err)
	}
	if err := board.SetStreak(ctx, "u1", 0); err != nil {
		t.Fatalf("set streak: %v", err)
	}

	entry, err := board.StreakRank(ctx, "u1")
	if err != nil {
		t.Fatalf("streak rank: %v", err)
	}
	if entry.Score != 0 {
		t.Fatalf("streak score = %d, want 0 after reset", entry.Score)
	}
}

func TestSetXPReplaysAbsoluteTotals(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	if err := board.RecordXP(ctx, "u1", 3, now); err != nil {
		t.Fatalf("record xp: %v", err)
	}
	if err := board.SetXP(ctx, "u1", 120, 25, now); err != nil {
		t.Fatalf("set xp: %v", err)
	}

	allTime, err := board.XPRankAllTime(ctx, "u1")
	if err != nil {
		t.Fatalf("all-time rank: %v", err)
	}
	if allTime.Score != 120 {
		t.Fatalf("all-time score = %d, want 120", allTime.Score)
	}
	week, err := board.XPRankWeek(ctx, now, "u1")
	if err != nil {
		t.Fatalf("week rank: %v", err)
	}
	if week.Score != 25 {
		t.Fatalf("week score = %d, want 25", week.Score)
	}
}

func TestWeekStartIsMonday(t *testing.T) {
	// 2026-03-04 is a Wednesday; its ISO week starts Monday 2026-03-02.
	start := WeekStart(time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC))
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("WeekStart = %v, want %v", start, want)
	}
	// A Sunday still belongs to the week that began the previous Monday.
	sunday := WeekStart(time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC))
	if !sunday.Equal(want) {
		t.Fatalf("WeekStart(sunday) = %v, want %v", sunday, want)
	}
}

func TestRankForUnknownUserIsZero(t *testing.T) {
	board := testBoard(t)

	entry, err := board.XPRankAllTime(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if entry.Rank != 0 {
		t.Fatalf("rank = %d, want 0 for unranked user", entry.Rank)
	}
}

func TestRemoveUserClearsBoards(t *testing.T) {
	board := testBoard(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := board.RecordXP(ctx, "u1", 10, now); err != nil {
		t.Fatalf("record xp: %v", err)
	}
	if err := board.SetStreak(ctx, "u1", 4); err != nil {
		t.Fatalf("set streak: %v", err)
	}
	if err := board.RemoveUser(ctx, "u1", now); err != nil {
		t.Fatalf("remove: %v", err)
	}

	entry, err := board.XPRankAllTime(ctx, "u1")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if entry.Rank != 0 {
		t.Fatalf("rank = %d, want 0 after removal", entry.Rank)
	}
	streak, err := board.StreakRank(ctx, "u1")
	if err != nil {
		t.Fatalf("streak rank: %v", err)
	}
	if streak.Rank != 0 {
		t.Fatalf("streak rank = %d, want 0 after removal", streak.Rank)
	}
}

func TestNewBoardRequiresAddr(t *testing.T) {
	if _, err := NewBoard(Config{}); err == nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
