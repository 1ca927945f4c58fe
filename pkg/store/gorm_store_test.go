package store_test

import (
	"testing"
	"time"

	"readmaster/internal/testutil"
	"readmaster/pkg/domain"
)

func TestEnsureUserKeepsExistingRow(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	first, err := s.EnsureUser(domain.User{ID: "u1", Email: "a@example.com", DisplayName: "Ada", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if first.DisplayName != "Ada" {
		t.Fatalf("display name = %q, want %q", first.DisplayName, "Ada")
	}

	again, err := s.EnsureUser(domain.User{ID: "u1", Email: "a@example.com", DisplayName: "Someone Else", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if again.DisplayName != "Ada" {
		t.Fatalf("second ensure overwrote profile: got %q", again.DisplayName)
	}
}

func TestEnsureUserWithoutEmail(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	// Identity providers may omit the email claim; two such users must not
	// collide on the unique email index.
	first, err := s.EnsureUser(domain.User{ID: "sub-1", DisplayName: "Reader One", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("ensure first email-less user: %v", err)
	}
	second, err := s.EnsureUser(domain.User{ID: "sub-2", DisplayName: "Reader Two", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("ensure second email-less user: %v", err)
	}
	if first.ID != "sub-1" || second.ID != "sub-2" {
		t.Fatalf("stored ids = %q, %q", first.ID, second.ID)
	}
	if first.Email != "" || second.Email != "" {
		t.Fatalf("emails = %q, %q, want empty", first.Email, second.Email)
	}

	stored, ok, err := s.GetUserByID("sub-2")
	if err != nil || !ok {
		t.Fatalf("get second user: ok=%v err=%v", ok, err)
	}
	if stored.DisplayName != "Reader Two" {
		t.Fatalf("display name = %q, want %q", stored.DisplayName, "Reader Two")
	}
}

func TestBookSoftDelete(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	book := domain.Book{
		ID: "b1", OwnerID: "u1", Title: "Walden", Source: domain.SourceUpload,
		Genres: []string{"philosophy"}, Status: domain.StatusReady,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveBook(book); err != nil {
		t.Fatalf("save book: %v", err)
	}
	if err := s.DeleteBook("b1"); err != nil {
		t.Fatalf("delete book: %v", err)
	}

	if _, ok, err := s.GetBook("b1"); err != nil || ok {
		t.Fatalf("get deleted book: ok=%v err=%v, want miss", ok, err)
	}
	count, err := s.CountBooksByOwner("u1")
	if err != nil {
		t.Fatalf("count books: %v", err)
	}
	if count != 0 {
		t.Fatalf("count after delete = %d, want 0", count)
	}
}

func TestBookGenresRoundTrip(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	book := domain.Book{
		ID: "b1", OwnerID: "u1", Title: "Dune", Source: domain.SourceUpload,
		Genres: []string{"sci-fi", "classic"}, Tags: []string{"desert"},
		Status: domain.StatusQueued, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveBook(book); err != nil {
		t.Fatalf("save book: %v", err)
	}
	got, ok, err := s.GetBook("b1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if len(got.Genres) != 2 || got.Genres[0] != "sci-fi" || got.Genres[1] != "classic" {
		t.Fatalf("genres = %v, want [sci-fi classic]", got.Genres)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "desert" {
		t.Fatalf("tags = %v, want [desert]", got.Tags)
	}
}

func TestReplaceChunksReplacesPreviousSet(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	first := []domain.Chunk{
		{ID: "c1", Index: 0, Content: "one", CreatedAt: now},
		{ID: "c2", Index: 1, Content: "two", CreatedAt: now},
	}
	if err := s.ReplaceChunks("b1", first); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	second := []domain.Chunk{{ID: "c3", Index: 0, Content: "three", CreatedAt: now}}
	if err := s.ReplaceChunks("b1", second); err != nil {
		t.Fatalf("replace chunks again: %v", err)
	}

	chunks, err := s.ListChunksByBook("b1", 0)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c3" {
		t.Fatalf("chunks after replace = %+v, want single c3", chunks)
	}
}

func TestListDueFlashcardsOrder(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()
	reviewed := now.Add(-48 * time.Hour)

	cards := []domain.Flashcard{
		{ID: "easy", OwnerID: "u1", Front: "a", Back: "1", DueAt: now.Add(-time.Hour), EaseFactor: 2.5, LastReviewedAt: &reviewed, CreatedAt: now, UpdatedAt: now},
		{ID: "fresh", OwnerID: "u1", Front: "b", Back: "2", DueAt: now, EaseFactor: 2.5, CreatedAt: now, UpdatedAt: now},
		{ID: "hard", OwnerID: "u1", Front: "c", Back: "3", DueAt: now.Add(-time.Minute), EaseFactor: 1.8, LastReviewedAt: &reviewed, CreatedAt: now, UpdatedAt: now},
	}
	if err := s.CreateFlashcards(cards); err != nil {
		t.Fatalf("create flashcards: %v", err)
	}

	due, err := s.ListDueFlashcards("u1", now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("due count = %d, want 3", len(due))
	}
	wantOrder := []string{"fresh", "hard", "easy"}
	for i, want := range wantOrder {
		if due[i].ID != want {
			t.Fatalf("due[%d] = %s, want %s (full order %v)", i, due[i].ID, want, ids(due))
		}
	}
}

func ids(cards []domain.Flashcard) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.ID)
	}
	return out
}

func TestFlashcardSoftDeleteExcludedFromDue(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	card := domain.Flashcard{ID: "f1", OwnerID: "u1", Front: "q", Back: "a", DueAt: now.Add(-time.Hour), EaseFactor: 2.5, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateFlashcards([]domain.Flashcard{card}); err != nil {
		t.Fatalf("create flashcard: %v", err)
	}
	if err := s.DeleteFlashcard("f1"); err != nil {
		t.Fatalf("delete flashcard: %v", err)
	}
	count, err := s.CountDueFlashcards("u1", now)
	if err != nil {
		t.Fatalf("count due: %v", err)
	}
	if count != 0 {
		t.Fatalf("due count after delete = %d, want 0", count)
	}
}

func TestAddXPAccumulatesAndLogsEvents(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	if _, err := s.AddXP("u1", 10, "review", now); err != nil {
		t.Fatalf("add xp: %v", err)
	}
	total, err := s.AddXP("u1", 5, "review", now)
	if err != nil {
		t.Fatalf("add xp again: %v", err)
	}
	if total != 15 {
		t.Fatalf("total xp = %d, want 15", total)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sum, err := s.SumXPInRange("u1", dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sum xp: %v", err)
	}
	if sum != 15 {
		t.Fatalf("xp in range = %d, want 15", sum)
	}
}

func TestAwardAchievementIdempotent(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	award := domain.UserAchievement{UserID: "u1", AchievementID: "a1", EarnedAt: now}
	if err := s.AwardAchievement(award); err != nil {
		t.Fatalf("award: %v", err)
	}
	if err := s.AwardAchievement(award); err != nil {
		t.Fatalf("second award should be a no-op: %v", err)
	}

	held, err := s.ListUserAchievements("u1")
	if err != nil {
		t.Fatalf("list achievements: %v", err)
	}
	if len(held) != 1 {
		t.Fatalf("achievement count = %d, want 1", len(held))
	}
	ok, err := s.HasUserAchievement("u1", "a1")
	if err != nil || !ok {
		t.Fatalf("has achievement: ok=%v err=%v, want held", ok, err)
	}
}

func TestReplaceSimilaritiesFullReplace(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	first := []domain.UserSimilarity{
		{OtherID: "u2", Score: 0.9, Factors: domain.SimilarityFactors{Genre: 1}, ComputedAt: now},
		{OtherID: "u3", Score: 0.4, ComputedAt: now},
	}
	if err := s.ReplaceSimilarities("u1", first); err != nil {
		t.Fatalf("replace similarities: %v", err)
	}
	second := []domain.UserSimilarity{{OtherID: "u4", Score: 0.7, ComputedAt: now}}
	if err := s.ReplaceSimilarities("u1", second); err != nil {
		t.Fatalf("replace similarities again: %v", err)
	}

	got, err := s.ListSimilarReaders("u1", 10)
	if err != nil {
		t.Fatalf("list similar: %v", err)
	}
	if len(got) != 1 || got[0].OtherID != "u4" {
		t.Fatalf("similar readers = %+v, want only u4", got)
	}
}

func TestUpsertActivityDay(t *testing.T) {
	s := testutil.OpenTestStore(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	if err := s.UpsertActivityDay(domain.ActivityDay{UserID: "u1", Day: day, Reviews: 3}); err != nil {
		t.Fatalf("upsert activity: %v", err)
	}
	if err := s.UpsertActivityDay(domain.ActivityDay{UserID: "u1", Day: day, Reviews: 7, XPEarned: 40}); err != nil {
		t.Fatalf("upsert activity again: %v", err)
	}

	got, ok, err := s.GetActivityDay("u1", day)
	if err != nil || !ok {
		t.Fatalf("get activity: ok=%v err=%v", ok, err)
	}
	if got.Reviews != 7 || got.XPEarned != 40 {
		t.Fatalf("activity after upsert = %+v, want reviews=7 xp=40", got)
	}
}

func TestChallengeJoinAndCompleteOnce(t *testing.T) {
	s := testutil.OpenTestStore(t)
	now := time.Now().UTC()

	entry := domain.ChallengeEntry{UserID: "u1", ChallengeID: "ch1", JoinedAt: now}
	if err := s.JoinChallenge(entry); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.JoinChallenge(entry); err != nil {
		t.Fatalf("second join should be a no-op: %v", err)
	}

	firstDone := now.Add(time.Hour)
	if err := s.CompleteChallengeEntry("u1", "ch1", firstDone); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.CompleteChallengeEntry("u1", "ch1", now.Add(48*time.Hour)); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	got, ok, err := s.GetChallengeEntry("u1", "ch1")
	if err != nil || !ok {
		t.Fatalf("get entry: ok=%v err=%v", ok, err)
	}
	if got.CompletedAt == nil || got.CompletedAt.Sub(firstDone).Abs() > time.Second {
		t.Fatalf("completed_at = %v, want first completion %v", got.CompletedAt, firstDone)
	}
}
