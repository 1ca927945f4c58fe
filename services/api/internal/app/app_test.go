package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"readmaster/internal/testutil"
	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
	"readmaster/pkg/queue"
	"readmaster/pkg/store"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.ImportJob
}

func (q *fakeQueue) Enqueue(_ context.Context, bookID, kind, sourceURL string) (queue.ImportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := queue.ImportJob{
		ID:        fmt.Sprintf("job-%d", len(q.jobs)+1),
		BookID:    bookID,
		Kind:      kind,
		SourceURL: sourceURL,
		Status:    queue.StatusQueued,
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	stored  map[string]int
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: make(map[string]int)}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[key] = len(data)
	return nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("object %s not found", key)
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type scriptedGenerator struct {
	response string
	err      error
}

func (g scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

type fixture struct {
	app     *App
	store   *store.GormStore
	objects *fakeObjects
	imports *fakeQueue
}

func newFixture(t *testing.T, generated string) *fixture {
	t.Helper()
	dataStore := testutil.OpenTestStore(t)
	redis := miniredis.RunT(t)
	board, err := leaderboard.NewBoard(leaderboard.Config{Addr: redis.Addr()})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	objects := newFakeObjects()
	imports := &fakeQueue{}
	a, err := New(Config{
		Store:     dataStore,
		Objects:   objects,
		Imports:   imports,
		Board:     board,
		Generator: scriptedGenerator{response: generated},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, store: dataStore, objects: objects, imports: imports}
}

func (f *fixture) user(t *testing.T, subject string) domain.User {
	t.Helper()
	user, err := f.app.EnsureUser(subject, subject+"@example.com", "")
	if err != nil {
		t.Fatalf("ensure user %s: %v", subject, err)
	}
	return user
}

func (f *fixture) readyBook(t *testing.T, id, ownerID string) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	book := domain.Book{
		ID: id, OwnerID: ownerID, Title: "Walden", Author: "Henry David Thoreau",
		Source: domain.SourceUpload, Genres: []string{"philosophy"}, Tags: []string{},
		Status: domain.StatusReady, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.SaveBook(book); err != nil {
		t.Fatalf("seed book %s: %v", id, err)
	}
	return book
}

func (f *fixture) card(t *testing.T, id, ownerID string) domain.Flashcard {
	t.Helper()
	now := time.Now().UTC()
	card := domain.Flashcard{
		ID: id, OwnerID: ownerID,
		Front: "front of " + id, Back: "back of " + id,
		DueAt: now.Add(-time.Hour), EaseFactor: 2.5,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.CreateFlashcards([]domain.Flashcard{card}); err != nil {
		t.Fatalf("seed card %s: %v", id, err)
	}
	return card
}

func TestEnsureUserSeedsAndKeepsProfile(t *testing.T) {
	f := newFixture(t, "[]")

	user, err := f.app.EnsureUser("sub-1", "ada@example.com", "")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if user.ID != "sub-1" || user.DisplayName != "ada" {
		t.Fatalf("user = %+v, want id sub-1 named ada", user)
	}

	again, err := f.app.EnsureUser("sub-1", "ada@example.com", "Countess Lovelace")
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if again.DisplayName != "ada" {
		t.Fatalf("second ensure overwrote profile: got %q", again.DisplayName)
	}

	if _, err := f.app.EnsureUser("  ", "x@example.com", ""); err == nil {
		t.Fatal("expected error for blank subject")
	}
}

func TestUpdateProfileValidatesDisplayName(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")

	blank := "   "
	if _, err := f.app.UpdateProfile(context.Background(), user, ProfilePatch{DisplayName: &blank}); err == nil {
		t.Fatal("expected error for blank display name")
	}
	long := strings.Repeat("x", maxDisplayNameRunes+1)
	if _, err := f.app.UpdateProfile(context.Background(), user, ProfilePatch{DisplayName: &long}); err == nil {
		t.Fatal("expected error for overlong display name")
	}

	name := "Ada"
	optIn := true
	updated, err := f.app.UpdateProfile(context.Background(), user, ProfilePatch{DisplayName: &name, DigestOptIn: &optIn})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.DisplayName != "Ada" || !updated.DigestOptIn {
		t.Fatalf("updated = %+v, want renamed opted-in profile", updated)
	}
}

func TestUpdateProgressCompletesBookOnce(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")
	f.readyBook(t, "b1", "u1")

	res, err := f.app.UpdateProgress(context.Background(), user, "b1", 100, 250)
	if err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if !res.BookCompleted || res.XPAwarded != 50 {
		t.Fatalf("result = %+v, want completion worth 50 XP", res)
	}
	stats, ok, err := f.store.GetStats("u1")
	if err != nil || !ok {
		t.Fatalf("stats missing: ok=%v err=%v", ok, err)
	}
	if stats.TotalXP != 50 {
		t.Fatalf("total xp = %d, want 50", stats.TotalXP)
	}
	book, ok, err := f.store.GetBook("b1")
	if err != nil || !ok {
		t.Fatalf("book missing: ok=%v err=%v", ok, err)
	}
	if !book.Completed || book.FinishedAt == nil {
		t.Fatalf("book = %+v, want completed with finish timestamp", book)
	}

	// A repeat 100% update must not double-award.
	res, err = f.app.UpdateProgress(context.Background(), user, "b1", 100, 251)
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if res.BookCompleted || res.XPAwarded != 0 {
		t.Fatalf("repeat result = %+v, want no new award", res)
	}
	stats, _, _ = f.store.GetStats("u1")
	if stats.TotalXP != 50 {
		t.Fatalf("total xp after repeat = %d, want 50", stats.TotalXP)
	}
}

func TestUpdateProgressValidatesRange(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")
	f.readyBook(t, "b1", "u1")

	if _, err := f.app.UpdateProgress(context.Background(), user, "b1", -1, 0); err == nil {
		t.Fatal("expected error for negative percent")
	}
	if _, err := f.app.UpdateProgress(context.Background(), user, "b1", 101, 0); err == nil {
		t.Fatal("expected error for percent over 100")
	}
	if _, err := f.app.UpdateProgress(context.Background(), user, "b1", 50, -3); err == nil {
		t.Fatal("expected error for negative page")
	}
	if _, err := f.app.UpdateProgress(context.Background(), user, "missing", 50, 0); err == nil {
		t.Fatal("expected error for unknown book")
	}
}

func TestGetBookShowsReadingPosition(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")
	f.readyBook(t, "b1", "u1")

	detail, err := f.app.GetBook(user, "b1")
	if err != nil {
		t.Fatalf("get unopened book: %v", err)
	}
	if detail.Progress != nil {
		t.Fatalf("progress = %+v, want none before reading starts", detail.Progress)
	}

	if _, err := f.app.UpdateProgress(context.Background(), user, "b1", 40, 120); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	detail, err = f.app.GetBook(user, "b1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if detail.Title != "Walden" {
		t.Fatalf("title = %q, want the stored book", detail.Title)
	}
	if detail.Progress == nil || detail.Progress.Percent != 40 || detail.Progress.CurrentPage != 120 {
		t.Fatalf("progress = %+v, want 40%% at page 120", detail.Progress)
	}
}

func TestFinishingBooksAwardsLibraryAchievements(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")
	f.readyBook(t, "b1", "u1")
	f.readyBook(t, "b2", "u1")

	achievements := []domain.Achievement{
		{ID: "ach-first", Code: "first_book", Name: "First Finish", Category: domain.CategoryLibrary, Threshold: 1, XPReward: 25, Active: true},
		{ID: "ach-five", Code: "five_books", Name: "Shelf Clearer", Category: domain.CategoryLibrary, Threshold: 5, XPReward: 100, Active: true},
	}
	for _, def := range achievements {
		if err := f.store.SaveAchievement(def); err != nil {
			t.Fatalf("seed achievement %s: %v", def.Code, err)
		}
	}

	res, err := f.app.UpdateProgress(context.Background(), user, "b1", 100, 0)
	if err != nil {
		t.Fatalf("finish first book: %v", err)
	}
	if len(res.Achievements) != 1 || res.Achievements[0].Code != "first_book" {
		t.Fatalf("achievements = %+v, want exactly first_book", res.Achievements)
	}
	if res.XPAwarded != 75 {
		t.Fatalf("xp awarded = %d, want 50 completion + 25 achievement", res.XPAwarded)
	}

	// Second finish: threshold 1 already held, threshold 5 not reached.
	res, err = f.app.UpdateProgress(context.Background(), user, "b2", 100, 0)
	if err != nil {
		t.Fatalf("finish second book: %v", err)
	}
	if len(res.Achievements) != 0 {
		t.Fatalf("achievements on second finish = %+v, want none", res.Achievements)
	}
	held, err := f.store.ListUserAchievements("u1")
	if err != nil {
		t.Fatalf("list user achievements: %v", err)
	}
	if len(held) != 1 {
		t.Fatalf("held achievements = %d, want 1", len(held))
	}
}

func TestUploadBookStoresObjectAndQueuesJob(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")

	content := strings.NewReader("I went to the woods because I wished to live deliberately.")
	book, err := f.app.UploadBook(context.Background(), user, "walden.txt", "", "Henry David Thoreau", content, 58)
	if err != nil {
		t.Fatalf("upload book: %v", err)
	}
	if book.Title != "walden" || book.Status != domain.StatusQueued {
		t.Fatalf("book = %+v, want queued book titled from filename", book)
	}
	if len(f.imports.jobs) != 1 || f.imports.jobs[0].Kind != queue.KindUpload {
		t.Fatalf("jobs = %+v, want one upload job", f.imports.jobs)
	}
	if len(f.objects.stored) != 1 {
		t.Fatalf("stored objects = %d, want 1", len(f.objects.stored))
	}
}

func TestDeleteBookRemovesStoredObject(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")

	content := strings.NewReader("text")
	book, err := f.app.UploadBook(context.Background(), user, "walden.txt", "", "", content, 4)
	if err != nil {
		t.Fatalf("upload book: %v", err)
	}

	if err := f.app.DeleteBook(context.Background(), user, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, _ := f.store.GetBook(book.ID); ok {
		t.Fatal("book still readable after delete")
	}
	if len(f.objects.deleted) != 1 {
		t.Fatalf("deleted objects = %v, want the stored file", f.objects.deleted)
	}

	// Deleting someone else's book must fail before touching storage.
	other := f.user(t, "u2")
	f.readyBook(t, "b-theirs", "u1")
	if err := f.app.DeleteBook(context.Background(), other, "b-theirs"); err == nil {
		t.Fatal("expected forbidden error for foreign book")
	}
}

func TestReviewFlashcardRejectsInvalidQuality(t *testing.T) {
	f := newFixture(t, "[]")
	user := f.user(t, "u1")
	f.card(t, "card-1", "u1")

	if _, err := f.app.ReviewFlashcard(context.Background(), user, "card-1", 7); err == nil {
		t.Fatal("expected error for quality above scale")
	}
	if _, err := f.app.ReviewFlashcard(context.Background(), user, "card-1", -1); err == nil {
		t.Fatal("expected error for negative quality")
	}
}

func TestReviewFlashcardOwnership(t *testing.T) {
	f := newFixture(t, "[]")
	f.user(t, "u1")
	intruder := f.user(t, "u2")
	f.card(t, "card-1", "u1")

	if _, err := f.app.ReviewFlashcard(context.Background(), intruder, "card-1", 4); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := f.app.ReviewFlashcard(context.Background(), intruder, "missing", 4); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
}
