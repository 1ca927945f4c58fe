package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
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

type fakeObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blobs: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

type fakeQueue struct {
	jobs map[string]queue.ImportJob
}

func (q *fakeQueue) Start(context.Context, int, func(context.Context, queue.ImportJob) error) {}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (queue.ImportJob, bool, error) {
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

type sentMail struct {
	To      domain.User
	Subject string
	Body    string
}

type recordingMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to domain.User, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) messages() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type fixture struct {
	app     *App
	store   *store.GormStore
	objects *fakeObjects
	imports *fakeQueue
	board   *leaderboard.Board
	mail    *recordingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataStore := testutil.OpenTestStore(t)
	redis := miniredis.RunT(t)
	board, err := leaderboard.NewBoard(leaderboard.Config{Addr: redis.Addr()})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	objects := newFakeObjects()
	imports := &fakeQueue{jobs: make(map[string]queue.ImportJob)}
	mail := &recordingMailer{}
	a, err := New(Config{
		Store:   dataStore,
		Objects: objects,
		Imports: imports,
		Board:   board,
		Mailer:  mail,
		// Tiny page size so multi-user tests cross page boundaries.
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, store: dataStore, objects: objects, imports: imports, board: board, mail: mail}
}

func (f *fixture) user(t *testing.T, id string, public bool) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID: id, Email: id + "@example.com", DisplayName: id,
		PublicProfile: public, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.SaveUser(u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

func (f *fixture) review(t *testing.T, userID string, at time.Time) {
	t.Helper()
	entry := domain.ReviewLog{
		ID: fmt.Sprintf("rev-%s-%d", userID, at.UnixNano()), UserID: userID,
		CardID: "card-" + userID, Quality: 4, IntervalAfter: 1, EaseAfter: 2.5,
		ReviewedAt: at,
	}
	if err := f.store.AppendReviewLog(entry); err != nil {
		t.Fatalf("seed review for %s: %v", userID, err)
	}
}

func (f *fixture) stats(t *testing.T, userID string) domain.UserStats {
	t.Helper()
	stats, ok, err := f.store.GetStats(userID)
	if err != nil {
		t.Fatalf("load stats %s: %v", userID, err)
	}
	if !ok {
		t.Fatalf("stats for %s missing", userID)
	}
	return stats
}
