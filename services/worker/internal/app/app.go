// Package app runs Read Master's background work: the book import
// consumer and the cron batch jobs for streaks, reader similarity,
// activity analytics, digests and review reminders.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"readmaster/pkg/domain"
	"readmaster/pkg/leaderboard"
	"readmaster/pkg/queue"
	"readmaster/pkg/storage"
	"readmaster/pkg/store"
)

const (
	defaultBatchSize      = 200
	defaultJobConcurrency = 4
	defaultChunkSize      = 800
	defaultFetchTimeout   = 30 * time.Second
	defaultFetchMaxBytes  = 10 << 20
	defaultFetchUserAgent = "readmaster-worker/1.0"
)

// ImportQueue is the consuming side of the book import stream.
type ImportQueue interface {
	Start(ctx context.Context, concurrency int, handler func(context.Context, queue.ImportJob) error)
	GetJob(ctx context.Context, jobID string) (queue.ImportJob, bool, error)
}

// Mailer delivers digests and reminders. The default implementation only
// logs; a transactional provider slots in behind the same interface.
type Mailer interface {
	Send(ctx context.Context, to domain.User, subject, body string) error
}

// LogMailer writes outbound mail to the log instead of delivering it.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to domain.User, subject, body string) error {
	slog.Info("mail delivered to log", "user_id", to.ID, "subject", subject, "bytes", len(body))
	return nil
}

// Config holds runtime configuration for the worker application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore
	RedisAddr      string
	RedisPassword  string
	ImportStream   string
	Imports        ImportQueue
	Board          *leaderboard.Board
	Mailer         Mailer

	ChunkSize    int
	ChunkOverlap int

	FetchTimeout   time.Duration
	FetchMaxBytes  int64
	FetchUserAgent string

	BatchSize      int
	JobConcurrency int
}

// App wires storage, object storage, the import stream and the
// leaderboard mirrors together for the batch jobs and the consumer.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	imports ImportQueue
	board   *leaderboard.Board
	mailer  Mailer

	fetchClient    *http.Client
	fetchMaxBytes  int64
	fetchUserAgent string

	chunkSize    int
	chunkOverlap int

	batchSize   int
	concurrency int
}

// New constructs the worker application. Store, Objects, Imports, Board
// and Mailer may be injected for tests; otherwise they are built from the
// connection settings.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	imports := cfg.Imports
	if imports == nil {
		var err error
		imports, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.ImportStream,
			Group:    "imports",
		})
		if err != nil {
			return nil, fmt.Errorf("init import queue: %w", err)
		}
	}
	board := cfg.Board
	if board == nil {
		var err error
		board, err = leaderboard.NewBoard(leaderboard.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return nil, fmt.Errorf("init leaderboard: %w", err)
		}
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = LogMailer{}
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	fetchMaxBytes := cfg.FetchMaxBytes
	if fetchMaxBytes <= 0 {
		fetchMaxBytes = defaultFetchMaxBytes
	}
	fetchUserAgent := cfg.FetchUserAgent
	if fetchUserAgent == "" {
		fetchUserAgent = defaultFetchUserAgent
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := cfg.JobConcurrency
	if concurrency <= 0 {
		concurrency = defaultJobConcurrency
	}

	return &App{
		store:          dataStore,
		objects:        objects,
		imports:        imports,
		board:          board,
		mailer:         mailer,
		fetchClient:    &http.Client{Timeout: fetchTimeout},
		fetchMaxBytes:  fetchMaxBytes,
		fetchUserAgent: fetchUserAgent,
		chunkSize:      chunkSize,
		chunkOverlap:   chunkOverlap,
		batchSize:      batchSize,
		concurrency:    concurrency,
	}, nil
}

// StartImports launches the import stream consumers.
func (a *App) StartImports(ctx context.Context, concurrency int) {
	a.imports.Start(ctx, concurrency, a.HandleImport)
}

// ImportJob looks up an import job's status for the internal endpoint.
func (a *App) ImportJob(ctx context.Context, jobID string) (queue.ImportJob, bool, error) {
	return a.imports.GetJob(ctx, jobID)
}

// eachUserPage walks all users in creation order, handing the callback one
// fixed-size page at a time. The callback's error aborts the walk.
func (a *App) eachUserPage(ctx context.Context, fn func([]domain.User) error) error {
	for offset := 0; ; offset += a.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		users, err := a.store.ListUsersPage(offset, a.batchSize)
		if err != nil {
			return fmt.Errorf("list users page at %d: %w", offset, err)
		}
		if len(users) == 0 {
			return nil
		}
		if err := fn(users); err != nil {
			return err
		}
		if len(users) < a.batchSize {
			return nil
		}
	}
}

// dayStart returns the UTC midnight opening the calendar day containing t.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
