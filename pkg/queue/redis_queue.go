// Package queue moves book import jobs from the api to the worker over
// a Redis stream. Delivery is at-least-once: consumers run in a group,
// stalled messages are reclaimed, and failed jobs are redelivered a
// bounded number of times. Job status lives in a hash with a TTL so the
// api can answer "where is my import" without touching the stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"readmaster/internal/util"
)

// Job lifecycle states, in order.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Import kinds: "upload" parses a stored file, "url" fetches SourceURL.
const (
	KindUpload = "upload"
	KindURL    = "url"
)

// ImportJob tracks one book import through the stream.
type ImportJob struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	Kind         string    `json:"kind"`
	SourceURL    string    `json:"sourceUrl,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisQueueConfig tunes the queue; zero values take sensible defaults.
type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// RedisJobQueue is both the producing (Enqueue, GetJob) and consuming
// (Start) side of the import stream.
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	groupOnce    sync.Once
}

// NewRedisJobQueue validates cfg and connects to Redis.
func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}

	q := &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        strings.TrimSpace(cfg.Group),
		consumerBase: strings.TrimSpace(cfg.Consumer),
		jobTTL:       cfg.JobTTL,
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		claimCount:   cfg.ClaimCount,
	}
	if q.group == "" {
		q.group = "default"
	}
	if q.consumerBase == "" {
		q.consumerBase = util.NewID()
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 30 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	if q.claimCount <= 0 {
		q.claimCount = 10
	}
	return q, nil
}

// Enqueue records the job status hash and appends the job to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, bookID, kind, sourceURL string) (ImportJob, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return ImportJob{}, errors.New("bookId required")
	}
	kind = strings.TrimSpace(kind)
	if kind != KindUpload && kind != KindURL {
		return ImportJob{}, fmt.Errorf("unknown import kind %q", kind)
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if kind == KindURL && sourceURL == "" {
		return ImportJob{}, errors.New("sourceUrl required for url imports")
	}

	now := time.Now().UTC()
	job := ImportJob{
		ID:        util.NewID(),
		BookID:    bookID,
		Kind:      kind,
		SourceURL: sourceURL,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.saveStatus(ctx, job); err != nil {
		return ImportJob{}, err
	}
	if err := q.append(ctx, q.client, job); err != nil {
		return ImportJob{}, err
	}
	return job, nil
}

// GetJob loads the status hash for jobID; ok is false when unknown or
// already expired.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (ImportJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ImportJob{}, false, nil
	}
	fields, err := q.client.HGetAll(ctx, q.statusKey(jobID)).Result()
	if err != nil {
		return ImportJob{}, false, err
	}
	if len(fields) == 0 {
		return ImportJob{}, false, nil
	}
	return decodeJob(jobID, fields), true, nil
}

// Start launches concurrency consumer goroutines that run until ctx is
// cancelled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, ImportJob) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.groupOnce.Do(func() {
		// BUSYGROUP just means another replica got here first.
		_ = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	})
	for i := 0; i < concurrency; i++ {
		go q.consume(ctx, fmt.Sprintf("%s-%d", q.consumerBase, i), handler)
	}
}

func (q *RedisJobQueue) consume(ctx context.Context, consumer string, handler func(context.Context, ImportJob) error) {
	for ctx.Err() == nil {
		// Reclaim messages a dead consumer left pending before reading new
		// ones.
		if stalled, err := q.reclaim(ctx, consumer); err == nil {
			for _, msg := range stalled {
				q.process(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) reclaim(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (q *RedisJobQueue) process(ctx context.Context, msg redis.XMessage, handler func(context.Context, ImportJob) error) {
	jobID, _ := msg.Values["job_id"].(string)
	bookID, _ := msg.Values["book_id"].(string)
	if jobID == "" || bookID == "" {
		q.discard(ctx, msg.ID)
		return
	}
	kind, _ := msg.Values["kind"].(string)
	sourceURL, _ := msg.Values["source_url"].(string)

	job, err := q.beginAttempt(ctx, jobID, bookID, kind, sourceURL)
	if err != nil {
		q.discard(ctx, msg.ID)
		return
	}

	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		_ = q.transition(ctx, jobID, StatusDone, "")
		q.discard(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		_ = q.transition(ctx, jobID, StatusFailed, handlerErr.Error())
		q.discard(ctx, msg.ID)
		return
	}

	_ = q.transition(ctx, jobID, StatusQueued, handlerErr.Error())
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	_ = q.redeliver(ctx, msg.ID, job)
}

// redeliver re-appends the job and drops the old message in one
// pipeline, so a crash between the two cannot lose the job.
func (q *RedisJobQueue) redeliver(ctx context.Context, msgID string, job ImportJob) error {
	pipe := q.client.TxPipeline()
	_ = q.append(ctx, pipe, job)
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

// discard acknowledges and deletes a message that will not be retried.
func (q *RedisJobQueue) discard(ctx context.Context, msgID string) {
	_ = q.client.XAck(ctx, q.stream, q.group, msgID).Err()
	_ = q.client.XDel(ctx, q.stream, msgID).Err()
}

func (q *RedisJobQueue) append(ctx context.Context, c redis.Cmdable, job ImportJob) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":     job.ID,
			"book_id":    job.BookID,
			"kind":       job.Kind,
			"source_url": job.SourceURL,
		},
	}).Err()
}

// beginAttempt marks the job processing and bumps its attempt counter.
// The stream fields repair the hash when it expired mid-flight.
func (q *RedisJobQueue) beginAttempt(ctx context.Context, jobID, bookID, kind, sourceURL string) (ImportJob, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return ImportJob{}, err
	}
	if !ok {
		job = ImportJob{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	if bookID != "" {
		job.BookID = bookID
	}
	if kind != "" {
		job.Kind = kind
	}
	if sourceURL != "" {
		job.SourceURL = sourceURL
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.saveStatus(ctx, job); err != nil {
		return ImportJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) transition(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.saveStatus(ctx, job)
}

func (q *RedisJobQueue) saveStatus(ctx context.Context, job ImportJob) error {
	err := q.client.HSet(ctx, q.statusKey(job.ID), map[string]any{
		"id":        job.ID,
		"bookId":    job.BookID,
		"kind":      job.Kind,
		"sourceUrl": job.SourceURL,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return err
	}
	return q.client.Expire(ctx, q.statusKey(job.ID), q.jobTTL).Err()
}

func (q *RedisJobQueue) statusKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, fields map[string]string) ImportJob {
	job := ImportJob{
		ID:           jobID,
		BookID:       fields["bookId"],
		Kind:         fields["kind"],
		SourceURL:    fields["sourceUrl"],
		Status:       fields["status"],
		ErrorMessage: fields["error"],
	}
	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}
