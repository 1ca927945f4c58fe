package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEnqueueValidatesPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{Addr: mr.Addr(), Stream: "test:imports"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	bad := []struct {
		name   string
		bookID string
		kind   string
		url    string
	}{
		{"missing book id", "", KindUpload, ""},
		{"unknown kind", "book-1", "ftp", ""},
		{"url import without url", "book-1", KindURL, ""},
	}
	for _, tc := range bad {
		if _, err := q.Enqueue(ctx, tc.bookID, tc.kind, tc.url); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	job, err := q.Enqueue(ctx, "book-1", KindURL, "https://example.com/essay")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.Kind != KindURL {
		t.Fatalf("job = %+v, want queued url import", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.SourceURL != "https://example.com/essay" || got.BookID != "book-1" {
		t.Fatalf("round-tripped job = %+v", got)
	}
}

func TestRedeliverMovesMessageAtomically(t *testing.T) {
	q, ctx, msgID, job := pendingMessage(t)

	if err := q.redeliver(ctx, msgID, job); err != nil {
		t.Fatalf("redeliver: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("old message should be acked, %d still pending", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read redelivered message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one redelivered message, got %+v", streams)
	}
	values := streams[0].Messages[0].Values
	if values["job_id"] != job.ID || values["book_id"] != job.BookID {
		t.Fatalf("redelivered payload mismatch: %+v", values)
	}
	if values["kind"] != job.Kind || values["source_url"] != job.SourceURL {
		t.Fatalf("redelivery dropped import fields: %+v", values)
	}
}

func TestRedeliverFailureLeavesMessagePending(t *testing.T) {
	q, ctx, msgID, job := pendingMessage(t)

	dead, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.redeliver(dead, msgID, job); err == nil {
		t.Fatal("expected redeliver to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("original message should stay pending, got %d", pending.Count)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 1 {
		t.Fatalf("no duplicate should be appended on failure, stream len = %d", n)
	}
}

// pendingMessage enqueues one job and reads it into consumer-1's pending
// list without acking.
func pendingMessage(t *testing.T) (*RedisJobQueue, context.Context, string, ImportJob) {
	t.Helper()

	mr := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       mr.Addr(),
		Stream:     "test:imports",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	if err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err(); err != nil {
		t.Fatalf("create group: %v", err)
	}

	job, err := q.Enqueue(ctx, "book-1", KindURL, "https://example.com/essay")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job
}
