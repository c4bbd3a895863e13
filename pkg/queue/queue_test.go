package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client, zap.NewNop()), client
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := ReportExportPayload{
		ReportID:   uuid.New(),
		CohortCode: "CH401",
		FromDate:   "2026-03-01",
		ToDate:     "2026-03-31",
	}
	if err := q.EnqueueReportExport(ctx, payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, key, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if key != QueueReports {
		t.Fatalf("queue key: %s", key)
	}
	if job.Type != JobTypeReportExport || job.Attempt != 0 {
		t.Fatalf("job envelope: %+v", job)
	}
	var got ReportExportPayload
	if err := json.Unmarshal(job.Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != payload {
		t.Fatalf("payload round trip: %+v", got)
	}
}

func TestRetryReenqueues(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	job := &Job{ID: uuid.New().String(), Type: JobTypeReportExport, Payload: json.RawMessage(`{}`)}
	if err := q.Retry(ctx, job); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if job.Attempt != 1 {
		t.Fatalf("attempt: %d", job.Attempt)
	}
	if n := client.LLen(ctx, QueueReports).Val(); n != 1 {
		t.Fatalf("queue length: %d", n)
	}
	if n := client.LLen(ctx, QueueDLQ).Val(); n != 0 {
		t.Fatalf("dlq length: %d", n)
	}
}

func TestRetryExhaustedGoesToDLQ(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	job := &Job{ID: uuid.New().String(), Type: JobTypeReportExport, Payload: json.RawMessage(`{}`), Attempt: MaxRetries - 1}
	if err := q.Retry(ctx, job); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := client.LLen(ctx, QueueDLQ).Val(); n != 1 {
		t.Fatalf("dlq length: %d", n)
	}
	if n := client.LLen(ctx, QueueReports).Val(); n != 0 {
		t.Fatalf("queue length: %d", n)
	}
}
