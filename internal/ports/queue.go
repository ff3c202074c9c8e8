package ports

import (
	"context"
	"encoding/json"
	"newsq/internal/domain"
	"time"
)

// QueueStore holds the main queue and the DLQ. Every transition is an atomic
// conditional update: a job is never in both queues and a pop hands a job to
// exactly one caller.
type QueueStore interface {
	Ping(ctx context.Context) error
	// Enqueue appends a new job to the main queue and returns its 1-based position.
	Enqueue(ctx context.Context, j *domain.Job) (int64, error)
	// Dequeue pops the oldest queued job and stamps its visibility deadline.
	// It returns domain.ErrEmptyQueue when nothing is ready.
	Dequeue(ctx context.Context, visibility time.Duration) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Complete, Retry and Bury act on a processing job only while its
	// Attempt still equals attempt; otherwise they return domain.ErrConflict.
	Complete(ctx context.Context, id string, attempt int, result json.RawMessage) (*domain.Job, error)
	// Retry returns the job to the main queue with retry_count+1. A zero or
	// past runAt appends it to the tail immediately.
	Retry(ctx context.Context, id string, attempt int, reason string, runAt time.Time) (*domain.Job, error)
	// Bury moves the job to the DLQ.
	Bury(ctx context.Context, id string, attempt int, reason string) (*domain.Job, error)
	Requeue(ctx context.Context, id string) (*domain.Job, error)
	RequeueAll(ctx context.Context) (int, error)
	// Promote moves delayed jobs due at now to the main queue tail.
	Promote(ctx context.Context, now time.Time, limit int) (int, error)
	// Expired lists processing jobs whose visibility deadline passed.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListMain(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error)
	ListDLQ(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	// ClaimIdempotencyKey binds key to jobID. If the key is already bound it
	// returns the existing job id and does not overwrite it.
	ClaimIdempotencyKey(ctx context.Context, key, jobID string, ttl time.Duration) (string, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

type Scheduler interface {
	Run(ctx context.Context) error
}
