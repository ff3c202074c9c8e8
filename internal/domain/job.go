package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	// StateFailed marks a job waiting out its retry backoff. It still belongs
	// to the main queue.
	StateFailed JobState = "failed"
	StateDLQ    JobState = "dlq"
)

const (
	DefaultMaxRetries = 3
	MaxRetriesLimit   = 20
)

type Job struct {
	ID         string   `json:"job_id"`
	SourceURL  string   `json:"source_url"`
	State      JobState `json:"status"`
	RetryCount int      `json:"retry_count"`
	// Attempt counts dequeues. It is the lease a worker reports against, so
	// a report from an earlier delivery never lands on a later one.
	Attempt        int             `json:"attempt"`
	MaxRetries     int             `json:"max_retries"`
	Requeues       int             `json:"requeues"`
	LastError      string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      time.Time       `json:"started_at,omitzero"`
	FinishedAt     time.Time       `json:"finished_at,omitzero"`
	NextRunAt      time.Time       `json:"next_run_at,omitzero"`
	// Deadline is the visibility timeout of a processing job.
	Deadline time.Time `json:"deadline,omitzero"`
}

// InMain reports whether the job is owned by the main queue.
func (j *Job) InMain() bool {
	return j.State == StateQueued || j.State == StateFailed
}

// ValidateSourceURL accepts absolute http(s) URLs with a host.
func ValidateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: source_url is required", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: source_url: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: source_url scheme must be http or https", ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: source_url has no host", ErrInvalidInput)
	}
	return nil
}

func ValidateMaxRetries(n int) error {
	if n < 0 || n > MaxRetriesLimit {
		return fmt.Errorf("%w: max_retries must be between 0 and %d", ErrInvalidInput, MaxRetriesLimit)
	}
	return nil
}

type QueueStats struct {
	Main       int64 `json:"main"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	DLQ        int64 `json:"dlq"`
}

// Alert is an operator notification about a job or crawl failure.
type Alert struct {
	JobID     string
	SourceURL string
	Error     string
	At        time.Time
}
