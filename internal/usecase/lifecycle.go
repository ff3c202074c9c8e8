package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"newsq/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
)

// Lifecycle moves jobs through queued → processing → completed | failed → dlq.
//
// A failed job is retried while retry_count < max_retries, each retry bumping
// the count and waiting Backoff.Delay(retry_count). A failure at
// retry_count == max_retries buries the job in the DLQ, so a job runs at most
// max_retries+1 times and never sits in the main queue above its budget.
type Lifecycle struct {
	Q        ports.QueueStore
	Notifier ports.Notifier
	Alerter  ports.Alerter
	Backoff  backoff.Strategy
	// Visibility is how long a dequeued job may stay processing before it is
	// considered abandoned.
	Visibility time.Duration
	Now        func() time.Time
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Submit validates j and appends it to the main queue.
func (l *Lifecycle) Submit(ctx context.Context, j *domain.Job) (int64, error) {
	if err := domain.ValidateSourceURL(j.SourceURL); err != nil {
		return 0, err
	}
	if err := domain.ValidateMaxRetries(j.MaxRetries); err != nil {
		return 0, err
	}
	j.RetryCount = 0
	pos, err := l.Q.Enqueue(ctx, j)
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).Info().Str("job_id", j.ID).Str("source_url", j.SourceURL).Int64("position", pos).Msg("job queued")
	return pos, nil
}

// Dequeue returns domain.ErrEmptyQueue when nothing is ready; callers poll again.
func (l *Lifecycle) Dequeue(ctx context.Context) (*domain.Job, error) {
	return l.Q.Dequeue(ctx, l.Visibility)
}

// Complete finishes a processing job and hands its result to the notifier
// once. Delivery problems are logged and never change the job. attempt is the
// Attempt of the dequeued job; a report for an earlier delivery returns
// domain.ErrConflict.
func (l *Lifecycle) Complete(ctx context.Context, id string, attempt int, result json.RawMessage) (*domain.Job, error) {
	j, err := l.Q.Complete(ctx, id, attempt, result)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("job_id", id).Msg("job completed")

	if l.Notifier != nil {
		if err := l.Notifier.Notify(ctx, *j); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("job_id", id).Msg("result notification not sent")
		}
	}
	return j, nil
}

// Fail applies the retry policy to a processing job, fenced by attempt like
// Complete.
func (l *Lifecycle) Fail(ctx context.Context, id string, attempt int, cause error) (*domain.Job, error) {
	j, err := l.Q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State != domain.StateProcessing || j.Attempt != attempt {
		return nil, fmt.Errorf("fail job %s in state %s (attempt %d): %w", id, j.State, j.Attempt, domain.ErrConflict)
	}

	reason := domain.SanitizeError(cause.Error())
	if j.RetryCount < j.MaxRetries {
		var runAt time.Time
		if l.Backoff != nil {
			if d := l.Backoff.Delay(j.RetryCount + 1); d > 0 {
				runAt = l.now().Add(d)
			}
		}
		retried, err := l.Q.Retry(ctx, id, attempt, reason, runAt)
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Warn().
			Str("job_id", id).
			Int("retry_count", retried.RetryCount).
			Int("max_retries", retried.MaxRetries).
			Time("next_run_at", retried.NextRunAt).
			Str("error", reason).
			Msg("job failed, retrying")
		return retried, nil
	}

	buried, err := l.Q.Bury(ctx, id, attempt, reason)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Error().
		Str("job_id", id).
		Int("retry_count", buried.RetryCount).
		Str("error", reason).
		Msg("job moved to dlq")

	if l.Alerter != nil {
		alert := domain.Alert{JobID: id, SourceURL: buried.SourceURL, Error: reason, At: l.now()}
		if err := l.Alerter.Alert(ctx, alert); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("job_id", id).Msg("dlq alert not sent")
		}
	}
	return buried, nil
}

// Requeue moves a DLQ job back to the main queue tail with a fresh retry
// budget. Its last error and requeue counter are kept as history.
func (l *Lifecycle) Requeue(ctx context.Context, id string) (*domain.Job, error) {
	j, err := l.Q.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("job_id", id).Int("requeues", j.Requeues).Msg("job requeued from dlq")
	return j, nil
}

func (l *Lifecycle) RequeueAll(ctx context.Context) (int, error) {
	n, err := l.Q.RequeueAll(ctx)
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).Info().Int("count", n).Msg("dlq requeued")
	return n, nil
}

// Reap fails every job whose visibility deadline passed, as if its worker had
// reported an error.
func (l *Lifecycle) Reap(ctx context.Context) (int, error) {
	now := l.now()
	ids, err := l.Q.Expired(ctx, now, 0)
	if err != nil {
		return 0, err
	}
	var n int
	for _, id := range ids {
		j, err := l.Q.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		// redelivered since the scan
		if j.State != domain.StateProcessing || j.Deadline.After(now) {
			continue
		}
		_, err = l.Fail(ctx, id, j.Attempt, domain.ErrVisibilityTimeout)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Promote moves due retries into the main queue.
func (l *Lifecycle) Promote(ctx context.Context) (int, error) {
	return l.Q.Promote(ctx, l.now(), 0)
}

func (l *Lifecycle) Get(ctx context.Context, id string) (*domain.Job, error) {
	return l.Q.Get(ctx, id)
}

func (l *Lifecycle) ListMain(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	return l.Q.ListMain(ctx, offset, limit)
}

func (l *Lifecycle) ListDLQ(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	return l.Q.ListDLQ(ctx, offset, limit)
}

func (l *Lifecycle) Stats(ctx context.Context) (domain.QueueStats, error) {
	return l.Q.Stats(ctx)
}
