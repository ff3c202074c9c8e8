package usecase

import (
	"context"
	"errors"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Submission struct {
	SourceURL      string
	MaxRetries     *int
	IdempotencyKey string
}

type Receipt struct {
	Job      *domain.Job
	Position int64
	// Replayed is set when the idempotency key matched an earlier submission.
	Replayed bool
}

// Enqueuer is the write side of the dispatcher. It rejects URLs already
// known to the dedup store and turns retried client requests carrying the
// same idempotency key into no-ops.
type Enqueuer struct {
	L                 *Lifecycle
	Dedup             ports.Deduper
	DefaultMaxRetries int
	IdempotencyTTL    time.Duration
}

func (e Enqueuer) Now(ctx context.Context, s Submission) (Receipt, error) {
	if err := domain.ValidateSourceURL(s.SourceURL); err != nil {
		return Receipt{}, err
	}
	maxRetries := e.DefaultMaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	if s.MaxRetries != nil {
		maxRetries = *s.MaxRetries
	}
	if err := domain.ValidateMaxRetries(maxRetries); err != nil {
		return Receipt{}, err
	}

	j := &domain.Job{
		ID:             uuid.NewString(),
		SourceURL:      s.SourceURL,
		MaxRetries:     maxRetries,
		IdempotencyKey: s.IdempotencyKey,
	}

	if s.IdempotencyKey != "" {
		owner, err := e.L.Q.ClaimIdempotencyKey(ctx, s.IdempotencyKey, j.ID, e.ttl())
		if err != nil {
			return Receipt{}, unavailable(err)
		}
		if owner != j.ID {
			return e.replay(ctx, owner)
		}
	}

	if e.Dedup != nil {
		if err := e.Dedup.Claim(ctx, j.SourceURL, j.ID); err != nil {
			e.releaseKey(ctx, s.IdempotencyKey)
			return Receipt{}, err
		}
	}

	pos, err := e.L.Submit(ctx, j)
	if err != nil {
		if e.Dedup != nil {
			if rerr := e.Dedup.Release(ctx, j.SourceURL); rerr != nil {
				log.Ctx(ctx).Warn().Err(rerr).Str("source_url", j.SourceURL).Msg("failed to release dedup claim")
			}
		}
		e.releaseKey(ctx, s.IdempotencyKey)
		if errors.Is(err, domain.ErrInvalidInput) {
			return Receipt{}, err
		}
		return Receipt{}, unavailable(err)
	}
	return Receipt{Job: j, Position: pos}, nil
}

func (e Enqueuer) replay(ctx context.Context, jobID string) (Receipt, error) {
	j, err := e.L.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return Receipt{}, fmt.Errorf("%w: submission with this idempotency key is in progress", domain.ErrConflict)
	}
	if err != nil {
		return Receipt{}, unavailable(err)
	}
	log.Ctx(ctx).Info().Str("job_id", jobID).Msg("idempotent submission replayed")
	return Receipt{Job: j, Replayed: true}, nil
}

func (e Enqueuer) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := e.L.Q.ReleaseIdempotencyKey(ctx, key); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to release idempotency key")
	}
}

func (e Enqueuer) ttl() time.Duration {
	if e.IdempotencyTTL > 0 {
		return e.IdempotencyTTL
	}
	return 24 * time.Hour
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
