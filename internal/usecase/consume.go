package usecase

import (
	"context"
	"errors"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Consumer runs a pool of workers that dequeue jobs and run them through the
// external workflow.
type Consumer struct {
	L            *Lifecycle
	P            ports.Processor
	ConsumerName string
	Concurrency  int
	// Polling on an empty queue starts at MinPoll and doubles up to MaxPoll.
	MinPoll    time.Duration
	MaxPoll    time.Duration
	JobTimeout time.Duration
}

func (c Consumer) Run(ctx context.Context) error {
	n := max(c.Concurrency, 1)
	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		name := fmt.Sprintf("%s-%d", c.ConsumerName, i+1)
		g.Go(func() error {
			c.loop(log.Ctx(ctx).With().Str("consumer", name).Logger().WithContext(ctx))
			return nil
		})
	}
	return g.Wait()
}

func (c Consumer) loop(ctx context.Context) {
	minPoll := c.MinPoll
	if minPoll <= 0 {
		minPoll = 200 * time.Millisecond
	}
	maxPoll := max(c.MaxPoll, minPoll)
	poll := minPoll

	for ctx.Err() == nil {
		j, err := c.L.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrEmptyQueue) && ctx.Err() == nil {
				log.Ctx(ctx).Error().Err(err).Msg("dequeue failed")
			}
			sleep(ctx, poll)
			poll = min(poll*2, maxPoll)
			continue
		}
		poll = minPoll
		c.Handle(ctx, j)
	}
}

// Handle processes one dequeued job and reports the outcome. When ctx is
// cancelled mid-run the job is left processing; the visibility timeout
// returns it to the queue.
func (c Consumer) Handle(ctx context.Context, j *domain.Job) {
	logger := log.Ctx(ctx).With().Str("job_id", j.ID).Logger()
	logger.Info().Str("source_url", j.SourceURL).Int("retry_count", j.RetryCount).Msg("processing job")

	jctx := ctx
	if c.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, c.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := c.P.Process(jctx, *j)
	if ctx.Err() != nil {
		logger.Warn().Msg("shutdown during processing, leaving job to visibility timeout")
		return
	}

	if err != nil {
		var perr *domain.ProcessingError
		if !errors.As(err, &perr) {
			err = &domain.ProcessingError{JobID: j.ID, Err: err}
		}
		if _, ferr := c.L.Fail(ctx, j.ID, j.Attempt, err); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record job failure")
		}
		return
	}

	if _, err := c.L.Complete(ctx, j.ID, j.Attempt, result); err != nil {
		logger.Error().Err(err).Msg("failed to record job completion")
		return
	}
	logger.Info().Dur("took", time.Since(started)).Msg("job processed")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
