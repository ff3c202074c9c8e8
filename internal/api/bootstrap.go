package api

import (
	"context"
	"fmt"
	"newsq/internal/config"
	"newsq/internal/infra/archive"
	"newsq/internal/infra/redisq"
	"newsq/internal/usecase"

	"github.com/rs/zerolog/log"
)

// New wires the dispatcher against Redis and the archive database. A Redis
// outage at startup is logged, not fatal: submissions answer 503 until the
// store comes back.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	cli := redisq.New(cfg.Redis)
	if err := cli.Init(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("redis not ready, serving degraded")
	}

	db, err := archive.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	store := archive.New(db, cfg.Scheduler.SubmissionSource)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	l := &usecase.Lifecycle{Q: cli, Visibility: cfg.Queue.Visibility}
	s := NewServer(Deps{
		Lifecycle: l,
		Enqueuer: usecase.Enqueuer{
			L:                 l,
			Dedup:             store,
			DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
			IdempotencyTTL:    cfg.Queue.IdempotencyTTL,
		},
		Sources:       store,
		Articles:      store,
		Database:      store,
		APIKey:        cfg.API.Key,
		RateLimit:     cfg.API.RateLimit,
		WebhookSecret: cfg.Webhook.Secret,
	})
	s.OnShutdown = func() {
		if err := cli.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close archive")
		}
	}
	return s, nil
}
