package worker

import (
	"context"
	"errors"
	"newsq/internal/config"
	"newsq/internal/infra/archive"
	"newsq/internal/infra/mailer"
	"newsq/internal/infra/redisq"
	"newsq/internal/infra/webhook"
	"newsq/internal/infra/workflow"
	"newsq/internal/ports"
	"newsq/internal/usecase"
	"newsq/pkg/backoff"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ConsumerName string
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func Run(cfg Config) error {
	appCfg := config.MustLoad()
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = appCfg.Queue.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = appCfg.Queue.MaxBackoff
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	cli := redisq.New(appCfg.Redis)
	defer cli.Close()
	if err := cli.Init(ctx); err != nil {
		return err
	}

	var recipients ports.RecipientRepository
	if db, err := archive.Open(appCfg.Database); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("archive unavailable, alerts go to configured recipients only")
	} else {
		store := archive.New(db, appCfg.Scheduler.SubmissionSource)
		defer store.Close()
		recipients = store
	}

	notifier := webhook.New(appCfg.Webhook)
	alerter := mailer.New(appCfg.SMTP, recipients)

	retryDelay, err := backoff.New(appCfg.Queue.Backoff, cfg.BaseBackoff, cfg.MaxBackoff)
	if err != nil {
		return err
	}

	l := &usecase.Lifecycle{
		Q:          cli,
		Notifier:   notifier,
		Alerter:    alerter,
		Backoff:    retryDelay,
		Visibility: appCfg.Queue.Visibility,
	}

	// promotes due retries and reaps expired leases
	maintainer := &usecase.Maintainer{L: l, Interval: appCfg.Queue.MaintainEvery}

	consumer := usecase.Consumer{
		L:            l,
		P:            workflow.New(appCfg.Workflow),
		ConsumerName: cfg.ConsumerName,
		Concurrency:  cfg.Concurrency,
		MinPoll:      appCfg.Queue.MinPoll,
		MaxPoll:      appCfg.Queue.MaxPoll,
		JobTimeout:   jobTimeout(appCfg.Workflow.Timeout, appCfg.Queue.Visibility),
	}

	log.Ctx(ctx).Info().
		Str("consumer", cfg.ConsumerName).
		Int("concurrency", max(cfg.Concurrency, 1)).
		Dur("visibility", appCfg.Queue.Visibility).
		Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return maintainer.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	err = g.Wait()

	shutdown(notifier, alerter)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// jobTimeout keeps a job's run shorter than its visibility window so a slow
// workflow is reported by its own worker before the reaper claims it.
func jobTimeout(workflow, visibility time.Duration) time.Duration {
	if visibility <= 0 {
		return workflow
	}
	limit := visibility * 9 / 10
	if workflow <= 0 || workflow > limit {
		return limit
	}
	return workflow
}

func shutdown(n *webhook.Notifier, m *mailer.Mailer) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	if err := n.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("pending webhooks abandoned")
	}
	if err := m.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("pending alerts not sent")
	}
	log.Info().Msg("worker stopped")
}
