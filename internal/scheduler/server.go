package scheduler

import (
	"context"
	"fmt"
	"newsq/internal/config"
	"newsq/internal/infra/apiclient"
	"newsq/internal/infra/archive"
	"newsq/internal/infra/crawler"
	"newsq/internal/infra/mailer"
	"newsq/internal/usecase"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Parallel bounds how many sources are crawled at once.
	Parallel int
	// Once runs a single cycle and exits.
	Once bool
}

func Run(cfg Config) error {
	appCfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.With().Str("component", "scheduler").Logger().WithContext(ctx)

	db, err := archive.Open(appCfg.Database)
	if err != nil {
		return err
	}
	store := archive.New(db, appCfg.Scheduler.SubmissionSource)
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	alerter := mailer.New(appCfg.SMTP, store)
	defer func() {
		if err := alerter.Flush(context.Background()); err != nil {
			log.Error().Err(err).Msg("pending alerts not sent")
		}
	}()

	d := &usecase.Discoverer{
		Sources:    store,
		Articles:   store,
		Finder:     crawler.New(appCfg.Scheduler),
		Submitter:  apiclient.New(appCfg.Scheduler.MainAPIURL, appCfg.API.Key),
		Alerter:    alerter,
		MaxRetries: appCfg.Scheduler.MaxRetries,
		Parallel:   cfg.Parallel,
	}

	if cfg.Once {
		return d.Cycle(ctx)
	}

	c, err := New(ctx, appCfg.Scheduler.Cycle, d)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("cycle", appCfg.Scheduler.Cycle).Msg("scheduler started")
	c.Start()

	<-ctx.Done()
	log.Info().Msg("scheduler is shutting down...")
	select {
	case <-c.Stop().Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("scheduler cycle still running at shutdown")
	}
	log.Info().Msg("scheduler stopped")
	return nil
}

// New schedules d's cycle on spec. A cycle that is still running when the
// next one is due is skipped.
func New(ctx context.Context, spec string, d *usecase.Discoverer) (*cron.Cron, error) {
	logger := cronLogger{l: log.Ctx(ctx)}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(spec, func() {
		if err := d.Cycle(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("scheduler cycle failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cycle spec %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	l *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
