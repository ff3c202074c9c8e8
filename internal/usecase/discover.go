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

// Discoverer checks news sources for article links that were never seen
// before and submits them as jobs.
type Discoverer struct {
	Sources    ports.SourceRepository
	Articles   ports.ArticleRepository
	Finder     ports.LinkFinder
	Submitter  ports.Submitter
	Alerter    ports.Alerter
	MaxRetries int
	// Parallel bounds how many sources are checked at once.
	Parallel int
	Now      func() time.Time
}

func (d *Discoverer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Cycle checks every active source whose fetch interval elapsed.
func (d *Discoverer) Cycle(ctx context.Context) error {
	sources, err := d.Sources.ActiveSources(ctx)
	if err != nil {
		return fmt.Errorf("load active sources: %w", err)
	}

	now := d.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Parallel, 1))
	var due int
	for _, src := range sources {
		if !src.Due(now) {
			continue
		}
		due++
		g.Go(func() error {
			if _, err := d.Check(gctx, src); err != nil {
				log.Ctx(gctx).Error().Err(err).Str("source_id", src.ID).Msg("source check failed")
			}
			return nil
		})
	}
	log.Ctx(ctx).Info().Int("active", len(sources)).Int("due", due).Msg("scheduler cycle")
	return g.Wait()
}

// Check crawls one source and returns how many jobs were submitted.
func (d *Discoverer) Check(ctx context.Context, src domain.Source) (int, error) {
	logger := log.Ctx(ctx).With().Str("source_id", src.ID).Str("source", src.Name).Logger()
	logger.Info().Str("listing_url", src.ListingURL).Msg("checking source")

	links, err := d.Finder.Links(ctx, src.ListingURL, src.URLPattern)
	if err != nil {
		d.alert(ctx, src, err)
		return 0, fmt.Errorf("discover links on %s: %w", src.ListingURL, err)
	}

	fresh, err := d.Articles.FilterNew(ctx, links)
	if err != nil {
		return 0, fmt.Errorf("filter known links: %w", err)
	}
	logger.Info().Int("found", len(links)).Int("new", len(fresh)).Msg("links discovered")

	var submitted int
	for _, link := range fresh {
		jobID, err := d.Submitter.Submit(ctx, link, d.MaxRetries)
		if errors.Is(err, domain.ErrDuplicate) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("url", link).Msg("submission failed")
			continue
		}
		if err := d.Articles.TagSource(ctx, link, src.ID); err != nil {
			logger.Warn().Err(err).Str("url", link).Msg("failed to tag article with source")
		}
		logger.Info().Str("url", link).Str("job_id", jobID).Msg("submitted")
		submitted++
	}

	if err := d.Sources.MarkSourceRun(ctx, src.ID, d.now()); err != nil {
		return submitted, fmt.Errorf("update last run: %w", err)
	}
	return submitted, nil
}

func (d *Discoverer) alert(ctx context.Context, src domain.Source, cause error) {
	if d.Alerter == nil {
		return
	}
	a := domain.Alert{
		JobID:     "scheduler-" + src.ID,
		SourceURL: src.ListingURL,
		Error:     fmt.Sprintf("error processing source %s: %v", src.Name, cause),
		At:        d.now(),
	}
	if err := d.Alerter.Alert(ctx, a); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("source_id", src.ID).Msg("discovery alert not sent")
	}
}
