package usecase

import (
	"context"
	"newsq/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Scheduler = (*Maintainer)(nil)

// Maintainer promotes due retries and reclaims jobs whose worker went away.
type Maintainer struct {
	L        *Lifecycle
	Interval time.Duration
}

func (m *Maintainer) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Maintainer) Tick(ctx context.Context) {
	if n, err := m.L.Promote(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("promote delayed jobs")
	} else if n > 0 {
		log.Ctx(ctx).Debug().Int("count", n).Msg("promoted delayed jobs")
	}

	if n, err := m.L.Reap(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("reap expired jobs")
	} else if n > 0 {
		log.Ctx(ctx).Warn().Int("count", n).Msg("reclaimed jobs past visibility timeout")
	}
}
