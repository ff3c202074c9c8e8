package scheduler

import (
	"context"
	"newsq/internal/domain"
	"newsq/internal/usecase"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSources struct {
	calls atomic.Int32
}

func (c *countingSources) CreateSource(context.Context, *domain.Source) error { return nil }
func (c *countingSources) ListSources(context.Context) ([]domain.Source, error) {
	return nil, nil
}
func (c *countingSources) ActiveSources(context.Context) ([]domain.Source, error) {
	c.calls.Add(1)
	return nil, nil
}
func (c *countingSources) GetSource(context.Context, string) (*domain.Source, error) {
	return nil, domain.ErrNotFound
}
func (c *countingSources) UpdateSource(context.Context, string, map[string]any) error { return nil }
func (c *countingSources) ToggleSource(context.Context, string) (bool, error)         { return false, nil }
func (c *countingSources) DeleteSource(context.Context, string) error                 { return nil }
func (c *countingSources) MarkSourceRun(context.Context, string, time.Time) error     { return nil }

func TestNew_RunsCycle(t *testing.T) {
	src := &countingSources{}
	c, err := New(context.Background(), "@every 1s", &usecase.Discoverer{Sources: src})
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(context.Background(), "every now and then", &usecase.Discoverer{})
	assert.ErrorContains(t, err, "invalid cycle spec")
}
