package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"newsq/internal/domain"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_HandleSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit(t, h.l, "https://example.com/a", 2)
	j, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	c := Consumer{L: h.l, P: funcProcessor(func(_ context.Context, j domain.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"title":"` + j.SourceURL + `"}`), nil
	})}
	c.Handle(ctx, j)

	got, err := h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.JSONEq(t, `{"title":"https://example.com/a"}`, string(got.Result))
	assert.Len(t, h.notifier.calls(), 1)
}

func TestConsumer_HandleFailureRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit(t, h.l, "https://example.com/a", 2)
	j, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	c := Consumer{L: h.l, P: funcProcessor(func(context.Context, domain.Job) (json.RawMessage, error) {
		return nil, errors.New("llm timeout")
	})}
	c.Handle(ctx, j)

	got, err := h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "llm timeout")
	assert.Empty(t, h.notifier.calls())
}

func TestConsumer_HandleTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	submit(t, h.l, "https://example.com/a", 0)
	j, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	c := Consumer{L: h.l, JobTimeout: 10 * time.Millisecond, P: funcProcessor(func(ctx context.Context, _ domain.Job) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})}
	c.Handle(ctx, j)

	got, err := h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDLQ, got.State)
	assert.Contains(t, got.LastError, context.DeadlineExceeded.Error())
	assert.Len(t, h.alerter.calls(), 1)
}

func TestConsumer_ShutdownLeavesJobProcessing(t *testing.T) {
	h := newHarness(t)
	submit(t, h.l, "https://example.com/a", 2)
	j, err := h.l.Dequeue(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := Consumer{L: h.l, P: funcProcessor(func(context.Context, domain.Job) (json.RawMessage, error) {
		cancel()
		return nil, context.Canceled
	})}
	c.Handle(ctx, j)

	got, err := h.l.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessing, got.State)
	assert.Zero(t, got.RetryCount)
}

func TestConsumer_RunDrainsQueue(t *testing.T) {
	h := newHarness(t)
	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		submit(t, h.l, u, 1)
	}

	var processed atomic.Int32
	c := Consumer{
		L:            h.l,
		ConsumerName: "test",
		Concurrency:  2,
		MinPoll:      time.Millisecond,
		MaxPoll:      5 * time.Millisecond,
		P: funcProcessor(func(context.Context, domain.Job) (json.RawMessage, error) {
			processed.Add(1)
			return json.RawMessage(`{}`), nil
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(h.notifier.calls()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), processed.Load())

	stats, err := h.l.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Main)
	assert.Zero(t, stats.Processing)
}
