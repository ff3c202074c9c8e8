package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"newsq/internal/domain"
	"newsq/pkg/backoff"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submit(t *testing.T, l *Lifecycle, url string, maxRetries int) *domain.Job {
	t.Helper()
	j := &domain.Job{SourceURL: url, MaxRetries: maxRetries}
	_, err := l.Submit(context.Background(), j)
	require.NoError(t, err)
	return j
}

func TestLifecycle_ThreeFailuresEndInDLQ(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 2)

	for attempt := 1; attempt <= 3; attempt++ {
		got, err := h.l.Dequeue(ctx)
		require.NoError(t, err, "attempt %d", attempt)
		require.Equal(t, j.ID, got.ID)

		_, err = h.l.Fail(ctx, j.ID, got.Attempt, errors.New("llm timeout"))
		require.NoError(t, err)

		main, _, err := h.l.ListMain(ctx, 0, 0)
		require.NoError(t, err)
		for _, m := range main {
			assert.LessOrEqual(t, m.RetryCount, m.MaxRetries)
		}
	}

	final, err := h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDLQ, final.State)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, "llm timeout", final.LastError)

	_, err = h.l.Dequeue(ctx)
	assert.ErrorIs(t, err, domain.ErrEmptyQueue)

	alerts := h.alerter.calls()
	require.Len(t, alerts, 1)
	assert.Equal(t, j.ID, alerts[0].JobID)
	assert.Equal(t, "https://example.com/a", alerts[0].SourceURL)
	assert.Empty(t, h.notifier.calls())
}

func TestLifecycle_ZeroRetriesGoesStraightToDLQ(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 0)

	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	got, err := h.l.Fail(ctx, j.ID, d.Attempt, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateDLQ, got.State)
	assert.Zero(t, got.RetryCount)
}

func TestLifecycle_CompleteNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 3)

	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	_, err = h.l.Complete(ctx, j.ID, d.Attempt, json.RawMessage(`{"title":"Hello"}`))
	require.NoError(t, err)

	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, j.ID, calls[0].ID)
	assert.JSONEq(t, `{"title":"Hello"}`, string(calls[0].Result))

	// a late duplicate report is rejected and does not notify again
	_, err = h.l.Complete(ctx, j.ID, d.Attempt, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, h.notifier.calls(), 1)
}

func TestLifecycle_NotifierErrorKeepsJobCompleted(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = &domain.DeliveryError{Sink: "webhook", Attempt: 1, Err: errors.New("refused")}
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 3)

	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	got, err := h.l.Complete(ctx, j.ID, d.Attempt, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
}

func TestLifecycle_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		job  domain.Job
	}{
		{"empty url", domain.Job{SourceURL: ""}},
		{"no scheme", domain.Job{SourceURL: "example.com/a"}},
		{"ftp scheme", domain.Job{SourceURL: "ftp://example.com/a"}},
		{"no host", domain.Job{SourceURL: "https:///path"}},
		{"negative retries", domain.Job{SourceURL: "https://example.com", MaxRetries: -1}},
		{"too many retries", domain.Job{SourceURL: "https://example.com", MaxRetries: 999}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := tt.job
			_, err := h.l.Submit(context.Background(), &j)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestLifecycle_BackoffDelaysRetry(t *testing.T) {
	h := newHarness(t)
	h.l.Backoff = backoff.NewExponential(10*time.Second, time.Minute)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 3)

	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	got, err := h.l.Fail(ctx, j.ID, d.Attempt, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, h.clock.Now().Add(10*time.Second), got.NextRunAt)

	_, err = h.l.Dequeue(ctx)
	assert.ErrorIs(t, err, domain.ErrEmptyQueue)

	h.clock.Advance(11 * time.Second)
	n, err := h.l.Promote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, j.ID, again.ID)

	// second retry waits twice as long
	got, err = h.l.Fail(ctx, j.ID, again.Attempt, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(20*time.Second), got.NextRunAt)
}

func TestLifecycle_FailRequiresProcessing(t *testing.T) {
	h := newHarness(t)
	j := submit(t, h.l, "https://example.com/a", 3)

	_, err := h.l.Fail(context.Background(), j.ID, 0, errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.l.Fail(context.Background(), "missing", 1, errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_RequeueFromDLQ(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 0)
	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	_, err = h.l.Fail(ctx, j.ID, d.Attempt, errors.New("boom"))
	require.NoError(t, err)

	got, err := h.l.Requeue(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Zero(t, got.RetryCount)
	assert.Equal(t, 1, got.Requeues)

	_, err = h.l.Requeue(ctx, j.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_RequeueAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		j := submit(t, h.l, u, 0)
		d, err := h.l.Dequeue(ctx)
		require.NoError(t, err)
		_, err = h.l.Fail(ctx, j.ID, d.Attempt, errors.New("boom"))
		require.NoError(t, err)
	}

	n, err := h.l.RequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := h.l.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DLQ)
	assert.Equal(t, int64(2), stats.Main)
}

func TestLifecycle_ReapExpiredJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 1)
	_, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	n, err := h.l.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Minute)
	n, err = h.l.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, domain.ErrVisibilityTimeout.Error(), got.LastError)

	// a second abandonment exhausts the budget
	_, err = h.l.Dequeue(ctx)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)
	_, err = h.l.Reap(ctx)
	require.NoError(t, err)

	got, err = h.l.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDLQ, got.State)
	assert.Len(t, h.alerter.calls(), 1)
}

func TestLifecycle_LateReportAfterReapIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 3)
	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	_, err = h.l.Reap(ctx)
	require.NoError(t, err)

	_, err = h.l.Complete(ctx, j.ID, d.Attempt, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, h.notifier.calls())
}

func TestLifecycle_ReportFromEarlierDeliveryIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 3)

	first, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)
	n, err := h.l.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	second, err := h.l.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, j.ID, second.ID)
	assert.Greater(t, second.Attempt, first.Attempt)

	_, err = h.l.Complete(ctx, j.ID, first.Attempt, json.RawMessage(`{"from":"first"}`))
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = h.l.Fail(ctx, j.ID, first.Attempt, errors.New("late"))
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := h.l.Complete(ctx, j.ID, second.Attempt, json.RawMessage(`{"from":"second"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"second"}`, string(got.Result))
	assert.Equal(t, 1, got.RetryCount)

	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"from":"second"}`, string(calls[0].Result))
}

func TestSanitizeErrorStoredOnJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := submit(t, h.l, "https://example.com/a", 1)
	d, err := h.l.Dequeue(ctx)
	require.NoError(t, err)

	got, err := h.l.Fail(ctx, j.ID, d.Attempt, errors.New("bad\x00thing"))
	require.NoError(t, err)
	assert.Equal(t, "badthing", got.LastError)
}
