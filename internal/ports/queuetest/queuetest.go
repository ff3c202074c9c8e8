// Package queuetest holds the behaviour every ports.QueueStore must share.
package queuetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const visibility = time.Minute

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) ports.QueueStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.QueueStore)
	}{
		{"FIFO", testFIFO},
		{"EmptyQueue", testEmptyQueue},
		{"ConcurrentDequeueSingleItem", testConcurrentDequeue},
		{"ConcurrentDequeueManyItems", testConcurrentDequeueMany},
		{"CompleteStoresResult", testComplete},
		{"CompleteRequiresProcessing", testCompleteConflict},
		{"RetryImmediateAppendsToTail", testRetryImmediate},
		{"RetryDelayedThenPromoted", testRetryDelayed},
		{"RetryStaleAttemptConflicts", testRetryConflict},
		{"EarlierDeliveryCannotReport", testStaleLease},
		{"BuryMovesToDLQ", testBury},
		{"RequeueResetsRetryCount", testRequeue},
		{"RequeueUnknownNotFound", testRequeueNotFound},
		{"RequeueAllEmptiesDLQ", testRequeueAll},
		{"ExpiredVisibility", testExpired},
		{"ListPagination", testListPagination},
		{"GetUnknownNotFound", testGetNotFound},
		{"IdempotencyKey", testIdempotency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func enqueue(t *testing.T, s ports.QueueStore, url string, maxRetries int) *domain.Job {
	t.Helper()
	j := &domain.Job{SourceURL: url, MaxRetries: maxRetries}
	_, err := s.Enqueue(context.Background(), j)
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	return j
}

func dequeue(t *testing.T, s ports.QueueStore) *domain.Job {
	t.Helper()
	j, err := s.Dequeue(context.Background(), visibility)
	require.NoError(t, err)
	return j
}

func testFIFO(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	var ids []string
	for i, name := range []string{"a", "b", "c"} {
		j := &domain.Job{SourceURL: "https://example.com/" + name, MaxRetries: 3}
		pos, err := s.Enqueue(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), pos)
		ids = append(ids, j.ID)
	}

	for _, want := range ids {
		j := dequeue(t, s)
		assert.Equal(t, want, j.ID)
		assert.Equal(t, domain.StateProcessing, j.State)
		assert.False(t, j.Deadline.IsZero())
	}
}

func testEmptyQueue(t *testing.T, s ports.QueueStore) {
	_, err := s.Dequeue(context.Background(), visibility)
	assert.ErrorIs(t, err, domain.ErrEmptyQueue)
}

func testConcurrentDequeue(t *testing.T, s ports.QueueStore) {
	enqueue(t, s, "https://example.com/only", 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		got     int
		empties int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Dequeue(context.Background(), visibility)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				got++
			case errors.Is(err, domain.ErrEmptyQueue):
				empties++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, got)
	assert.Equal(t, 1, empties)
}

func testConcurrentDequeueMany(t *testing.T, s ports.QueueStore) {
	const n = 50
	for i := range n {
		enqueue(t, s, fmt.Sprintf("https://example.com/%d", i), 3)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.Dequeue(context.Background(), visibility)
				if errors.Is(err, domain.ErrEmptyQueue) {
					return
				}
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s handed out more than once", id)
	}
}

func testComplete(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	enqueue(t, s, "https://example.com/a", 3)
	j := dequeue(t, s)

	assert.Equal(t, 1, j.Attempt)

	done, err := s.Complete(ctx, j.ID, j.Attempt, json.RawMessage(`{"title":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, done.State)
	assert.JSONEq(t, `{"title":"A"}`, string(done.Result))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processing)
}

func testCompleteConflict(t *testing.T, s ports.QueueStore) {
	j := enqueue(t, s, "https://example.com/a", 3)

	_, err := s.Complete(context.Background(), j.ID, 0, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.Complete(context.Background(), "missing", 1, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRetryImmediate(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 3)
	b := enqueue(t, s, "https://example.com/b", 3)

	first := dequeue(t, s)
	require.Equal(t, a.ID, first.ID)

	retried, err := s.Retry(ctx, a.ID, first.Attempt, "boom", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, retried.State)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, "boom", retried.LastError)

	assert.Equal(t, b.ID, dequeue(t, s).ID)
	assert.Equal(t, a.ID, dequeue(t, s).ID)
}

func testRetryDelayed(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 3)
	first := dequeue(t, s)

	runAt := time.Now().Add(time.Hour)
	retried, err := s.Retry(ctx, a.ID, first.Attempt, "boom", runAt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, retried.State)

	_, err = s.Dequeue(ctx, visibility)
	assert.ErrorIs(t, err, domain.ErrEmptyQueue)

	items, total, err := s.ListMain(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StateFailed, items[0].State)

	n, err := s.Promote(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Promote(ctx, runAt.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j := dequeue(t, s)
	assert.Equal(t, a.ID, j.ID)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, 2, j.Attempt)
}

func testRetryConflict(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 3)
	j := dequeue(t, s)

	_, err := s.Retry(ctx, a.ID, j.Attempt+1, "boom", time.Time{})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.Retry(ctx, a.ID, j.Attempt, "boom", time.Time{})
	require.NoError(t, err)

	// second report for the same attempt loses
	_, err = s.Retry(ctx, a.ID, j.Attempt, "boom", time.Time{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// A worker whose lease expired and whose job was handed out again must not
// overwrite the new delivery.
func testStaleLease(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 3)
	first := dequeue(t, s)

	// abandoned lease, as the reaper reports it
	_, err := s.Retry(ctx, a.ID, first.Attempt, domain.ErrVisibilityTimeout.Error(), time.Time{})
	require.NoError(t, err)
	second := dequeue(t, s)
	require.Equal(t, a.ID, second.ID)

	_, err = s.Complete(ctx, a.ID, first.Attempt, json.RawMessage(`{"from":"first"}`))
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.Retry(ctx, a.ID, first.Attempt, "late", time.Time{})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.Bury(ctx, a.ID, first.Attempt, "late")
	assert.ErrorIs(t, err, domain.ErrConflict)

	done, err := s.Complete(ctx, a.ID, second.Attempt, json.RawMessage(`{"from":"second"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, done.State)
	assert.JSONEq(t, `{"from":"second"}`, string(done.Result))
}

func testBury(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 0)
	j := dequeue(t, s)

	buried, err := s.Bury(ctx, a.ID, j.Attempt, "fatal")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDLQ, buried.State)
	assert.Equal(t, "fatal", buried.LastError)

	main, mainTotal, err := s.ListMain(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, mainTotal)
	assert.Empty(t, main)

	dlq, dlqTotal, err := s.ListDLQ(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqTotal)
	require.Len(t, dlq, 1)
	assert.Equal(t, a.ID, dlq[0].ID)
}

func testRequeue(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 1)
	first := dequeue(t, s)
	_, err := s.Retry(ctx, a.ID, first.Attempt, "first", time.Time{})
	require.NoError(t, err)
	second := dequeue(t, s)
	_, err = s.Bury(ctx, a.ID, second.Attempt, "second")
	require.NoError(t, err)

	j, err := s.Requeue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, j.State)
	assert.Zero(t, j.RetryCount)
	assert.Equal(t, 1, j.Requeues)
	assert.Equal(t, "second", j.LastError)

	_, dlqTotal, err := s.ListDLQ(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, dlqTotal)

	// a job no longer in the DLQ cannot be requeued twice
	_, err = s.Requeue(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, a.ID, dequeue(t, s).ID)
}

func testRequeueNotFound(t *testing.T, s ports.QueueStore) {
	a := enqueue(t, s, "https://example.com/a", 1)

	_, err := s.Requeue(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Requeue(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRequeueAll(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	for i := range 3 {
		j := enqueue(t, s, fmt.Sprintf("https://example.com/%d", i), 0)
		d := dequeue(t, s)
		_, err := s.Bury(ctx, j.ID, d.Attempt, "fatal")
		require.NoError(t, err)
	}

	n, err := s.RequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DLQ)
	assert.Equal(t, int64(3), stats.Main)

	items, _, err := s.ListMain(ctx, 0, 10)
	require.NoError(t, err)
	for _, j := range items {
		assert.Equal(t, domain.StateQueued, j.State)
		assert.Zero(t, j.RetryCount)
	}

	n, err = s.RequeueAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testExpired(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	a := enqueue(t, s, "https://example.com/a", 1)
	_, err := s.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	ids, err := s.Expired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.Expired(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}

func testListPagination(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()
	var ids []string
	for i := range 5 {
		ids = append(ids, enqueue(t, s, fmt.Sprintf("https://example.com/%d", i), 3).ID)
	}

	items, total, err := s.ListMain(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.Equal(t, ids[1], items[0].ID)
	assert.Equal(t, ids[2], items[1].ID)

	items, _, err = s.ListMain(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func testGetNotFound(t *testing.T, s ports.QueueStore) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testIdempotency(t *testing.T, s ports.QueueStore) {
	ctx := context.Background()

	got, err := s.ClaimIdempotencyKey(ctx, "key-1", "job-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)

	got, err = s.ClaimIdempotencyKey(ctx, "key-1", "job-2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)

	require.NoError(t, s.ReleaseIdempotencyKey(ctx, "key-1"))
	got, err = s.ClaimIdempotencyKey(ctx, "key-1", "job-3", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "job-3", got)
}
