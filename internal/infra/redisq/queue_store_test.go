package redisq

import (
	"context"
	"newsq/internal/config"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"newsq/internal/ports/queuetest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewWithClient(config.Redis{Addr: mr.Addr(), KeyPrefix: "test"}, rdb)
	require.NoError(t, c.Init(context.Background()))
	return c, mr
}

func TestClient_QueueStore(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) ports.QueueStore {
		c, _ := newTestClient(t)
		return c
	})
}

func TestClient_KeyLayout(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	j := &domain.Job{SourceURL: "https://example.com/a", MaxRetries: 2}
	_, err := c.Enqueue(ctx, j)
	require.NoError(t, err)

	ids, err := mr.List("test:queue:main")
	require.NoError(t, err)
	assert.Equal(t, []string{j.ID}, ids)
	assert.Equal(t, "queued", mr.HGet("test:job:"+j.ID, "state"))
	assert.Equal(t, "2", mr.HGet("test:job:"+j.ID, "max_retries"))
}

func TestClient_EnqueueDuplicateID(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, &domain.Job{ID: "fixed", SourceURL: "https://example.com/a"})
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, &domain.Job{ID: "fixed", SourceURL: "https://example.com/b"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := c.Get(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got.SourceURL)
	n, err := c.Rdb.LLen(ctx, "test:queue:main").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClient_PingUnavailable(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestClient_TransportErrorsAreStoreUnavailable(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	j := &domain.Job{SourceURL: "https://example.com/a", MaxRetries: 1}
	_, err := c.Enqueue(ctx, j)
	require.NoError(t, err)
	mr.Close()

	calls := map[string]func() error{
		"enqueue": func() error {
			_, err := c.Enqueue(ctx, &domain.Job{SourceURL: "https://example.com/b"})
			return err
		},
		"dequeue": func() error { _, err := c.Dequeue(ctx, time.Minute); return err },
		"get":     func() error { _, err := c.Get(ctx, j.ID); return err },
		"complete": func() error {
			_, err := c.Complete(ctx, j.ID, 1, nil)
			return err
		},
		"requeue":     func() error { _, err := c.Requeue(ctx, j.ID); return err },
		"requeue all": func() error { _, err := c.RequeueAll(ctx); return err },
		"list main":   func() error { _, _, err := c.ListMain(ctx, 0, 10); return err },
		"list dlq":    func() error { _, _, err := c.ListDLQ(ctx, 0, 10); return err },
		"stats":       func() error { _, err := c.Stats(ctx); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), domain.ErrStoreUnavailable)
		})
	}
}

func TestClient_StaleIDSkippedOnDequeue(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := mr.Push("test:queue:main", "ghost")
	require.NoError(t, err)
	j := &domain.Job{SourceURL: "https://example.com/a"}
	_, err = c.Enqueue(ctx, j)
	require.NoError(t, err)

	got, err := c.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}
