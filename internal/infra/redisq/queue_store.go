package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ ports.QueueStore = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, j *domain.Job) (int64, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := c.now()
	j.State = domain.StateQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	fields := jobToMap(j)
	args := make([]any, 0, 1+2*len(fields))
	args = append(args, j.ID)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pos, err := enqueueScript.Run(ctx, c.Rdb,
		[]string{c.keys.jobKey(j.ID), c.keys.main}, args...,
	).Int64()
	if err != nil {
		return 0, storeErr("enqueue "+j.ID, err)
	}
	if pos == 0 {
		return 0, fmt.Errorf("enqueue %s: %w", j.ID, domain.ErrConflict)
	}
	return pos, nil
}

func (c *Client) Dequeue(ctx context.Context, visibility time.Duration) (*domain.Job, error) {
	now := c.now()
	deadline := now.Add(visibility)
	vals, err := dequeueScript.Run(ctx, c.Rdb,
		[]string{c.keys.main, c.keys.processing},
		c.keys.job, ms(deadline), fmtTime(now), fmtTime(deadline),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrEmptyQueue
	}
	if err != nil {
		return nil, storeErr("dequeue", err)
	}
	return mapToJob(pairs(vals))
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Job, error) {
	h, err := c.Rdb.HGetAll(ctx, c.keys.jobKey(id)).Result()
	if err != nil {
		return nil, storeErr("get job "+id, err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return mapToJob(h)
}

func (c *Client) Complete(ctx context.Context, id string, attempt int, result json.RawMessage) (*domain.Job, error) {
	rc, err := completeScript.Run(ctx, c.Rdb,
		[]string{c.keys.processing, c.keys.jobKey(id)},
		id, strconv.Itoa(attempt), string(result), fmtTime(c.now()),
	).Int()
	if err != nil {
		return nil, storeErr("complete "+id, err)
	}
	if err := transitionErr(id, rc); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

func (c *Client) Retry(ctx context.Context, id string, attempt int, reason string, runAt time.Time) (*domain.Job, error) {
	var runAtMs int64
	var runAtStr string
	if runAt.After(c.now()) {
		runAtMs, runAtStr = ms(runAt), fmtTime(runAt)
	}
	rc, err := retryScript.Run(ctx, c.Rdb,
		[]string{c.keys.processing, c.keys.jobKey(id), c.keys.main, c.keys.delayed},
		id, strconv.Itoa(attempt), reason, fmtTime(c.now()), runAtMs, runAtStr,
	).Int()
	if err != nil {
		return nil, storeErr("retry "+id, err)
	}
	if err := transitionErr(id, rc); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

func (c *Client) Bury(ctx context.Context, id string, attempt int, reason string) (*domain.Job, error) {
	rc, err := buryScript.Run(ctx, c.Rdb,
		[]string{c.keys.processing, c.keys.jobKey(id), c.keys.dlq},
		id, strconv.Itoa(attempt), reason, fmtTime(c.now()),
	).Int()
	if err != nil {
		return nil, storeErr("bury "+id, err)
	}
	if err := transitionErr(id, rc); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

func (c *Client) Requeue(ctx context.Context, id string) (*domain.Job, error) {
	res, err := requeueScript.Run(ctx, c.Rdb,
		[]string{c.keys.dlq, c.keys.main, c.keys.jobKey(id)},
		id, fmtTime(c.now()),
	).Result()
	if err != nil {
		return nil, storeErr("requeue "+id, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return nil, fmt.Errorf("job %s in dlq: %w", id, domain.ErrNotFound)
	}
	vals, err := toStrings(res)
	if err != nil {
		return nil, fmt.Errorf("requeue %s: %w", id, err)
	}
	return mapToJob(pairs(vals))
}

func (c *Client) RequeueAll(ctx context.Context) (int, error) {
	n, err := requeueAllScript.Run(ctx, c.Rdb,
		[]string{c.keys.dlq, c.keys.main},
		c.keys.job, fmtTime(c.now()),
	).Int()
	if err != nil {
		return 0, storeErr("requeue all", err)
	}
	return n, nil
}

func (c *Client) ListMain(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	pipe := c.Rdb.Pipeline()
	ready := pipe.LRange(ctx, c.keys.main, 0, -1)
	delayed := pipe.ZRange(ctx, c.keys.delayed, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, 0, storeErr("list main", err)
	}
	ids := append(ready.Val(), delayed.Val()...)
	jobs, err := c.loadPage(ctx, ids, offset, limit)
	return jobs, int64(len(ids)), err
}

func (c *Client) ListDLQ(ctx context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	ids, err := c.Rdb.LRange(ctx, c.keys.dlq, 0, -1).Result()
	if err != nil {
		return nil, 0, storeErr("list dlq", err)
	}
	jobs, err := c.loadPage(ctx, ids, offset, limit)
	return jobs, int64(len(ids)), err
}

func (c *Client) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := c.Rdb.Pipeline()
	main := pipe.LLen(ctx, c.keys.main)
	delayed := pipe.ZCard(ctx, c.keys.delayed)
	processing := pipe.ZCard(ctx, c.keys.processing)
	dlq := pipe.LLen(ctx, c.keys.dlq)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueStats{}, storeErr("queue stats", err)
	}
	return domain.QueueStats{
		Main:       main.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		DLQ:        dlq.Val(),
	}, nil
}

func (c *Client) ClaimIdempotencyKey(ctx context.Context, key, jobID string, ttl time.Duration) (string, error) {
	k := c.keys.idem + key
	ok, err := c.Rdb.SetNX(ctx, k, jobID, ttl).Result()
	if err != nil {
		return "", storeErr("claim idempotency key", err)
	}
	if ok {
		return jobID, nil
	}
	existing, err := c.Rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return c.ClaimIdempotencyKey(ctx, key, jobID, ttl)
	}
	if err != nil {
		return "", storeErr("read idempotency key", err)
	}
	return existing, nil
}

func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if err := c.Rdb.Del(ctx, c.keys.idem+key).Err(); err != nil {
		return storeErr("release idempotency key", err)
	}
	return nil
}

func (c *Client) loadPage(ctx context.Context, ids []string, offset, limit int) ([]*domain.Job, error) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []*domain.Job{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	pipe := c.Rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, c.keys.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("load jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		j, err := mapToJob(cmd.Val())
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// storeErr marks err as domain.ErrStoreUnavailable unless Redis itself
// answered it or the caller gave up.
func storeErr(op string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func transitionErr(id string, rc int) error {
	switch rc {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	default:
		return fmt.Errorf("job %s: %w", id, domain.ErrConflict)
	}
}

// ── helpers ──

func jobToMap(j *domain.Job) map[string]any {
	return map[string]any{
		"id":          j.ID,
		"source_url":  j.SourceURL,
		"state":       string(j.State),
		"retry_count": j.RetryCount,
		"attempt":     j.Attempt,
		"max_retries": j.MaxRetries,
		"requeues":    j.Requeues,
		"last_error":  j.LastError,
		"result":      string(j.Result),
		"created_at":  fmtTime(j.CreatedAt),
		"updated_at":  fmtTime(j.UpdatedAt),
		"started_at":  fmtTime(j.StartedAt),
		"finished_at": fmtTime(j.FinishedAt),
		"next_run_at": fmtTime(j.NextRunAt),
		"deadline":    fmtTime(j.Deadline),
	}
}

func mapToJob(h map[string]string) (*domain.Job, error) {
	if h["id"] == "" {
		return nil, fmt.Errorf("redisq: job hash without id")
	}
	j := &domain.Job{
		ID:         h["id"],
		SourceURL:  h["source_url"],
		State:      domain.JobState(h["state"]),
		LastError:  h["last_error"],
		CreatedAt:  parseTime(h["created_at"]),
		UpdatedAt:  parseTime(h["updated_at"]),
		StartedAt:  parseTime(h["started_at"]),
		FinishedAt: parseTime(h["finished_at"]),
		NextRunAt:  parseTime(h["next_run_at"]),
		Deadline:   parseTime(h["deadline"]),
	}
	j.RetryCount, _ = strconv.Atoi(h["retry_count"])
	j.Attempt, _ = strconv.Atoi(h["attempt"])
	j.MaxRetries, _ = strconv.Atoi(h["max_retries"])
	j.Requeues, _ = strconv.Atoi(h["requeues"])
	if r := h["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	return j, nil
}

func pairs(vals []string) map[string]string {
	m := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		m[vals[i]] = vals[i+1]
	}
	return m
}

func toStrings(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected script reply %T", v)
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected script element %T", e)
		}
		out = append(out, s)
	}
	return out, nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
