package redisq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBatch = 128

// Promote moves delayed retries whose run-at has passed to the main queue tail.
func (c *Client) Promote(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultBatch
	}
	n, err := promoteScript.Run(ctx, c.Rdb,
		[]string{c.keys.delayed, c.keys.main},
		ms(now), limit, c.keys.job, fmtTime(now),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return n, nil
}

// Expired returns processing jobs whose visibility deadline is at or before now.
func (c *Client) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultBatch
	}
	ids, err := c.Rdb.ZRangeByScore(ctx, c.keys.processing, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(ms(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}
	return ids, nil
}
