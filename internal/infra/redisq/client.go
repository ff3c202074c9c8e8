package redisq

import (
	"context"
	"fmt"
	"newsq/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Cfg config.Redis
	Rdb redis.UniversalClient

	keys keys
	// Now is the clock used for timestamps and scores.
	Now func() time.Time
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(cfg, c)
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(cfg config.Redis, rdb redis.UniversalClient) *Client {
	return &Client{Cfg: cfg, Rdb: rdb, keys: newKeys(cfg.KeyPrefix), Now: time.Now}
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Init verifies connectivity and loads the Lua scripts.
func (c *Client) Init(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}
	for _, s := range allScripts {
		if err := s.Load(ctx, c.Rdb).Err(); err != nil {
			return fmt.Errorf("load redis script: %w", err)
		}
	}

	log.Ctx(ctx).Info().
		Str("addr", c.Cfg.Addr).
		Str("prefix", c.Cfg.KeyPrefix).
		Msg("redis queue store ready")
	return nil
}

func (c *Client) Close() error { return c.Rdb.Close() }

func (c *Client) now() time.Time { return c.Now().UTC() }

func ms(t time.Time) int64 { return t.UnixMilli() }
