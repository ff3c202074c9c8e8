package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, "newsq", c.Redis.KeyPrefix)
	assert.Equal(t, 3, c.Queue.DefaultMaxRetries)
	assert.Equal(t, 5*time.Minute, c.Queue.Visibility)
	assert.Equal(t, 5, c.Webhook.Attempts)
	assert.Equal(t, "@every 1m", c.Scheduler.Cycle)
	assert.False(t, c.SMTP.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_ADDRESS", "redis:6380")
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "30s")
	t.Setenv("SMTP_SERVER", "smtp.example.com")
	t.Setenv("SMTP_EMAIL", "alerts@example.com")
	t.Setenv("SMTP_RECIPIENTS", "a@example.com,b@example.com")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", c.Redis.Addr)
	assert.Equal(t, 30*time.Second, c.Queue.Visibility)
	assert.True(t, c.SMTP.Enabled())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, c.SMTP.Recipients)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUEUE_MAX_POLL", "soon")

	_, err := Load()
	assert.Error(t, err)
}
