package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	Redis     Redis     `envPrefix:"REDIS_"`
	Queue     Queue     `envPrefix:"QUEUE_"`
	Webhook   Webhook   `envPrefix:"WEBHOOK_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
	Workflow  Workflow  `envPrefix:"WORKFLOW_"`
	Database  Database  `envPrefix:"DATABASE_"`
	Scheduler Scheduler `envPrefix:"SCHEDULER_"`
	API       API       `envPrefix:"API_"`
}

type Redis struct {
	Addr      string `env:"ADDRESS" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"newsq"`
}

type Queue struct {
	DefaultMaxRetries int           `env:"DEFAULT_MAX_RETRIES" envDefault:"3"`
	Visibility        time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"5m"`
	MinPoll           time.Duration `env:"MIN_POLL" envDefault:"200ms"`
	MaxPoll           time.Duration `env:"MAX_POLL" envDefault:"5s"`
	Backoff           string        `env:"BACKOFF" envDefault:"exponential"`
	BaseBackoff       time.Duration `env:"BASE_BACKOFF" envDefault:"1s"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"1m"`
	MaintainEvery     time.Duration `env:"MAINTAIN_INTERVAL" envDefault:"1s"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

type Webhook struct {
	URL      string        `env:"URL"`
	Secret   string        `env:"SECRET"`
	Attempts int           `env:"ATTEMPTS" envDefault:"5"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type SMTP struct {
	Host        string        `env:"SERVER"`
	Port        int           `env:"PORT" envDefault:"587"`
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	From        string        `env:"EMAIL"`
	Recipients  []string      `env:"RECIPIENTS" envSeparator:","`
	BatchWindow time.Duration `env:"BATCH_WINDOW" envDefault:"0s"`
}

func (s SMTP) Enabled() bool { return s.Host != "" && s.From != "" }

type Workflow struct {
	URL     string        `env:"URL" envDefault:"http://localhost:8000"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"4m"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"newsq.db"`
}

type Scheduler struct {
	MainAPIURL       string  `env:"MAIN_API_URL" envDefault:"http://localhost:8080"`
	Cycle            string  `env:"CYCLE" envDefault:"@every 1m"`
	HostRate         float64 `env:"HOST_RATE" envDefault:"0.5"`
	RendererURL      string  `env:"RENDERER_URL"`
	Robots           bool    `env:"RESPECT_ROBOTS" envDefault:"true"`
	MaxRetries       int     `env:"SUBMIT_MAX_RETRIES" envDefault:"3"`
	SubmissionSource string  `env:"SUBMISSION_SOURCE_ID" envDefault:"manual"`
}

type API struct {
	Key       string `env:"KEY"`
	RateLimit int    `env:"RATE_LIMIT" envDefault:"20"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MustLoad is Load for process entry points.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	c.setupLogger()
	return c
}

func (c *Config) setupLogger() {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
