package archive

import (
	"context"
	"errors"
	"fmt"
	"newsq/internal/config"
	"newsq/internal/domain"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the article archive: the dedup set, the sources the scheduler
// crawls and the alert recipients.
type Store struct {
	db *gorm.DB
	// SubmissionSource tags articles claimed through the submit endpoint.
	SubmissionSource string
	Now              func() time.Time
}

// Open connects to the configured database. Supported drivers are sqlite and
// postgres.
func Open(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("archive database opened")
	return db, nil
}

func New(db *gorm.DB, submissionSource string) *Store {
	if submissionSource == "" {
		submissionSource = "manual"
	}
	return &Store{db: db, SubmissionSource: submissionSource, Now: time.Now}
}

// Migrate creates the archive tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&domain.Source{}, &domain.Article{}, &domain.Recipient{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
