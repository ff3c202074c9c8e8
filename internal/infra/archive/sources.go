package archive

import (
	"context"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var _ ports.SourceRepository = (*Store)(nil)

// sourceColumns are the fields an operator may change.
var sourceColumns = map[string]struct{}{
	"name":                   {},
	"listing_url":            {},
	"url_pattern":            {},
	"fetch_interval_minutes": {},
	"is_active":              {},
}

func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.FetchIntervalMinutes <= 0 {
		src.FetchIntervalMinutes = 60
	}
	src.CreatedAt = s.now()
	return s.db.WithContext(ctx).Create(src).Error
}

func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	var out []domain.Source
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) ActiveSources(ctx context.Context) ([]domain.Source, error) {
	var out []domain.Source
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	if err := s.db.WithContext(ctx).First(&src, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "source", id)
	}
	return &src, nil
}

func (s *Store) UpdateSource(ctx context.Context, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	for k := range updates {
		if _, ok := sourceColumns[k]; !ok {
			return fmt.Errorf("%w: field %q cannot be updated", domain.ErrInvalidInput, k)
		}
	}
	res := s.db.WithContext(ctx).Model(&domain.Source{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSource(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ToggleSource flips is_active and returns the new value.
func (s *Store) ToggleSource(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src domain.Source
		if err := tx.First(&src, "id = ?", id).Error; err != nil {
			return notFound(err, "source", id)
		}
		active = !src.IsActive
		return tx.Model(&src).Update("is_active", active).Error
	})
	return active, err
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Source{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkSourceRun(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&domain.Source{}).
		Where("id = ?", id).
		Update("last_run_at", at.UTC()).Error
}
