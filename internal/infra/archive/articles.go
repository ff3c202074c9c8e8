package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ ports.Deduper           = (*Store)(nil)
	_ ports.ArticleRepository = (*Store)(nil)
)

const filterBatch = 500

// Claim inserts the article row for url. A url that is already archived,
// whatever its status, is a duplicate.
func (s *Store) Claim(ctx context.Context, url, jobID string) error {
	a := domain.Article{
		ID:           uuid.NewString(),
		SourceID:     s.SubmissionSource,
		URL:          url,
		JobID:        jobID,
		Status:       domain.ArticleQueued,
		DiscoveredAt: s.now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(&a)
	if res.Error != nil {
		return fmt.Errorf("claim %s: %w", url, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", url, domain.ErrDuplicate)
	}
	return nil
}

// Release forgets a claim whose job never made it into the queue.
func (s *Store) Release(ctx context.Context, url string) error {
	return s.db.WithContext(ctx).
		Where("url = ? AND status = ?", url, domain.ArticleQueued).
		Delete(&domain.Article{}).Error
}

func (s *Store) FilterNew(ctx context.Context, urls []string) ([]string, error) {
	known := make(map[string]struct{}, len(urls))
	for batch := range slices.Chunk(urls, filterBatch) {
		var found []string
		err := s.db.WithContext(ctx).
			Model(&domain.Article{}).
			Where("url IN ?", batch).
			Pluck("url", &found).Error
		if err != nil {
			return nil, fmt.Errorf("look up known urls: %w", err)
		}
		for _, u := range found {
			known[u] = struct{}{}
		}
	}

	fresh := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := known[u]; ok {
			continue
		}
		known[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh, nil
}

func (s *Store) ListArticles(ctx context.Context, status string, skip, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("discovered_at DESC").Offset(max(skip, 0)).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Article
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetArticle(ctx context.Context, id string) (*domain.Article, error) {
	var a domain.Article
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "article", id)
	}
	return &a, nil
}

// SetArticleStatus records an operator review decision.
func (s *Store) SetArticleStatus(ctx context.Context, id string, status domain.ArticleStatus) error {
	if !slices.Contains(domain.ReviewStatuses, status) {
		return fmt.Errorf("%w: status must be one of %v", domain.ErrInvalidInput, domain.ReviewStatuses)
	}
	res := s.db.WithContext(ctx).Model(&domain.Article{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// StoreResult saves the final workflow output for url, creating the article
// when the url was never claimed.
func (s *Store) StoreResult(ctx context.Context, url string, output json.RawMessage, sourceID string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a domain.Article
		err := tx.Where("url = ?", url).Limit(1).Find(&a).Error
		if err != nil {
			return err
		}
		if a.ID == "" {
			if sourceID == "" {
				sourceID = s.SubmissionSource
			}
			return tx.Create(&domain.Article{
				ID:           uuid.NewString(),
				SourceID:     sourceID,
				URL:          url,
				Status:       domain.ArticleProcessed,
				DiscoveredAt: now,
				ProcessedAt:  &now,
				FinalOutput:  string(output),
			}).Error
		}

		updates := map[string]any{
			"status":       domain.ArticleProcessed,
			"processed_at": now,
			"final_output": string(output),
		}
		if sourceID != "" {
			updates["source_id"] = sourceID
		}
		return tx.Model(&a).Updates(updates).Error
	})
}

// TagSource attributes an archived article to the source it was found on.
func (s *Store) TagSource(ctx context.Context, url, sourceID string) error {
	return s.db.WithContext(ctx).
		Model(&domain.Article{}).
		Where("url = ?", url).
		Update("source_id", sourceID).Error
}
