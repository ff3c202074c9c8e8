package domain

import (
	"encoding/json"
	"time"
)

type ArticleStatus string

const (
	ArticleDiscovered ArticleStatus = "discovered"
	ArticleQueued     ArticleStatus = "queued"
	ArticleProcessed  ArticleStatus = "processed"
	ArticleApproved   ArticleStatus = "approved"
	ArticleRejected   ArticleStatus = "rejected"
	ArticleDuplicated ArticleStatus = "duplicated"
	ArticleFailed     ArticleStatus = "submission_failed"
)

// ReviewStatuses are the statuses an operator may set on an archived article.
var ReviewStatuses = []ArticleStatus{ArticleProcessed, ArticleApproved, ArticleRejected, ArticleDuplicated}

// Source is a news listing page crawled for new article links.
type Source struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:36"`
	Name                 string     `json:"name" gorm:"not null"`
	ListingURL           string     `json:"listing_url" gorm:"not null"`
	URLPattern           string     `json:"url_pattern,omitempty"`
	FetchIntervalMinutes int        `json:"fetch_interval_minutes" gorm:"not null;default:60"`
	IsActive             bool       `json:"is_active" gorm:"not null"`
	LastRunAt            *time.Time `json:"last_run_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Due reports whether the source should be checked at now.
func (s *Source) Due(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastRunAt == nil {
		return true
	}
	interval := s.FetchIntervalMinutes
	if interval <= 0 {
		interval = 60
	}
	return now.Sub(*s.LastRunAt) >= time.Duration(interval)*time.Minute
}

// Article records every URL that entered the system. Its unique URL is the
// deduplication key for submissions.
type Article struct {
	ID           string        `json:"id" gorm:"primaryKey;size:36"`
	SourceID     string        `json:"source_id" gorm:"index"`
	URL          string        `json:"url" gorm:"uniqueIndex;not null"`
	JobID        string        `json:"job_id,omitempty" gorm:"index"`
	Status       ArticleStatus `json:"status" gorm:"index;not null"`
	DiscoveredAt time.Time     `json:"discovered_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
	FinalOutput  string        `json:"-" gorm:"type:text"`
}

// MarshalJSON renders the stored workflow output as raw JSON.
func (a Article) MarshalJSON() ([]byte, error) {
	type plain Article
	var out json.RawMessage
	if a.FinalOutput != "" {
		out = json.RawMessage(a.FinalOutput)
	}
	return json.Marshal(struct {
		plain
		FinalOutput json.RawMessage `json:"final_output,omitempty"`
	}{plain(a), out})
}

type Recipient struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}
