package ports

import (
	"context"
	"encoding/json"
	"newsq/internal/domain"
	"time"
)

// Processor runs the external article workflow for one job.
type Processor interface {
	Process(ctx context.Context, j domain.Job) (json.RawMessage, error)
}

// Notifier delivers a completed job's result. Delivery is asynchronous; the
// returned error only reports a delivery that could not be started.
type Notifier interface {
	Notify(ctx context.Context, j domain.Job) error
}

type Alerter interface {
	Alert(ctx context.Context, a domain.Alert) error
}

// Deduper remembers every submitted source URL.
type Deduper interface {
	// Claim records url for jobID, or returns domain.ErrDuplicate.
	Claim(ctx context.Context, url, jobID string) error
	Release(ctx context.Context, url string) error
}

type SourceRepository interface {
	CreateSource(ctx context.Context, s *domain.Source) error
	ListSources(ctx context.Context) ([]domain.Source, error)
	ActiveSources(ctx context.Context) ([]domain.Source, error)
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	UpdateSource(ctx context.Context, id string, updates map[string]any) error
	ToggleSource(ctx context.Context, id string) (bool, error)
	DeleteSource(ctx context.Context, id string) error
	MarkSourceRun(ctx context.Context, id string, at time.Time) error
}

type ArticleRepository interface {
	// FilterNew returns the urls that have no article yet, in input order.
	FilterNew(ctx context.Context, urls []string) ([]string, error)
	ListArticles(ctx context.Context, status string, skip, limit int) ([]domain.Article, error)
	GetArticle(ctx context.Context, id string) (*domain.Article, error)
	SetArticleStatus(ctx context.Context, id string, status domain.ArticleStatus) error
	StoreResult(ctx context.Context, url string, output json.RawMessage, sourceID string) error
	TagSource(ctx context.Context, url, sourceID string) error
}

type RecipientRepository interface {
	ActiveRecipients(ctx context.Context) ([]string, error)
}

// Submitter hands a discovered URL to the dispatcher.
type Submitter interface {
	Submit(ctx context.Context, sourceURL string, maxRetries int) (string, error)
}

// LinkFinder lists candidate article links on a listing page. Only links
// whose URL contains pattern are kept when pattern is not empty.
type LinkFinder interface {
	Links(ctx context.Context, listingURL, pattern string) ([]string, error)
}
