package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

const (
	robotsTTL     = 24 * time.Hour
	maxRobotsSize = 512 << 10
)

// allowAll is what a site without a readable robots.txt gets.
var allowAll, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// Robots answers whether a URL may be crawled, caching each host's
// robots.txt for a day.
type Robots struct {
	HTTP      *http.Client
	UserAgent string
	Now       func() time.Time

	mu    sync.Mutex
	hosts map[string]robotsEntry
}

func NewRobots(client *http.Client, userAgent string) *Robots {
	return &Robots{HTTP: client, UserAgent: userAgent, Now: time.Now, hosts: make(map[string]robotsEntry)}
}

// Allowed reports whether u may be fetched. A robots.txt that cannot be
// retrieved allows everything.
func (r *Robots) Allowed(ctx context.Context, u *url.URL) bool {
	data := r.rules(ctx, u)
	return data.TestAgent(u.RequestURI(), r.UserAgent)
}

func (r *Robots) rules(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := strings.ToLower(u.Scheme + "://" + u.Host)
	now := r.Now()

	r.mu.Lock()
	e, ok := r.hosts[key]
	r.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.data
	}

	data := r.fetch(ctx, key+"/robots.txt")
	r.mu.Lock()
	r.hosts[key] = robotsEntry{data: data, expires: now.Add(robotsTTL)}
	r.mu.Unlock()
	return data
}

func (r *Robots) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	logger := log.Ctx(ctx).With().Str("robots_url", robotsURL).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", r.UserAgent)
	resp, err := r.HTTP.Do(req)
	if err != nil {
		logger.Debug().Err(err).Msg("robots.txt unavailable, allowing")
		return allowAll
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		logger.Debug().Int("status", resp.StatusCode).Msg("robots.txt unavailable, allowing")
		return allowAll
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return allowAll
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.Debug().Err(err).Msg("robots.txt unparsable, allowing")
		return allowAll
	}
	return data
}
