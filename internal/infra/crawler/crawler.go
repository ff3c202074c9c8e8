package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"newsq/internal/config"
	"newsq/internal/ports"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var _ ports.LinkFinder = (*Crawler)(nil)

const (
	maxPageSize = 10 << 20
	userAgent   = "newsq-scheduler/1.0"
)

// Crawler fetches listing pages and extracts article links from them.
// Requests to the same host are spaced by a per-host rate limiter.
type Crawler struct {
	HTTP *http.Client
	// RendererURL, when set, is a service that returns the rendered HTML of
	// the page passed in its url query parameter.
	RendererURL string
	UserAgent   string
	// Robots, when set, is consulted before every fetch.
	Robots   *Robots
	hostRate rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg config.Scheduler) *Crawler {
	r := rate.Inf
	if cfg.HostRate > 0 {
		r = rate.Limit(cfg.HostRate)
	}
	c := &Crawler{
		HTTP:        &http.Client{Timeout: 45 * time.Second},
		RendererURL: cfg.RendererURL,
		UserAgent:   userAgent,
		hostRate:    r,
		limiters:    make(map[string]*rate.Limiter),
	}
	if cfg.Robots {
		c.Robots = NewRobots(&http.Client{Timeout: 10 * time.Second}, userAgent)
	}
	return c
}

func (c *Crawler) Links(ctx context.Context, listingURL, pattern string) ([]string, error) {
	base, err := url.Parse(listingURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid listing url %q", listingURL)
	}
	if c.Robots != nil && !c.Robots.Allowed(ctx, base) {
		log.Ctx(ctx).Warn().Str("listing_url", listingURL).Msg("blocked by robots.txt")
		return nil, nil
	}
	page, err := c.Fetch(ctx, base)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	links, err := Extract(page, base, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", listingURL, err)
	}
	log.Ctx(ctx).Debug().Str("listing_url", listingURL).Int("links", len(links)).Msg("listing parsed")
	return links, nil
}

// Fetch returns the body of u, going through the renderer when configured.
func (c *Crawler) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	target := u.String()
	if c.RendererURL != "" {
		target = c.RendererURL + "?url=" + url.QueryEscape(target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxPageSize), resp.Body}, nil
}

func (c *Crawler) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.hostRate, 1)
		c.limiters[host] = l
	}
	return l
}
