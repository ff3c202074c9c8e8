package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"newsq/internal/config"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `<html><body>
<header><a href="/world/header-link">Header</a></header>
<nav><a href="/section/politics">Politics</a></nav>
<main>
  <a href="/2026/03/01/story-one">Story one</a>
  <a href="https://news.example.com/2026/03/01/story-two#comments">Story two</a>
  <a href="/2026/03/01/story-one">Story one again</a>
  <a href="/about">About us</a>
  <a href="/2026/ads/buy-now">Buy now</a>
  <a href="/2026/03/01/story-three?utm_campaign=x">Campaign</a>
  <a href="https://other.example.org/2026/03/01/elsewhere">Elsewhere</a>
  <a href="/2026/03/01/story-four">Share</a>
  <a href="mailto:desk@news.example.com">Mail</a>
  <a href="#top">Top</a>
  <div class="promo ad"><a href="/2026/03/01/advertorial">Advertorial</a></div>
</main>
<aside><a href="/2026/03/01/trending">Trending</a></aside>
<footer><a href="/2026/contact">Contact</a></footer>
</body></html>`

func TestExtract(t *testing.T) {
	base, _ := url.Parse("https://news.example.com/latest")
	links, err := Extract(strings.NewReader(listing), base, "/2026/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://news.example.com/2026/03/01/story-one",
		"https://news.example.com/2026/03/01/story-two",
	}, links)
}

func TestExtract_NoPattern(t *testing.T) {
	base, _ := url.Parse("https://news.example.com/latest")
	links, err := Extract(strings.NewReader(listing), base, "")
	require.NoError(t, err)
	assert.Contains(t, links, "https://news.example.com/about")
	assert.NotContains(t, links, "https://news.example.com/section/politics")
}

func TestLinks_Direct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "newsq-scheduler/1.0", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<a href="/news/1">one</a><a href="/news/2">two</a>`)
	}))
	defer srv.Close()

	c := New(config.Scheduler{})
	links, err := c.Links(context.Background(), srv.URL+"/", "/news/")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/news/1", srv.URL + "/news/2"}, links)
}

func TestLinks_ThroughRenderer(t *testing.T) {
	var target string
	renderer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target = r.URL.Query().Get("url")
		fmt.Fprint(w, `<a href="/news/rendered">rendered</a>`)
	}))
	defer renderer.Close()

	c := New(config.Scheduler{RendererURL: renderer.URL + "/render"})
	links, err := c.Links(context.Background(), "https://news.example.com/", "")
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.com/", target)
	assert.Equal(t, []string{"https://news.example.com/news/rendered"}, links)
}

func TestLinks_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(config.Scheduler{}).Links(context.Background(), srv.URL, "")
	assert.ErrorContains(t, err, "status 503")
}

func TestLinks_InvalidURL(t *testing.T) {
	_, err := New(config.Scheduler{}).Links(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestHostRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(config.Scheduler{HostRate: 1})
	_, err := c.Links(context.Background(), srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Links(ctx, srv.URL, "")
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLinks_RobotsDisallowed(t *testing.T) {
	var robotsHits, listingHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		listingHits.Add(1)
		fmt.Fprint(w, `<a href="/news/1">one</a>`)
	}))
	defer srv.Close()

	c := New(config.Scheduler{Robots: true})

	links, err := c.Links(context.Background(), srv.URL+"/private/latest", "")
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.Zero(t, listingHits.Load())

	links, err = c.Links(context.Background(), srv.URL+"/latest", "/news/")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/news/1"}, links)

	// robots.txt is fetched once per host
	assert.Equal(t, int32(1), robotsHits.Load())
}

func TestRobots_UnavailableAllows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRobots(srv.Client(), "newsq-scheduler/1.0")
	u, _ := url.Parse(srv.URL + "/private/latest")
	assert.True(t, r.Allowed(context.Background(), u))

	down, _ := url.Parse("http://127.0.0.1:1/latest")
	assert.True(t, r.Allowed(context.Background(), down))
}

func TestRobots_CacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "User-agent: newsq-scheduler\nDisallow: /\n")
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewRobots(srv.Client(), "newsq-scheduler/1.0")
	r.Now = func() time.Time { return now }
	u, _ := url.Parse(srv.URL + "/latest")

	assert.False(t, r.Allowed(context.Background(), u))
	now = now.Add(23 * time.Hour)
	assert.False(t, r.Allowed(context.Background(), u))
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Hour)
	assert.False(t, r.Allowed(context.Background(), u))
	assert.Equal(t, int32(2), hits.Load())
}
