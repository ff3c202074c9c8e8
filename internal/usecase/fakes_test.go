package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"newsq/internal/domain"
	"newsq/internal/infra/memq"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, j domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, j)
	return n.err
}

func (n *recordingNotifier) calls() []domain.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Job(nil), n.jobs...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, al domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *recordingAlerter) calls() []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert(nil), a.alerts...)
}

type funcProcessor func(ctx context.Context, j domain.Job) (json.RawMessage, error)

func (f funcProcessor) Process(ctx context.Context, j domain.Job) (json.RawMessage, error) {
	return f(ctx, j)
}

type memDedup struct {
	mu   sync.Mutex
	urls map[string]string
	err  error
}

func (d *memDedup) Claim(_ context.Context, url, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.urls == nil {
		d.urls = map[string]string{}
	}
	if _, ok := d.urls[url]; ok {
		return domain.ErrDuplicate
	}
	d.urls[url] = jobID
	return nil
}

func (d *memDedup) Release(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.urls, url)
	return nil
}

// brokenStore fails every enqueue as an unreachable broker would.
type brokenStore struct {
	*memq.Store
}

func (brokenStore) Enqueue(context.Context, *domain.Job) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *memq.Store
	clock    *clock
	notifier *recordingNotifier
	alerter  *recordingAlerter
	l        *Lifecycle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := newClock()
	s := memq.New()
	s.Now = c.Now
	h := &harness{
		store:    s,
		clock:    c,
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
	}
	h.l = &Lifecycle{
		Q:          s,
		Notifier:   h.notifier,
		Alerter:    h.alerter,
		Visibility: time.Minute,
		Now:        c.Now,
	}
	return h
}
