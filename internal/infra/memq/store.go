// Package memq is an in-process QueueStore. All state lives behind one mutex,
// which makes every transition atomic across goroutines.
package memq

import (
	"context"
	"encoding/json"
	"fmt"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ ports.QueueStore = (*Store)(nil)

type idemEntry struct {
	jobID   string
	expires time.Time
}

type Store struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	main       []string
	delayed    map[string]time.Time
	processing map[string]time.Time
	dlq        []string
	idem       map[string]idemEntry

	// Now is the store clock.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		jobs:       make(map[string]*domain.Job),
		delayed:    make(map[string]time.Time),
		processing: make(map[string]time.Time),
		idem:       make(map[string]idemEntry),
		Now:        time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Enqueue(_ context.Context, j *domain.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if _, ok := s.jobs[j.ID]; ok {
		return 0, fmt.Errorf("enqueue %s: %w", j.ID, domain.ErrConflict)
	}

	now := s.Now().UTC()
	j.State = domain.StateQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	s.jobs[j.ID] = clone(j)
	s.main = append(s.main, j.ID)
	return int64(len(s.main)), nil
}

func (s *Store) Dequeue(_ context.Context, visibility time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.main) > 0 {
		id := s.main[0]
		s.main = s.main[1:]

		j, ok := s.jobs[id]
		if !ok || j.State != domain.StateQueued {
			continue
		}
		now := s.Now().UTC()
		j.State = domain.StateProcessing
		j.Attempt++
		j.StartedAt = now
		j.UpdatedAt = now
		j.Deadline = now.Add(visibility)
		s.processing[id] = j.Deadline
		return clone(j), nil
	}
	return nil, domain.ErrEmptyQueue
}

func (s *Store) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return clone(j), nil
}

func (s *Store) Complete(_ context.Context, id string, attempt int, result json.RawMessage) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.processingJob(id, attempt)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	delete(s.processing, id)
	j.State = domain.StateCompleted
	j.Result = slices.Clone(result)
	j.FinishedAt = now
	j.UpdatedAt = now
	j.Deadline = time.Time{}
	return clone(j), nil
}

func (s *Store) Retry(_ context.Context, id string, attempt int, reason string, runAt time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.processingJob(id, attempt)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	delete(s.processing, id)
	j.RetryCount++
	j.LastError = reason
	j.UpdatedAt = now
	j.Deadline = time.Time{}
	if runAt.After(now) {
		j.State = domain.StateFailed
		j.NextRunAt = runAt.UTC()
		s.delayed[id] = j.NextRunAt
	} else {
		j.State = domain.StateQueued
		j.NextRunAt = time.Time{}
		s.main = append(s.main, id)
	}
	return clone(j), nil
}

func (s *Store) Bury(_ context.Context, id string, attempt int, reason string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.processingJob(id, attempt)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	delete(s.processing, id)
	j.State = domain.StateDLQ
	j.LastError = reason
	j.FinishedAt = now
	j.UpdatedAt = now
	j.Deadline = time.Time{}
	s.dlq = append(s.dlq, id)
	return clone(j), nil
}

func (s *Store) Requeue(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.dlq, id)
	if i < 0 {
		return nil, fmt.Errorf("job %s in dlq: %w", id, domain.ErrNotFound)
	}
	s.dlq = slices.Delete(s.dlq, i, i+1)
	j := s.jobs[id]
	s.revive(j)
	return clone(j), nil
}

func (s *Store) RequeueAll(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.dlq)
	for _, id := range s.dlq {
		s.revive(s.jobs[id])
	}
	s.dlq = nil
	return n, nil
}

func (s *Store) Promote(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := dueIDs(s.delayed, now, limit)
	for _, id := range due {
		delete(s.delayed, id)
		j := s.jobs[id]
		j.State = domain.StateQueued
		j.NextRunAt = time.Time{}
		j.UpdatedAt = now.UTC()
		s.main = append(s.main, id)
	}
	return len(due), nil
}

func (s *Store) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return dueIDs(s.processing, now, limit), nil
}

func (s *Store) ListMain(_ context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := append(slices.Clone(s.main), sortedByTime(s.delayed)...)
	return s.page(ids, offset, limit), int64(len(ids)), nil
}

func (s *Store) ListDLQ(_ context.Context, offset, limit int) ([]*domain.Job, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.page(s.dlq, offset, limit), int64(len(s.dlq)), nil
}

func (s *Store) Stats(context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.QueueStats{
		Main:       int64(len(s.main)),
		Delayed:    int64(len(s.delayed)),
		Processing: int64(len(s.processing)),
		DLQ:        int64(len(s.dlq)),
	}, nil
}

func (s *Store) ClaimIdempotencyKey(_ context.Context, key, jobID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if e, ok := s.idem[key]; ok && now.Before(e.expires) {
		return e.jobID, nil
	}
	s.idem[key] = idemEntry{jobID: jobID, expires: now.Add(ttl)}
	return jobID, nil
}

func (s *Store) ReleaseIdempotencyKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.idem, key)
	return nil
}

// processingJob returns the live job if it is processing under attempt.
func (s *Store) processingJob(id string, attempt int) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if j.State != domain.StateProcessing || j.Attempt != attempt {
		return nil, fmt.Errorf("job %s is %s (attempt %d): %w", id, j.State, j.Attempt, domain.ErrConflict)
	}
	return j, nil
}

func (s *Store) revive(j *domain.Job) {
	j.State = domain.StateQueued
	j.RetryCount = 0
	j.Requeues++
	j.NextRunAt = time.Time{}
	j.FinishedAt = time.Time{}
	j.UpdatedAt = s.Now().UTC()
	s.main = append(s.main, j.ID)
}

func (s *Store) page(ids []string, offset, limit int) []*domain.Job {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []*domain.Job{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(s.jobs[id]))
	}
	return out
}

// dueIDs returns ids whose time is at or before now, oldest first.
func dueIDs(m map[string]time.Time, now time.Time, limit int) []string {
	var ids []string
	for _, id := range sortedByTime(m) {
		if m[id].After(now) {
			break
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids
}

func sortedByTime(m map[string]time.Time) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		ta, tb := m[ids[a]], m[ids[b]]
		if ta.Equal(tb) {
			return ids[a] < ids[b]
		}
		return ta.Before(tb)
	})
	return ids
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	c.Result = slices.Clone(j.Result)
	return &c
}
