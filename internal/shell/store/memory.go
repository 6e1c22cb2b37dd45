package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore implements Store in memory. It provides the same atomicity
// guarantees as the SQLite store for dispatchers sharing one process, and is
// the backing store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	requests []domain.DeploymentRequest
	lock     *domain.LockHandle
	last     *time.Time
	outcomes []domain.DeploymentOutcome
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// =============================================================================
// Queue Operations
// =============================================================================

func (s *MemoryStore) EnqueueRequest(_ context.Context, req *domain.DeploymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, *req)
	return nil
}

func (s *MemoryStore) DequeueRequest(_ context.Context) (*domain.DeploymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.requests) == 0 {
		return nil, nil
	}

	best := 0
	for i := 1; i < len(s.requests); i++ {
		if domain.DispatchBefore(s.requests[i], s.requests[best]) {
			best = i
		}
	}

	req := s.requests[best]
	s.requests = append(s.requests[:best], s.requests[best+1:]...)
	return &req, nil
}

func (s *MemoryStore) ListRequests(_ context.Context) ([]domain.DeploymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]domain.DeploymentRequest, len(s.requests))
	copy(snapshot, s.requests)
	sort.Slice(snapshot, func(i, j int) bool {
		return domain.DispatchBefore(snapshot[i], snapshot[j])
	})
	return snapshot, nil
}

func (s *MemoryStore) ClearRequests(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	return nil
}

// =============================================================================
// Lock Operations
// =============================================================================

func (s *MemoryStore) InsertLock(_ context.Context, handle *domain.LockHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		return ErrLockHeld
	}
	h := *handle
	s.lock = &h
	return nil
}

func (s *MemoryStore) GetLock(_ context.Context) (*domain.LockHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return nil, ErrNotFound
	}
	h := *s.lock
	return &h, nil
}

func (s *MemoryStore) DeleteLock(_ context.Context, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil && s.lock.HolderID == holderID {
		s.lock = nil
	}
	return nil
}

func (s *MemoryStore) DeleteStaleLock(_ context.Context, holderID string, heartbeatAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil && s.lock.HolderID == holderID && s.lock.HeartbeatAt.Equal(heartbeatAt) {
		s.lock = nil
	}
	return nil
}

func (s *MemoryStore) TouchLock(_ context.Context, holderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil || s.lock.HolderID != holderID {
		return ErrNotFound
	}
	s.lock.HeartbeatAt = at
	return nil
}

// =============================================================================
// Cooldown Operations
// =============================================================================

func (s *MemoryStore) LastSuccess(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return nil, nil
	}
	t := *s.last
	return &t, nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := at.UTC()
	s.last = &t
	return nil
}

// =============================================================================
// Outcome Operations
// =============================================================================

func (s *MemoryStore) CreateOutcome(_ context.Context, outcome *domain.DeploymentOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, *outcome)
	return nil
}

func (s *MemoryStore) ListOutcomes(_ context.Context, limit int) ([]domain.DeploymentOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	// Newest first, matching the SQLite store.
	n := len(s.outcomes)
	if limit > n {
		limit = n
	}
	out := make([]domain.DeploymentOutcome, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.outcomes[i])
	}
	return out, nil
}
