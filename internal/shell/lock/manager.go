// Package lock provides the cross-instance mutual-exclusion primitive that
// serializes deployment cycles. The lock lives in the shared store; liveness
// is a heartbeat timestamp with an expiry, so a crashed holder is reclaimed
// without inspecting processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrLockTimeout is returned when the lock could not be acquired within
	// the caller's timeout. The cycle aborts cleanly: no lock held, no
	// cooldown recorded.
	ErrLockTimeout = errors.New("timed out waiting for deployment lock")
)

// =============================================================================
// Handle
// =============================================================================

// Handle is a held lock. Release must be called on every exit path of a
// dispatch cycle; it is idempotent.
type Handle struct {
	domain.LockHandle

	stopKeepalive context.CancelFunc
	done          chan struct{}
	released      sync.Once
}

// =============================================================================
// Manager
// =============================================================================

// Manager acquires and releases the global deployment lock.
type Manager struct {
	store        store.Store
	holderID     string
	heartbeatTTL time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewManager creates a lock manager for one holder identity.
func NewManager(s store.Store, holderID string, heartbeatTTL, pollInterval time.Duration, logger *slog.Logger) *Manager {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        s,
		holderID:     holderID,
		heartbeatTTL: heartbeatTTL,
		pollInterval: pollInterval,
		logger:       logger.With("component", "lock_manager"),
	}
}

// HolderID returns the identity this manager acquires locks under.
func (m *Manager) HolderID() string {
	return m.holderID
}

// Acquire attempts immediate acquisition, then polls until timeout. On each
// attempt a stale holder (expired heartbeat) is removed and acquisition is
// retried immediately within the same attempt, so reclamation never waits
// out the full timeout.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)

	for {
		handle, err := m.tryAcquire(ctx)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, store.ErrLockHeld) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrLockTimeout
		}

		wait := m.pollInterval
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
	}
}

// tryAcquire makes one acquisition attempt, reclaiming a stale lock if one
// is found. Returns store.ErrLockHeld when a live holder is in the way.
func (m *Manager) tryAcquire(ctx context.Context) (*Handle, error) {
	now := time.Now().UTC()
	candidate := &domain.LockHandle{
		HolderID:    m.holderID,
		AcquiredAt:  now,
		HeartbeatAt: now,
	}

	err := m.store.InsertLock(ctx, candidate)
	if err == nil {
		return m.held(candidate), nil
	}
	if !errors.Is(err, store.ErrLockHeld) {
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	current, err := m.store.GetLock(ctx)
	if errors.Is(err, store.ErrNotFound) {
		// Holder released between insert and get; retry right away.
		if err := m.store.InsertLock(ctx, candidate); err != nil {
			if errors.Is(err, store.ErrLockHeld) {
				return nil, store.ErrLockHeld
			}
			return nil, fmt.Errorf("insert lock: %w", err)
		}
		return m.held(candidate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspect lock: %w", err)
	}

	if !current.Stale(time.Now().UTC(), m.heartbeatTTL) {
		return nil, store.ErrLockHeld
	}

	m.logger.Warn("reclaiming stale lock",
		"stale_holder", current.HolderID,
		"heartbeat_age", time.Since(current.HeartbeatAt).Round(time.Millisecond),
	)
	// Delete only the heartbeat we judged stale; a holder that renewed in
	// the meantime keeps its lock and the insert below fails with ErrLockHeld.
	if err := m.store.DeleteStaleLock(ctx, current.HolderID, current.HeartbeatAt); err != nil {
		return nil, fmt.Errorf("remove stale lock: %w", err)
	}

	if err := m.store.InsertLock(ctx, candidate); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			// Another waiter won the reclaim race.
			return nil, store.ErrLockHeld
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}
	return m.held(candidate), nil
}

// held wraps an inserted lock and starts its keepalive goroutine.
func (m *Manager) held(lh *domain.LockHandle) *Handle {
	kctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		LockHandle:    *lh,
		stopKeepalive: cancel,
		done:          make(chan struct{}),
	}
	go m.keepalive(kctx, h)

	m.logger.Debug("lock acquired", "holder", lh.HolderID)
	return h
}

// keepalive renews the holder's heartbeat while the lock is held.
func (m *Manager) keepalive(ctx context.Context, h *Handle) {
	defer close(h.done)

	interval := m.heartbeatTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.store.TouchLock(ctx, h.HolderID, time.Now().UTC())
			if errors.Is(err, store.ErrNotFound) {
				// Lock vanished under us (released or reclaimed).
				return
			}
			if err != nil && ctx.Err() == nil {
				m.logger.Error("heartbeat renewal failed", "holder", h.HolderID, "error", err)
			}
		}
	}
}

// Release removes the lock. Idempotent: releasing a lock that no longer
// exists is not an error, and double release is safe.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	var err error
	h.released.Do(func() {
		h.stopKeepalive()
		<-h.done

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if delErr := m.store.DeleteLock(ctx, h.HolderID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
			err = fmt.Errorf("release lock: %w", delErr)
			return
		}
		m.logger.Debug("lock released", "holder", h.HolderID)
	})
	return err
}
