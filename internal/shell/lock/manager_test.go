package lock

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(s store.Store, holderID string, ttl, poll time.Duration) *Manager {
	return NewManager(s, holderID, ttl, poll, testLogger())
}

// =============================================================================
// Acquire / Release Tests
// =============================================================================

func TestManager_AcquireUncontended(t *testing.T) {
	s := store.NewMemoryStore()
	m := newTestManager(s, "holder-a", time.Second, 10*time.Millisecond)

	h, err := m.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "holder-a", h.HolderID)

	current, err := s.GetLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "holder-a", current.HolderID)

	require.NoError(t, m.Release(h))
	_, err = s.GetLock(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	m := newTestManager(s, "holder-a", time.Second, 10*time.Millisecond)

	h, err := m.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, m.Release(h))
	require.NoError(t, m.Release(h))
	require.NoError(t, m.Release(nil))
}

func TestManager_AcquireTimesOutUnderContention(t *testing.T) {
	s := store.NewMemoryStore()
	holder := newTestManager(s, "holder-a", time.Second, 10*time.Millisecond)
	waiter := newTestManager(s, "holder-b", time.Second, 10*time.Millisecond)

	h, err := holder.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	defer holder.Release(h)

	start := time.Now()
	_, err = waiter.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Holder is untouched.
	current, err := s.GetLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "holder-a", current.HolderID)
}

func TestManager_AcquireSucceedsAfterRelease(t *testing.T) {
	s := store.NewMemoryStore()
	holder := newTestManager(s, "holder-a", time.Second, 10*time.Millisecond)
	waiter := newTestManager(s, "holder-b", time.Second, 10*time.Millisecond)

	h, err := holder.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		holder.Release(h)
		close(released)
	}()

	h2, err := waiter.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	<-released
	defer waiter.Release(h2)

	assert.Equal(t, "holder-b", h2.HolderID)
}

func TestManager_AcquireHonorsContextCancellation(t *testing.T) {
	s := store.NewMemoryStore()
	holder := newTestManager(s, "holder-a", time.Second, 10*time.Millisecond)
	waiter := newTestManager(s, "holder-b", time.Second, 10*time.Millisecond)

	h, err := holder.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	defer holder.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = waiter.Acquire(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Stale Reclamation Tests
// =============================================================================

func TestManager_ReclaimsStaleLock(t *testing.T) {
	s := store.NewMemoryStore()

	// A crashed holder: lock row exists, heartbeat long expired, nobody
	// renewing it.
	stale := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.InsertLock(context.Background(), &domain.LockHandle{
		HolderID:    "crashed-holder",
		AcquiredAt:  stale,
		HeartbeatAt: stale,
	}))

	m := newTestManager(s, "holder-b", time.Second, 10*time.Millisecond)

	start := time.Now()
	h, err := m.Acquire(context.Background(), 5*time.Second)
	require.NoError(t, err)
	defer m.Release(h)

	// Reclamation happens within the first attempt, not after waiting out
	// a full poll cycle per retry.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "holder-b", h.HolderID)

	current, err := s.GetLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "holder-b", current.HolderID)
}

func TestManager_DoesNotEvictHolderThatRenewedMidReclaim(t *testing.T) {
	s := store.NewMemoryStore()

	// Heartbeat looks expired at inspection time.
	stale := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.InsertLock(context.Background(), &domain.LockHandle{
		HolderID:    "slow-holder",
		AcquiredAt:  stale,
		HeartbeatAt: stale,
	}))

	// But the holder renews before the waiter's eviction lands. The
	// conditional delete must leave the renewed lock in place.
	renewed := time.Now().UTC()
	require.NoError(t, s.TouchLock(context.Background(), "slow-holder", renewed))
	require.NoError(t, s.DeleteStaleLock(context.Background(), "slow-holder", stale))

	current, err := s.GetLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow-holder", current.HolderID)

	// A waiter that now inspects sees a live heartbeat and times out
	// instead of stealing the lock.
	m := newTestManager(s, "holder-b", time.Minute, 10*time.Millisecond)
	_, err = m.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestManager_DoesNotReclaimLiveLock(t *testing.T) {
	s := store.NewMemoryStore()

	now := time.Now().UTC()
	require.NoError(t, s.InsertLock(context.Background(), &domain.LockHandle{
		HolderID:    "live-holder",
		AcquiredAt:  now,
		HeartbeatAt: now,
	}))

	m := newTestManager(s, "holder-b", time.Minute, 10*time.Millisecond)

	_, err := m.Acquire(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	current, err := s.GetLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-holder", current.HolderID)
}

// =============================================================================
// Heartbeat Tests
// =============================================================================

func TestManager_KeepaliveRenewsHeartbeat(t *testing.T) {
	s := store.NewMemoryStore()
	// TTL of 30ms renews roughly every 10ms.
	m := newTestManager(s, "holder-a", 30*time.Millisecond, 10*time.Millisecond)

	h, err := m.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	defer m.Release(h)

	first, err := s.GetLock(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		current, err := s.GetLock(context.Background())
		if err != nil {
			return false
		}
		return current.HeartbeatAt.After(first.HeartbeatAt)
	}, time.Second, 5*time.Millisecond, "heartbeat was never renewed")
}

func TestManager_MutualExclusion(t *testing.T) {
	s := store.NewMemoryStore()

	var active, overlaps atomic.Int32
	hold := func(id string) error {
		m := newTestManager(s, id, time.Second, 5*time.Millisecond)
		h, err := m.Acquire(context.Background(), 5*time.Second)
		if err != nil {
			return err
		}

		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)

		return m.Release(h)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hold("holder-b")
	}()
	require.NoError(t, hold("holder-a"))
	require.NoError(t, <-errCh)

	assert.Zero(t, overlaps.Load(), "both holders entered the critical section")
}
