package store

import (
	"context"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface shared by all dispatcher instances.
// The queue and the lock are the only cross-instance mutable resources; both
// implementations must be safe for concurrent use. The cooldown record is
// only touched by the dispatcher that currently holds the lock.
type Store interface {
	// Queue operations. EnqueueRequest never deduplicates: two requests for
	// the same version/environment may coexist. DequeueRequest removes the
	// highest priority, earliest enqueued request atomically with respect
	// to concurrent dequeuers and returns (nil, nil) on an empty queue.
	EnqueueRequest(ctx context.Context, req *domain.DeploymentRequest) error
	DequeueRequest(ctx context.Context) (*domain.DeploymentRequest, error)
	ListRequests(ctx context.Context) ([]domain.DeploymentRequest, error)
	ClearRequests(ctx context.Context) error

	// Lock operations. InsertLock returns ErrLockHeld when a holder exists.
	// DeleteLock is idempotent and scoped to the holder. DeleteStaleLock
	// additionally requires the heartbeat to still be the one the caller
	// observed, so a holder that renews in between is not evicted. TouchLock
	// renews the holder's heartbeat.
	InsertLock(ctx context.Context, handle *domain.LockHandle) error
	GetLock(ctx context.Context) (*domain.LockHandle, error)
	DeleteLock(ctx context.Context, holderID string) error
	DeleteStaleLock(ctx context.Context, holderID string, heartbeatAt time.Time) error
	TouchLock(ctx context.Context, holderID string, at time.Time) error

	// Cooldown operations. LastSuccess returns nil when no deployment has
	// ever succeeded.
	LastSuccess(ctx context.Context) (*time.Time, error)
	RecordSuccess(ctx context.Context, at time.Time) error

	// Outcome audit log.
	CreateOutcome(ctx context.Context, outcome *domain.DeploymentOutcome) error
	ListOutcomes(ctx context.Context, limit int) ([]domain.DeploymentOutcome, error)

	// Lifecycle
	Close() error
}
