package domain

import "time"

// =============================================================================
// Lock Handle
// =============================================================================

// LockHandle identifies the current holder of the global deployment lock.
// At most one live handle exists system-wide at any time. Liveness is a
// heartbeat timestamp with an expiry rather than OS process inspection, so
// the lock works across hosts and is testable without spawning processes.
type LockHandle struct {
	HolderID    string    `json:"holder_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Stale reports whether the holder's heartbeat has expired. A stale lock is
// abandoned and may be reclaimed by any waiter.
func (h LockHandle) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(h.HeartbeatAt) > ttl
}
