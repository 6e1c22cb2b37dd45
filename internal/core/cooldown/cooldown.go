// Package cooldown provides pure functions for deployment spacing decisions.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
// It never blocks; the dispatcher is responsible for sleeping the returned
// duration.
package cooldown

import "time"

// State is the persisted cooldown record: the completion time of the most
// recent successful deployment, or nil when no deployment has succeeded yet.
type State struct {
	LastDeploymentAt *time.Time
}

// TimeSinceLast returns how long ago the last successful deployment finished.
// ok is false when there is no prior deployment.
func TimeSinceLast(s State, now time.Time) (since time.Duration, ok bool) {
	if s.LastDeploymentAt == nil {
		return 0, false
	}
	return now.Sub(*s.LastDeploymentAt), true
}

// ShouldWait computes how long a cycle must sleep before it may execute:
// max(0, interval - TimeSinceLast). The very first deployment never waits.
func ShouldWait(s State, interval time.Duration, now time.Time) time.Duration {
	since, ok := TimeSinceLast(s, now)
	if !ok {
		return 0
	}
	if remaining := interval - since; remaining > 0 {
		return remaining
	}
	return 0
}
