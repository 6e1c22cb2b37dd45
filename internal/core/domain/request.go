// Package domain contains the core types for rollout coordination.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Request Errors
// =============================================================================

var (
	ErrEmptyVersion       = errors.New("version must not be empty")
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrUnknownPriority    = errors.New("unknown priority")
)

// =============================================================================
// Environment
// =============================================================================

// Environment is a deployment target with its own executor and validation
// thresholds.
type Environment string

const (
	EnvDev        Environment = "dev"
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// Environments lists the closed set of known deployment targets.
var Environments = []Environment{EnvDev, EnvStaging, EnvProduction}

// ParseEnvironment validates a raw environment name.
func ParseEnvironment(s string) (Environment, error) {
	for _, e := range Environments {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
}

// Valid reports whether the environment is a member of the known set.
func (e Environment) Valid() bool {
	_, err := ParseEnvironment(string(e))
	return err == nil
}

// =============================================================================
// Priority
// =============================================================================

// Priority orders pending requests for dispatch.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority validates a raw priority name.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
}

// Rank maps a priority to its dispatch rank. High dispatches before
// everything else; normal and low share a rank, so among themselves they
// stay in enqueue order.
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}

// =============================================================================
// Deployment Request
// =============================================================================

// DeploymentRequest is one pending deployment attempt. Requests are created
// by Enqueue, consumed exactly once by Dequeue, and never mutated in place.
type DeploymentRequest struct {
	ID          string      `json:"id"`
	Version     string      `json:"version"`
	Environment Environment `json:"environment"`
	Priority    Priority    `json:"priority"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// NewRequest creates a deployment request for a version and environment.
func NewRequest(version string, env Environment, priority Priority) (*DeploymentRequest, error) {
	if version == "" {
		return nil, ErrEmptyVersion
	}
	if !env.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	if _, err := ParsePriority(string(priority)); err != nil {
		return nil, err
	}
	return &DeploymentRequest{
		ID:          uuid.New().String(),
		Version:     version,
		Environment: env,
		Priority:    priority,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// DispatchBefore reports whether request a dispatches before request b:
// high priority jumps the queue, everything else goes by enqueue time, with
// ID as a final deterministic tiebreak.
func DispatchBefore(a, b DeploymentRequest) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
