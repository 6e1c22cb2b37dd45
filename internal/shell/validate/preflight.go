// Package validate implements the readiness gates that run before and after
// the deploy action. Collaborators (artifact registry, cluster telemetry,
// health probe) are consumed through narrow interfaces.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/envspec"
	"github.com/artpar/rollout/internal/core/readiness"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Registry resolves artifact references.
type Registry interface {
	// Exists reports whether the version resolves in the artifact registry.
	Exists(ctx context.Context, version string) (bool, error)
}

// Telemetry exposes cluster utilization gauges.
type Telemetry interface {
	// Utilization returns the aggregate cluster utilization percentage.
	Utilization(ctx context.Context) (float64, error)

	// UnhealthyCount returns the number of workload instances currently
	// failing health checks in an environment.
	UnhealthyCount(ctx context.Context, env domain.Environment) (int, error)
}

// =============================================================================
// Preflight Errors
// =============================================================================

// PreflightReason classifies why a request was refused before execution.
type PreflightReason string

const (
	ReasonImageNotFound   PreflightReason = "image-not-found"
	ReasonClusterNotReady PreflightReason = "cluster-not-ready"
)

// PreflightError is an operator-recoverable refusal: fix the artifact or
// wait for cluster capacity. No cooldown is recorded.
type PreflightError struct {
	Reason PreflightReason
	Detail string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight failed (%s): %s", e.Reason, e.Detail)
}

// AsPreflight unwraps a PreflightError if err carries one.
func AsPreflight(err error) (*PreflightError, bool) {
	var pe *PreflightError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// =============================================================================
// Preflight Validator
// =============================================================================

// Preflight runs the environment-aware readiness checks before execution.
// Checks short-circuit on first failure: artifact existence, then (for
// cluster-gated environments only) utilization and workload health.
type Preflight struct {
	registry  Registry
	telemetry Telemetry
	specs     map[domain.Environment]envspec.Spec
	logger    *slog.Logger
}

// NewPreflight creates the preflight validator.
func NewPreflight(registry Registry, telemetry Telemetry, specs map[domain.Environment]envspec.Spec, logger *slog.Logger) *Preflight {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preflight{
		registry:  registry,
		telemetry: telemetry,
		specs:     specs,
		logger:    logger.With("component", "preflight"),
	}
}

// Validate gates a request. A nil return means the request may execute.
func (p *Preflight) Validate(ctx context.Context, req domain.DeploymentRequest) error {
	exists, err := p.registry.Exists(ctx, req.Version)
	if err != nil {
		return fmt.Errorf("artifact lookup for %q: %w", req.Version, err)
	}
	if !exists {
		return &PreflightError{
			Reason: ReasonImageNotFound,
			Detail: fmt.Sprintf("version %q does not resolve in the artifact registry", req.Version),
		}
	}

	spec := p.specs[req.Environment]
	if !spec.ClusterGated {
		// Lower-risk environments skip the cluster gate; rigor escalates
		// with environment risk.
		return nil
	}

	utilization, err := p.telemetry.Utilization(ctx)
	if err != nil {
		return fmt.Errorf("utilization query: %w", err)
	}
	unhealthy, err := p.telemetry.UnhealthyCount(ctx, req.Environment)
	if err != nil {
		return fmt.Errorf("unhealthy count query: %w", err)
	}

	ceiling := spec.UtilizationCeiling
	if ceiling <= 0 {
		ceiling = envspec.DefaultUtilizationCeiling
	}

	ok, reason := readiness.Evaluate(readiness.Reading{
		UtilizationPercent: utilization,
		UnhealthyCount:     unhealthy,
	}, ceiling)
	if !ok {
		return &PreflightError{Reason: ReasonClusterNotReady, Detail: reason}
	}

	p.logger.Debug("preflight passed",
		"version", req.Version,
		"environment", req.Environment,
		"utilization", utilization,
	)
	return nil
}
