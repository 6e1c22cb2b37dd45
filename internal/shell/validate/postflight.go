package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Health Probe
// =============================================================================

// Probe checks whether an environment's deployed service is healthy.
type Probe interface {
	// Check returns true when the environment reports healthy. A transport
	// error counts as a failed probe, not a fatal condition.
	Check(ctx context.Context, env domain.Environment) (bool, error)
}

// =============================================================================
// Postflight Errors
// =============================================================================

// PostflightError means the deploy action reported success but health never
// converged within the attempt budget. Remediation differs from an execution
// failure: investigate the running service, not the deploy mechanism.
type PostflightError struct {
	Environment domain.Environment
	Attempts    int
}

func (e *PostflightError) Error() string {
	return fmt.Sprintf("postflight failed: %s not healthy after %d attempts", e.Environment, e.Attempts)
}

// =============================================================================
// Postflight Validator
// =============================================================================

// Postflight confirms deployment health with bounded-retry probing. The
// first successful probe short-circuits; exhausting the budget fails with
// the attempt count for diagnostics. Never polls indefinitely.
type Postflight struct {
	probe       Probe
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPostflight creates the postflight validator.
func NewPostflight(probe Probe, interval time.Duration, maxAttempts int, logger *slog.Logger) *Postflight {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postflight{
		probe:       probe,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "postflight"),
	}
}

// Confirm probes the environment until it reports healthy or the attempt
// budget is exhausted.
func (p *Postflight) Confirm(ctx context.Context, env domain.Environment) error {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		healthy, err := p.probe.Check(ctx, env)
		if err != nil {
			p.logger.Debug("health probe error",
				"environment", env,
				"attempt", attempt,
				"error", err,
			)
		}
		if healthy {
			p.logger.Info("health confirmed", "environment", env, "attempt", attempt)
			return nil
		}

		// No sleep after the final attempt.
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}

	return &PostflightError{Environment: env, Attempts: p.maxAttempts}
}
