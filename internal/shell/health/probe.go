// Package health probes per-environment health endpoints.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/envspec"
)

// =============================================================================
// HTTP Probe
// =============================================================================

// HTTPProbe performs a GET against the environment's configured health URL.
// Any 2xx response counts as healthy.
type HTTPProbe struct {
	specs  map[domain.Environment]envspec.Spec
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProbe creates a health probe over the environment specs.
func NewHTTPProbe(specs map[domain.Environment]envspec.Spec, timeout time.Duration, logger *slog.Logger) *HTTPProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProbe{
		specs:  specs,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "health_probe"),
	}
}

// Check reports whether the environment's health endpoint responds 2xx.
func (p *HTTPProbe) Check(ctx context.Context, env domain.Environment) (bool, error) {
	spec, ok := p.specs[env]
	if !ok || spec.HealthURL == "" {
		return false, fmt.Errorf("no health URL configured for environment %q", env)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.HealthURL, nil)
	if err != nil {
		return false, fmt.Errorf("build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
