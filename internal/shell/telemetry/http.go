// Package telemetry queries cluster utilization gauges from an HTTP
// metrics endpoint.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// HTTP Telemetry
// =============================================================================

// snapshot is the JSON shape the telemetry endpoint returns.
type snapshot struct {
	UtilizationPercent float64        `json:"utilization_percent"`
	Unhealthy          map[string]int `json:"unhealthy"`
}

// HTTPTelemetry reads cluster gauges from a JSON endpoint.
type HTTPTelemetry struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPTelemetry creates a telemetry client.
func NewHTTPTelemetry(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPTelemetry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTelemetry{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "telemetry"),
	}
}

func (t *HTTPTelemetry) fetch(ctx context.Context) (*snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build telemetry request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry query: unexpected status %d", resp.StatusCode)
	}

	var snap snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode telemetry response: %w", err)
	}
	return &snap, nil
}

// Utilization returns the aggregate cluster utilization percentage.
func (t *HTTPTelemetry) Utilization(ctx context.Context) (float64, error) {
	snap, err := t.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return snap.UtilizationPercent, nil
}

// UnhealthyCount returns the unhealthy workload instance count for an
// environment.
func (t *HTTPTelemetry) UnhealthyCount(ctx context.Context, env domain.Environment) (int, error) {
	snap, err := t.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Unhealthy[string(env)], nil
}
