// Package notify delivers deployment outcomes to external consumers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Notifier Interface
// =============================================================================

// Notifier receives the outcome of every dispatch cycle. Delivery failures
// never affect the cycle's result.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.DeploymentOutcome) error
}

// =============================================================================
// Noop Notifier
// =============================================================================

// Noop discards outcomes. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(context.Context, domain.DeploymentOutcome) error {
	return nil
}

// =============================================================================
// Webhook Notifier
// =============================================================================

// Webhook POSTs outcomes as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "notifier"),
	}
}

func (w *Webhook) Notify(ctx context.Context, outcome domain.DeploymentOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver webhook: unexpected status %d", resp.StatusCode)
	}

	w.logger.Debug("outcome delivered",
		"request_id", outcome.RequestID,
		"result", outcome.Result,
	)
	return nil
}
