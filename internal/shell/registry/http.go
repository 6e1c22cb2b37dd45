// Package registry resolves artifact references against an HTTP registry.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// HTTP Registry
// =============================================================================

// HTTPRegistry checks artifact existence with a HEAD request against a URL
// template. ${VERSION} in the template is replaced with the artifact
// reference; 2xx means the version resolves, 404 means it does not.
type HTTPRegistry struct {
	urlTemplate string
	client      *http.Client
	logger      *slog.Logger
}

// NewHTTPRegistry creates a registry client.
func NewHTTPRegistry(urlTemplate string, timeout time.Duration, logger *slog.Logger) *HTTPRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRegistry{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With("component", "registry"),
	}
}

// Exists reports whether the version resolves in the registry.
func (r *HTTPRegistry) Exists(ctx context.Context, version string) (bool, error) {
	url := strings.ReplaceAll(r.urlTemplate, "${VERSION}", version)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build registry request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("registry lookup: unexpected status %d for %s", resp.StatusCode, url)
	}
}
