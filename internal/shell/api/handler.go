// Package api exposes the operator-facing status HTTP surface served by the
// worker process: pending queue, cooldown state, recent outcomes and
// Prometheus metrics. It is read-only; all mutations go through the CLI.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/rollout/internal/core/cooldown"
	"github.com/artpar/rollout/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler serves the read-only status API.
type Handler struct {
	store            store.Store
	cooldownInterval time.Duration
	gatherer         prometheus.Gatherer
	logger           *slog.Logger
}

// NewHandler creates the status API handler. gatherer may be nil to disable
// the /metrics endpoint.
func NewHandler(s store.Store, cooldownInterval time.Duration, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:            s,
		cooldownInterval: cooldownInterval,
		gatherer:         gatherer,
		logger:           logger.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", h.handleQueue)
		r.Get("/cooldown", h.handleCooldown)
		r.Get("/outcomes", h.handleOutcomes)
	})

	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	requests, err := h.store.ListRequests(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"pending":  requests,
		"count":    len(requests),
		"ordering": "dispatch",
	})
}

func (h *Handler) handleCooldown(w http.ResponseWriter, r *http.Request) {
	last, err := h.store.LastSuccess(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	wait := cooldown.ShouldWait(cooldown.State{LastDeploymentAt: last}, h.cooldownInterval, time.Now().UTC())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"last_deployment_at": last,
		"interval_seconds":   h.cooldownInterval.Seconds(),
		"wait_seconds":       wait.Seconds(),
	})
}

func (h *Handler) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	outcomes, err := h.store.ListOutcomes(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.logger.Error("status API request failed", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
