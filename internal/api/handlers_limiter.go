package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"stockd/internal/models"
	"stockd/internal/ratelimit"
)

// LimiterStats handles GET /api/v1/limiter/stats
// Requires 'read' permission when auth is enabled.
func (h *Handlers) LimiterStats(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "limiter not configured")
		return
	}

	stats := h.limiter.Stats()
	response := &models.LimiterStatsResponse{
		Strategy:          string(stats.Strategy),
		RequestsPerMinute: stats.RequestsPerMinute,
		TotalRequests:     stats.TotalRequests,
		ActiveCooldowns:   stats.ActiveCooldowns(),
		RequestCounts:     stats.RequestCounts,
		CooldownUntil:     stats.CooldownUntil,
		Timestamp:         time.Now().UTC(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// SetStrategy handles PUT /api/v1/limiter/strategy
// Requires 'admin' permission. This is the only path that can move the
// strategy up after automatic downgrades.
func (h *Handlers) SetStrategy(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "limiter not configured")
		return
	}

	var req models.SetStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	strategy, err := ratelimit.ParseStrategy(req.Strategy)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	if err := h.limiter.SetStrategy(strategy); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	slog.Info("limiter strategy changed",
		"event", "security_audit",
		"action", "set_strategy",
		"strategy", string(strategy),
		"actor_key_id", actorKeyID(r),
	)

	h.writeJSONResponse(w, http.StatusOK, &models.SetStrategyResponse{
		Strategy:  string(strategy),
		Message:   fmt.Sprintf("strategy set to %s (%d requests per minute)", strategy, strategy.RequestsPerMinute()),
		AppliedAt: time.Now().UTC(),
	})
}

// ResetCooldowns handles DELETE /api/v1/limiter/cooldowns and
// DELETE /api/v1/limiter/cooldowns/{endpoint}
// Requires 'admin' permission. Without an endpoint every cooldown is
// cleared.
func (h *Handlers) ResetCooldowns(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "limiter not configured")
		return
	}

	endpoint := mux.Vars(r)["endpoint"]

	var message string
	if endpoint == "" {
		h.limiter.ResetCooldowns()
		message = "all cooldowns cleared"
	} else {
		h.limiter.ResetCooldown(endpoint)
		message = fmt.Sprintf("cooldown cleared for endpoint %q", endpoint)
	}

	slog.Info("limiter cooldowns reset",
		"event", "security_audit",
		"action", "reset_cooldowns",
		"endpoint", endpoint,
		"actor_key_id", actorKeyID(r),
	)

	h.writeJSONResponse(w, http.StatusOK, &models.ResetCooldownsResponse{
		Endpoint: endpoint,
		Message:  message,
	})
}
