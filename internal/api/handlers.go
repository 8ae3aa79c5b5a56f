package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"stockd/internal/models"
	"stockd/internal/quotes"
	"stockd/internal/ratelimit"
	"stockd/internal/storage"
	"stockd/internal/version"
)

// LimiterAdmin is the outbound limiter surface exposed through the API:
// inspection for read callers, strategy and cooldown overrides for
// admins. Both *ratelimit.AdaptiveLimiter and the instrumented wrapper
// implement it.
type LimiterAdmin interface {
	Stats() ratelimit.Stats
	SetStrategy(s ratelimit.Strategy) error
	ResetCooldown(endpoint string)
	ResetCooldowns()
}

// Handlers contains HTTP handlers for the stockd API
type Handlers struct {
	quoteService quotes.ServiceInterface
	limiter      LimiterAdmin
	storage      storage.Storage
	version      version.Info
	startedAt    time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStorage attaches a storage backend for API key management and
// health reporting.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = store
	}
}

// WithLimiter attaches the outbound limiter for stats and admin control.
func WithLimiter(limiter LimiterAdmin) HandlerOption {
	return func(h *Handlers) {
		h.limiter = limiter
	}
}

// WithVersion sets the build information reported on health checks.
func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(quoteService quotes.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		quoteService: quoteService,
		startedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health and GET /api/v1/health
// Reports component status for storage and the outbound limiter. Returns
// 503 when a component is unhealthy so container probes fail over.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	if !h.startedAt.IsZero() {
		response.Uptime = time.Since(h.startedAt).Round(time.Second).String()
	}

	if h.storage != nil {
		if err := h.storage.Ping(r.Context()); err != nil {
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if h.limiter != nil {
		stats := h.limiter.Stats()
		limiterStatus := models.StatusHealthy
		limiterMsg := "Limiter is operational"
		if n := stats.ActiveCooldowns(); n > 0 {
			limiterStatus = models.StatusDegraded
			limiterMsg = fmt.Sprintf("%d endpoint(s) cooling down after upstream rejections", n)
			if response.Status == models.StatusHealthy {
				response.Status = models.StatusDegraded
			}
		}
		response.AddComponent("limiter", limiterStatus, limiterMsg)
		response.AddMetric("limiter_strategy", string(stats.Strategy))
		response.AddMetric("limiter_requests_total", stats.TotalRequests)
	}

	// Authenticated callers get their own identity echoed back, which
	// makes key rotation mistakes visible from a curl.
	if securityContext := GetSecurityContext(r); securityContext != nil {
		response.AddMetric("authenticated_as", getAPIKeyName(securityContext))
		response.AddMetric("permissions", securityContext.APIKey.Permissions)
	}

	statusCode := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so only log the failure.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	h.writeJSONResponse(w, statusCode, errorResp)
}

// writeServiceError maps quote service failures onto the wire. Service
// errors carry their own status code and machine code; a cancelled
// request gets no body because the client is gone; anything else is a
// 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *quotes.ServiceError
	if errors.As(err, &svcErr) {
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	slog.Error("Unclassified service error", "path", r.URL.Path, "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "internal server error")
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(securityContext *SecurityContext) string {
	if securityContext == nil || securityContext.APIKey == nil {
		return "anonymous"
	}
	if securityContext.APIKey.Name != "" {
		return securityContext.APIKey.Name
	}
	return "unnamed-key"
}

// actorKeyID extracts the ID of the authenticated key making this
// request, for audit log lines.
func actorKeyID(r *http.Request) string {
	if key, ok := models.APIKeyFromContext(r.Context()); ok {
		return key.ID
	}
	return "unknown"
}
