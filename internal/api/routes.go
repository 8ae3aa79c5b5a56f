package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"stockd/internal/models"
	"stockd/internal/storage"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api.HandleFunc("/quotes/{symbol}", methodNotAllowedHandler).Methods("POST", "PUT", "DELETE", "PATCH")

	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}).Methods("OPTIONS")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	if config.Security.EnableAuth {
		readAPI := api.PathPrefix("").Subrouter()
		readAPI.Use(authMiddleware(handlers.storage))
		readAPI.Use(RequirePermission(PermissionRead))
		readAPI.HandleFunc("/quotes/{symbol}", handlers.GetQuote).Methods("GET")
		readAPI.HandleFunc("/quotes/{symbol}/history", handlers.GetHistory).Methods("GET")
		readAPI.HandleFunc("/quotes/{symbol}/prediction", handlers.GetPrediction).Methods("GET")
		readAPI.HandleFunc("/limiter/stats", handlers.LimiterStats).Methods("GET")

		adminAPI := api.PathPrefix("").Subrouter()
		adminAPI.Use(authMiddleware(handlers.storage))
		adminAPI.Use(RequirePermission(PermissionAdmin))
		adminAPI.HandleFunc("/limiter/strategy", handlers.SetStrategy).Methods("PUT")
		adminAPI.HandleFunc("/limiter/cooldowns", handlers.ResetCooldowns).Methods("DELETE")
		adminAPI.HandleFunc("/limiter/cooldowns/{endpoint}", handlers.ResetCooldowns).Methods("DELETE")
		adminAPI.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
		adminAPI.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
		adminAPI.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
		adminAPI.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")

		router.Use(OptionalAuth(handlers.storage))
	} else {
		api.HandleFunc("/quotes/{symbol}", handlers.GetQuote).Methods("GET")
		api.HandleFunc("/quotes/{symbol}/history", handlers.GetHistory).Methods("GET")
		api.HandleFunc("/quotes/{symbol}/prediction", handlers.GetPrediction).Methods("GET")
		api.HandleFunc("/limiter/stats", handlers.LimiterStats).Methods("GET")
		api.HandleFunc("/limiter/strategy", handlers.SetStrategy).Methods("PUT")
		api.HandleFunc("/limiter/cooldowns", handlers.ResetCooldowns).Methods("DELETE")
		api.HandleFunc("/limiter/cooldowns/{endpoint}", handlers.ResetCooldowns).Methods("DELETE")
		api.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
		api.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
		api.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
		api.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")
	}

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
	json.NewEncoder(w).Encode(errorResp)
}

// corsMiddleware handles Cross-Origin Resource Sharing
func corsMiddleware(corsConfig models.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(corsConfig.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" && (contains(corsConfig.AllowedOrigins, "*") || contains(corsConfig.AllowedOrigins, origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			}
			if len(corsConfig.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", joinStrings(corsConfig.AllowedMethods, ", "))
			}
			if len(corsConfig.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", joinStrings(corsConfig.AllowedHeaders, ", "))
			}
			if corsConfig.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware handles API key authentication using storage-backed key lookup.
func authMiddleware(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/api/v1/health" {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				errorResp := models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized)
				json.NewEncoder(w).Encode(errorResp)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				errorResp := models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized)
				json.NewEncoder(w).Encode(errorResp)
				return
			}
			token := authHeader[len(prefix):]
			hash := models.HashAPIKey(token)
			validKey, err := store.GetAPIKeyByHash(r.Context(), hash)
			if err != nil || !validKey.Enabled {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				errorResp := models.NewErrorResponse("Invalid API key", models.ErrorCodeUnauthorized)
				json.NewEncoder(w).Encode(errorResp)
				return
			}
			ctx := models.ContextWithAPIKey(r.Context(), validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func joinStrings(slice []string, separator string) string {
	return strings.Join(slice, separator)
}
