package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"stockd/internal/models"
	"stockd/internal/storage"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey      *models.APIKey
	Permissions []string
}

// HasPermission checks if the security context has the required permission.
// Hierarchy lives on the key itself: admin grants everything, write
// includes read.
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}
	return sc.APIKey.HasPermission(string(required))
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := models.APIKeyFromContext(r.Context()); ok {
		return &SecurityContext{
			APIKey:      apiKey,
			Permissions: apiKey.Permissions,
		}
	}
	return nil
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			securityContext := GetSecurityContext(r)

			if securityContext == nil || !securityContext.HasPermission(required) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)

				errorResp := models.NewErrorResponse(
					"Insufficient permissions for this operation",
					models.ErrorCodeForbidden,
				)
				json.NewEncoder(w).Encode(errorResp)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuth creates middleware that allows optional authentication.
// Used for endpoints that provide different data based on auth status.
// On any error, the request continues without authentication.
func OptionalAuth(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check for API key in Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				// No auth provided, continue without security context
				next.ServeHTTP(w, r)
				return
			}

			// Try to authenticate, but don't fail if invalid
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				// Invalid format, continue without auth
				next.ServeHTTP(w, r)
				return
			}

			token := authHeader[len(prefix):]

			hash := models.HashAPIKey(token)
			validKey, err := store.GetAPIKeyByHash(r.Context(), hash)
			if err != nil || !validKey.Enabled {
				// Invalid or disabled key, continue without auth
				next.ServeHTTP(w, r)
				return
			}

			// Add API key info to context for handlers to use
			ctx := models.ContextWithAPIKey(r.Context(), validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
