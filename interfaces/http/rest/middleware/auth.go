package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	pkgerrors "acecore/pkg/errors"
)

// KeyVerifier checks a plaintext api key against the credential store.
// *core.CoreSystem satisfies it.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string, adminRequired bool) (bool, error)
}

type contextKey struct{ name string }

var apiKeyContextKey = &contextKey{"api_key"}

// APIKeyFromContext returns the verified plaintext api key placed in the
// request context by Authenticate.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(string)
	return key, ok
}

// Authenticate creates a bearer-token authentication middleware. Requests
// without a valid api key are rejected with an invalid_api_key envelope.
func Authenticate(keys KeyVerifier, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" {
				respondAuthError(w, http.StatusUnauthorized, pkgerrors.CodeInvalidAPIKey, "missing api key")
				return
			}

			valid, err := keys.VerifyAPIKey(r.Context(), key, false)
			if err != nil {
				logger.Error("api key verification failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				respondAuthError(w, http.StatusInternalServerError, pkgerrors.CodeInternal, "api key verification failed")
				return
			}
			if !valid {
				respondAuthError(w, http.StatusUnauthorized, pkgerrors.CodeInvalidAPIKey, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route group on the api key's admin flag. It must run
// after Authenticate, which leaves the verified key in the request context.
func RequireAdmin(keys KeyVerifier, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := APIKeyFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, pkgerrors.CodeInvalidAPIKey, "missing api key")
				return
			}

			admin, err := keys.VerifyAPIKey(r.Context(), key, true)
			if err != nil {
				logger.Error("admin verification failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				respondAuthError(w, http.StatusInternalServerError, pkgerrors.CodeInternal, "api key verification failed")
				return
			}
			if !admin {
				respondAuthError(w, http.StatusForbidden, pkgerrors.CodeInvalidAPIKey, "admin api key required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the api key from the Authorization header. Only the
// Bearer scheme is accepted.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func respondAuthError(w http.ResponseWriter, status int, code pkgerrors.Code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"details": details,
	})
}
