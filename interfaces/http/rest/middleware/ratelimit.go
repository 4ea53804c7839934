package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"acecore/pkg/auth"
	pkgerrors "acecore/pkg/errors"
)

// RateLimit enforces a per-credential request budget. It must run after
// Authenticate, which leaves the verified key in the request context;
// requests without one are keyed by remote address.
func RateLimit(limiter auth.Limiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiterKey(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// fail open when the limiter backend is unreachable
				logger.Warn("rate limit check failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				e := pkgerrors.NewRateLimited()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(e.HTTPStatus)
				json.NewEncoder(w).Encode(map[string]string{
					"code":    string(e.Code),
					"details": e.Message,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey identifies the caller. Credentials are hashed so plaintext keys
// never reach the limiter backend.
func limiterKey(r *http.Request) string {
	if key, ok := APIKeyFromContext(r.Context()); ok {
		digest := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(digest[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
