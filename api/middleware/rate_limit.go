package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/keyhaven/keyhaven-backend/api/responses"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

const (
	defaultRateLimitWindow = time.Minute
	defaultRateLimitBurst  = 120
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit applies a fixed window per authenticated user. Unauthenticated
// requests fall back to a shared scope, which only the webhook route sees.
func RateLimit(limiter rateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			scope := UserIDFromContext(r.Context())
			if scope == "" {
				scope = "anonymous"
			}

			allowed, _, err := limiter.FixedWindowAllow(r.Context(), scope, defaultRateLimitBurst, defaultRateLimitWindow)
			if err != nil {
				// A Redis failure does not block the request.
				if logg != nil {
					logg.Error(r.Context(), "rate limit check failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "request rate exceeded, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
