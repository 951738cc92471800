package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/argos/internal/domain"
)

const APIKeyHeader = "X-API-Key"

type collectorKey struct{}

// CollectorFromContext returns the collector authenticated for the request,
// or "" outside an authenticated route.
func CollectorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(collectorKey{}).(string)
	return name
}

// Auth is a middleware factory that returns a new authentication middleware.
// It checks for a valid collector key in the X-API-Key header and stores the
// collector name in the request context.
func Auth(repo domain.CollectorKeyRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("API key missing from request", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: API key required", http.StatusUnauthorized)
				return
			}

			collector, ok, err := repo.Lookup(r.Context(), apiKey)
			if err != nil {
				logger.Error("failed to validate API key", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if !ok {
				logger.Warn("invalid API key provided", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), collectorKey{}, collector)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
