package middleware

import (
	"log/slog"
	"net/http"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched
// with correlation_id, credential_id, trace_id and span_id when present.
// Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing. Routes behind Auth should mount
// it again so the credential id is picked up.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := SubjectIDFromContext(ctx); id != "" && logger.CredentialIDFromContext(ctx) == "" {
				ctx = logger.WithCredentialID(ctx, id)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
