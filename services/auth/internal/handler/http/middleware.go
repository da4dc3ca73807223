package http

import (
	"net/http"
	"strings"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httputil"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/middleware"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/service"
)

// ContentTypeJSON rejects request bodies declared with a non-JSON
// Content-Type. Requests without a Content-Type header pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP stores the caller's address in the request context so login
// attempts are counted per login and address.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := service.WithClientIP(r.Context(), middleware.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenValidator bridges the access token issuer to middleware.Auth.
func TokenValidator(issuer *auth.TokenIssuer) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := issuer.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			SubjectID: claims.Subject,
			Username:  claims.Username,
			Roles:     claims.Roles,
		}, nil
	}
}
