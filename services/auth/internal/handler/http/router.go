package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/health"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/middleware"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/service"
)

const serviceName = "auth-service"

// RouterConfig holds the tunables of the HTTP surface.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	PprofEnabled       bool
	PprofAllowedCIDRs  []string
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	passwords *service.PasswordAuthenticator,
	telegram *service.TelegramAuthenticator,
	issuer *auth.TokenIssuer,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins)))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	authHandler := NewAuthHandler(passwords, telegram, logger)
	tokenValidator := TokenValidator(issuer)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(ClientIP)
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
		}

		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
		r.Post("/refresh", authHandler.Refresh)

		r.Route("/telegram", func(r chi.Router) {
			r.Post("/authenticate", authHandler.TelegramAuthenticate)
			r.Post("/login", authHandler.TelegramLogin)
			r.Post("/register", authHandler.TelegramRegister)
		})

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))
			r.Use(middleware.RequestLogger(logger))

			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}
