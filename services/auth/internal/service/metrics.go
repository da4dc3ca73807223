package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeLimited = "rate_limited"
)

var (
	// LoginAttempts counts login attempts by method (password, telegram) and outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"method", "outcome"},
	)

	// Registrations counts registration attempts by method and outcome.
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"method", "outcome"},
	)

	// TokenRefreshes counts refresh token rotations by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"outcome"},
	)

	// SessionsCreated counts token pairs issued by a fresh login or registration.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_created_total",
		Help: "Total number of sessions created",
	})

	// RefreshTokensSwept counts expired refresh tokens removed by the sweeper.
	RefreshTokensSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_swept_total",
		Help: "Total number of expired refresh tokens removed by the sweeper",
	})

	// RoleGrants counts elevated roles granted through activation codes.
	RoleGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_role_grants_total",
			Help: "Total number of roles granted through activation codes",
		},
		[]string{"role"},
	)

	// ConsistencyAlerts counts registrations whose compensation failed,
	// leaving a credential without a profile.
	ConsistencyAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_consistency_alerts_total",
		Help: "Total number of failed registration compensations",
	})
)
