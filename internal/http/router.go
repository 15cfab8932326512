package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"housegen/internal/auth"
	"housegen/internal/config"
	"housegen/internal/platform/metrics"
	"housegen/internal/ratelimit"
)

// Dependencies are the services the router dispatches to. Google and
// OAuthAdapter are nil when Google sign-in is not configured; AuthLimiter and
// Generations are nil when rate limiting is disabled.
type Dependencies struct {
	Accounts     *auth.Service
	Sessions     *auth.SessionManager
	Resolver     *auth.Resolver
	Google       googleAuthenticator
	OAuthAdapter *auth.OAuthAdapter
	AuthLimiter  ratelimit.Counter
	Generations  ratelimit.Peeker
	Metrics      *metrics.Metrics
	// Health reports backing store reachability for /health.
	Health func(ctx context.Context) error
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(newPeerAddrMiddleware)
	r.Use(newTrustedRealIP(cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	if deps.Metrics != nil {
		r.Use(newMetricsMiddleware(deps.Metrics))
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	authHandler := NewAuthHandler(deps.Accounts, deps.Sessions, deps.Metrics, logger)
	sessionHandler := NewSessionHandler(deps.Resolver)
	meHandler := NewMeHandler(deps.Accounts, deps.Generations, logger)
	adminHandler := NewAdminHandler(deps.Accounts, logger)
	requireAuth := newAuthMiddleware(deps.Resolver)

	limit := func(scope string) func(http.Handler) http.Handler {
		if deps.AuthLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return newRateLimitMiddleware(deps.AuthLimiter, scope, deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", sessionHandler.Status)

		r.Route("/auth", func(r chi.Router) {
			r.With(limit("register")).Post("/register", authHandler.Register)
			r.With(limit("login")).Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.With(limit("password_reset")).Post("/password/forgot", authHandler.ForgotPassword)
			r.With(limit("password_reset")).Post("/password/reset", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Post("/verify-email/resend", authHandler.ResendVerification)
				r.Post("/password/change", authHandler.ChangePassword)
			})

			if deps.Google != nil && deps.OAuthAdapter != nil {
				oauthHandler := NewOAuthHandler(deps.Google, deps.OAuthAdapter, deps.Sessions.Cookies(), cfg.FrontendURL, deps.Metrics, logger)
				r.Get("/google", oauthHandler.InitiateGoogle)
				r.Get("/google/callback", oauthHandler.CallbackGoogle)
				r.Post("/oauth/logout", oauthHandler.Logout)
			} else {
				logger.Warn("Google sign-in disabled; OAuth routes are not mounted")
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", meHandler.Get)
			r.Get("/me/quota", meHandler.Quota)

			r.Route("/admin", func(r chi.Router) {
				r.Use(newRequireRole(auth.RoleAdmin))
				r.Get("/users/{id}", adminHandler.GetUser)
			})
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
