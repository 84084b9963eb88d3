package routes

import (
	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/handlers"
	"github.com/aviary-social/aviary/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	oauthHandler *handlers.OAuthHandler,
	issuer *auth.Issuer,
	accounts auth.AccountFetcher,
) {
	authRate := middleware.DefaultAuthRateLimit()
	oauthRate := middleware.DefaultOAuthRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/refresh", authHandler.Refresh)
	router.Post("/auth/logout", authHandler.Logout)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/revoke", authHandler.Revoke)

	// Token exchange is public; clients authenticate inside the body.
	router.With(middleware.RateLimitByIP(oauthRate)).Post("/oauth/token", oauthHandler.Token)
	router.With(middleware.RateLimitByIP(oauthRate)).Post("/token", oauthHandler.Token)

	// Authorization entry point. Signed-out users are redirected to login
	// with the request parameters preserved, so auth here is optional; the
	// /authorize alias keeps old clients working.
	router.Group(func(r chi.Router) {
		r.Use(auth.OptionalMiddleware(issuer))
		r.Get("/oauth/authorize", oauthHandler.Authorize)
		r.Get("/authorize", oauthHandler.Authorize)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(issuer))

		r.Post("/auth/revoke-sessions", authHandler.RevokeSessions)

		// Second factor lifecycle
		r.With(middleware.RateLimitByIP(authRate)).Get("/auth/2fa", twoFactorHandler.Setup)
		r.With(middleware.RateLimitByIP(authRate)).Post("/auth/2fa", twoFactorHandler.Enable)
		r.With(middleware.RateLimitByIP(authRate)).Delete("/auth/2fa", twoFactorHandler.Disable)
		r.With(middleware.RateLimitByIP(authRate)).Post("/auth/2fa/backup-codes", twoFactorHandler.RegenerateBackupCodes)

		// Consent decisions always require a signed-in account.
		r.Post("/oauth/authorize", oauthHandler.Consent)
		r.Post("/authorize", oauthHandler.Consent)

		r.Post("/oauth/clients", oauthHandler.RegisterClient)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(accounts, "admin"))
			r.Delete("/accounts/{id}/2fa", twoFactorHandler.AdminDisable)
		})
	})
}
