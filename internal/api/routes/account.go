package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"Quill/internal/api/handlers/account"
	"Quill/internal/api/middleware"
	"Quill/internal/core/auth"
)

// RegisterAccountRoutes registers the account endpoints with a stricter rate
// limit on the credential endpoints. The returned limiter must be stopped on
// shutdown.
func RegisterAccountRoutes(r chi.Router, provider auth.Provider, cookies sessions.Store, authMiddleware *middleware.AuthMiddleware) *middleware.RateLimiter {
	handler := account.NewHandler(provider, cookies)

	// Login endpoints: 10 req/min per IP (credential stuffing protection)
	loginLimiter := middleware.NewRateLimiter(10, 1*time.Minute)

	r.Route("/api/account", func(r chi.Router) {
		r.With(loginLimiter.Middleware).Post("/register", handler.HandleRegister)
		r.With(loginLimiter.Middleware).Post("/login", handler.HandleLogin)
		r.With(authMiddleware.RequireAuth).Post("/logout", handler.HandleLogout)
		r.With(authMiddleware.RequireAuth).Get("/me", handler.HandleMe)
	})
	return loginLimiter
}
