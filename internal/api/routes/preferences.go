package routes

import (
	"github.com/go-chi/chi/v5"

	prefhandler "Quill/internal/api/handlers/preferences"
	"Quill/internal/api/middleware"
	"Quill/internal/core/preferences"
)

// RegisterPreferencesRoutes registers the per-user preference endpoints
func RegisterPreferencesRoutes(r chi.Router, service preferences.Service, authMiddleware *middleware.AuthMiddleware) {
	handler := prefhandler.NewHandler(service)

	r.With(authMiddleware.RequireAuth).Get("/api/preferences", handler.HandleGet)
	r.With(authMiddleware.RequireAuth).Put("/api/preferences", handler.HandleUpdate)
}
