package preferences

import (
	"errors"
	"log"
	"net/http"

	"Quill/internal/api/handlers"
	"Quill/internal/api/middleware"
	"Quill/internal/core/preferences"
)

// Handler serves the signed-in user's display preferences
type Handler struct {
	service preferences.Service
}

// NewHandler creates the preferences handler
func NewHandler(service preferences.Service) *Handler {
	return &Handler{service: service}
}

// HandleGet returns the caller's preferences, defaults when never saved
// GET /api/preferences
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}
	prefs, err := h.service.Load(r.Context(), actor.ID)
	if err != nil {
		log.Printf("Failed to load preferences: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, prefs)
}

// HandleUpdate merges a partial update into the caller's preferences
// PUT /api/preferences
//
// Request body: { "theme": "dark", "collapsed": { "<commentId>": true } }
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}
	var patch preferences.Patch
	if !handlers.DecodeJSON(w, r, &patch) {
		return
	}
	prefs, err := h.service.Update(r.Context(), actor.ID, patch)
	switch {
	case errors.Is(err, preferences.ErrInvalidTheme):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	case err != nil:
		log.Printf("Failed to update preferences: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, prefs)
}
