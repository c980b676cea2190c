package post

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"Quill/internal/api/handlers"
	"Quill/internal/api/middleware"
	"Quill/internal/core/posts"
)

// UpdateHandler handles author edits
type UpdateHandler struct {
	service posts.Service
}

// NewUpdateHandler creates a new update handler
func NewUpdateHandler(service posts.Service) *UpdateHandler {
	return &UpdateHandler{service: service}
}

// HandleEdit replaces title and content. Only the author may edit.
// PATCH /api/posts/{id}
//
// Request body: { "title": "...", "content": "..." }
func (h *UpdateHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var req posts.EditPostRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}

	actor := middleware.GetActor(r)
	post, err := h.service.EditPost(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, posts.NewPostView(post, viewerID(actor)))
}
