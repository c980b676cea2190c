package post

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"Quill/internal/api/handlers"
	"Quill/internal/api/middleware"
	"Quill/internal/core/posts"
)

// ListResponse is the body of the list endpoint
type ListResponse struct {
	Posts []*posts.PostView `json:"posts"`
}

// GetHandler serves the dashboard list, the author list and single posts
type GetHandler struct {
	service posts.Service
}

// NewGetHandler creates a new get handler
func NewGetHandler(service posts.Service) *GetHandler {
	return &GetHandler{service: service}
}

// HandleList lists posts newest first
// GET /api/posts[?author=me|{userId}]
func (h *GetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	author := r.URL.Query().Get("author")
	if author == "me" {
		if actor == nil {
			handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Sign in to list your posts")
			return
		}
		author = actor.ID
	}

	var (
		list []*posts.Post
		err  error
	)
	if author != "" {
		list, err = h.service.ListByAuthor(r.Context(), author)
	} else {
		list, err = h.service.ListPosts(r.Context())
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := ListResponse{Posts: make([]*posts.PostView, 0, len(list))}
	for _, p := range list {
		resp.Posts = append(resp.Posts, posts.NewPostView(p, viewerID(actor)))
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

// HandleGet returns one post with its derived stats
// GET /api/posts/{id}
func (h *GetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, posts.NewPostView(post, viewerID(middleware.GetActor(r))))
}
