package post

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"Quill/internal/api/handlers"
	"Quill/internal/api/middleware"
	"Quill/internal/core/posts"
)

// RateInput is the body of the ratings endpoint
type RateInput struct {
	Value int `json:"value"`
}

// CommentInput is the body of the comment and reply endpoints
type CommentInput struct {
	Text string `json:"text"`
}

// ReactInput is the body of the reactions endpoint
type ReactInput struct {
	Reaction posts.Reaction `json:"reaction"`
}

// InteractionHandler handles likes, ratings, comments, replies and reactions.
// Each request runs one intent through the post's shared aggregate and
// returns the confirmed post.
type InteractionHandler struct {
	service posts.Service
}

// NewInteractionHandler creates a new interaction handler
func NewInteractionHandler(service posts.Service) *InteractionHandler {
	return &InteractionHandler{service: service}
}

// HandleLike increments the like counter
// POST /api/posts/{id}/like
func (h *InteractionHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	post, err := h.service.LikePost(r.Context(), actor, chi.URLParam(r, "id"))
	h.respond(w, actor, post, err)
}

// HandleRate appends a 1..5 rating
// POST /api/posts/{id}/ratings
//
// Request body: { "value": 4 }
func (h *InteractionHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	var in RateInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	actor := middleware.GetActor(r)
	post, err := h.service.RatePost(r.Context(), actor, chi.URLParam(r, "id"), in.Value)
	h.respond(w, actor, post, err)
}

// HandleComment adds a top-level comment
// POST /api/posts/{id}/comments
//
// Request body: { "text": "..." }
func (h *InteractionHandler) HandleComment(w http.ResponseWriter, r *http.Request) {
	var in CommentInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	actor := middleware.GetActor(r)
	post, err := h.service.AddComment(r.Context(), actor, chi.URLParam(r, "id"), in.Text)
	h.respond(w, actor, post, err)
}

// HandleReply adds a reply under any comment of the tree
// POST /api/posts/{id}/comments/{commentId}/replies
func (h *InteractionHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	var in CommentInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	actor := middleware.GetActor(r)
	post, err := h.service.AddReply(r.Context(), actor,
		chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), in.Text)
	h.respond(w, actor, post, err)
}

// HandleReact likes or dislikes a comment
// POST /api/posts/{id}/comments/{commentId}/reactions
//
// Request body: { "reaction": "like" | "dislike" }
func (h *InteractionHandler) HandleReact(w http.ResponseWriter, r *http.Request) {
	var in ReactInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	if !in.Reaction.Valid() {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "reaction must be 'like' or 'dislike'")
		return
	}
	actor := middleware.GetActor(r)
	post, err := h.service.ReactToComment(r.Context(), actor,
		chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), in.Reaction)
	h.respond(w, actor, post, err)
}

func (h *InteractionHandler) respond(w http.ResponseWriter, actor *posts.Actor, post *posts.Post, err error) {
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, posts.NewPostView(post, viewerID(actor)))
}
