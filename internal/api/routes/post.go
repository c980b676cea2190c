package routes

import (
	"github.com/go-chi/chi/v5"

	"Quill/internal/api/handlers/post"
	"Quill/internal/api/middleware"
	"Quill/internal/core/posts"
)

// RegisterPostRoutes registers the post endpoints on the router.
// Reads work anonymously; every mutation requires authentication.
func RegisterPostRoutes(r chi.Router, service posts.Service, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) {
	createHandler := post.NewCreateHandler(service)
	getHandler := post.NewGetHandler(service)
	updateHandler := post.NewUpdateHandler(service)
	deleteHandler := post.NewDeleteHandler(service)
	interactionHandler := post.NewInteractionHandler(service)
	streamHandler := post.NewStreamHandler(service, allowedOrigins)

	r.Route("/api/posts", func(r chi.Router) {
		// Query endpoints (GET) - viewer is optional, used for canEdit
		r.With(authMiddleware.OptionalAuth).Get("/", getHandler.HandleList)
		r.With(authMiddleware.OptionalAuth).Get("/{id}", getHandler.HandleGet)
		r.With(authMiddleware.OptionalAuth).Get("/{id}/stream", streamHandler.HandleStream)

		// Procedure endpoints - require authentication
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Post("/", createHandler.HandleCreate)
			r.Patch("/{id}", updateHandler.HandleEdit)
			r.Delete("/{id}", deleteHandler.HandleDelete)
			r.Post("/{id}/like", interactionHandler.HandleLike)
			r.Post("/{id}/ratings", interactionHandler.HandleRate)
			r.Post("/{id}/comments", interactionHandler.HandleComment)
			r.Post("/{id}/comments/{commentId}/replies", interactionHandler.HandleReply)
			r.Post("/{id}/comments/{commentId}/reactions", interactionHandler.HandleReact)
		})
	})
}
