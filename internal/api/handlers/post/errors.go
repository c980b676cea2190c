package post

import (
	"errors"
	"log"
	"net/http"

	"Quill/internal/api/handlers"
	"Quill/internal/core/posts"
)

// handleServiceError maps service errors to HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case posts.IsAuthRequired(err):
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")

	case errors.Is(err, posts.ErrNotAuthorized):
		handlers.WriteError(w, http.StatusForbidden, "NotAuthorized",
			"Only the author can modify this post")

	case posts.IsValidationError(err):
		var valErr *posts.ValidationError
		errors.As(err, &valErr)
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", valErr.Error())

	case errors.Is(err, posts.ErrParentNotFound):
		handlers.WriteError(w, http.StatusNotFound, "ParentNotFound", "The comment being replied to does not exist")

	case errors.Is(err, posts.ErrNodeNotFound):
		handlers.WriteError(w, http.StatusNotFound, "CommentNotFound", "Comment not found")

	case posts.IsNotFound(err), errors.Is(err, posts.ErrClosed):
		handlers.WriteError(w, http.StatusNotFound, "PostNotFound", "Post not found")

	case posts.IsRemoteFailure(err):
		// the optimistic change was rolled back
		log.Printf("Post store failure: %v", err)
		handlers.WriteError(w, http.StatusBadGateway, "RemoteFailure",
			"The change could not be saved and was rolled back")

	default:
		// Don't leak internal error details to clients
		log.Printf("Unexpected error in post handler: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
	}
}

// viewerID returns the id of the authenticated actor, empty when anonymous
func viewerID(actor *posts.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
