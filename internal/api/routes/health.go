package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"Quill/internal/api/handlers"
	"Quill/internal/docstore"
)

// RegisterHealthRoutes registers GET /health. The store is probed with a
// single document read.
func RegisterHealthRoutes(r chi.Router, store docstore.Store) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := store.Get(ctx, docstore.Join("health", "probe")); err != nil {
			handlers.WriteError(w, http.StatusServiceUnavailable, "Unavailable", "Document store unreachable")
			return
		}
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
