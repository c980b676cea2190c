package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"

	"Quill/internal/core/auth"
	"Quill/internal/core/posts"
)

// Context keys for storing user information
type contextKey string

const (
	ActorKey        contextKey = "actor"
	UserAccessToken contextKey = "user_access_token"
)

var errNoCredentials = errors.New("no credentials")

// TokenVerifier checks access tokens. Implemented by auth.Provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware authenticates requests by bearer token or, for browsers,
// by the token kept in the session cookie
type AuthMiddleware struct {
	verifier TokenVerifier
	cookies  sessions.Store
}

// NewAuthMiddleware creates the auth middleware. cookies may be nil to accept
// bearer tokens only.
func NewAuthMiddleware(verifier TokenVerifier, cookies sessions.Store) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, cookies: cookies}
}

// RequireAuth rejects unauthenticated requests with 401 and injects the actor
// and access token into the context otherwise
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, token, err := m.authenticate(r)
		switch {
		case errors.Is(err, errNoCredentials):
			writeAuthError(w, "Missing Authorization header or session")
			return
		case err != nil:
			log.Printf("[AUTH_FAILURE] ip=%s method=%s path=%s error=%v",
				getClientIP(r), r.Method, r.URL.Path, err)
			writeAuthError(w, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor, token)))
	})
}

// OptionalAuth loads the actor when credentials are present and valid, and
// continues anonymously otherwise
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, token, err := m.authenticate(r)
		if err != nil {
			if !errors.Is(err, errNoCredentials) {
				log.Printf("Optional auth failed: %v", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor, token)))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*posts.Actor, string, error) {
	var token string
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return nil, "", errors.New("invalid Authorization header format, expected: Bearer <token>")
		}
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if m.cookies != nil {
		token = SessionToken(r, m.cookies)
	}
	if token == "" {
		return nil, "", errNoCredentials
	}

	claims, err := m.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, "", err
	}
	if claims.Subject == "" {
		return nil, "", errors.New("missing subject in token")
	}
	return &posts.Actor{ID: claims.Subject, Email: claims.Email}, token, nil
}

func withActor(ctx context.Context, actor *posts.Actor, token string) context.Context {
	ctx = context.WithValue(ctx, ActorKey, actor)
	return context.WithValue(ctx, UserAccessToken, token)
}

// GetActor returns the authenticated actor, nil for anonymous requests
func GetActor(r *http.Request) *posts.Actor {
	return GetActorFromContext(r.Context())
}

// GetActorFromContext returns the authenticated actor stored in ctx
func GetActorFromContext(ctx context.Context) *posts.Actor {
	actor, _ := ctx.Value(ActorKey).(*posts.Actor)
	return actor
}

// GetUserAccessToken extracts the user's access token from the request context
// Returns empty string if not authenticated
func GetUserAccessToken(r *http.Request) string {
	token, _ := r.Context().Value(UserAccessToken).(string)
	return token
}

// SetTestActor sets the actor in the context for testing purposes
// This function should ONLY be used in tests to mock authenticated users
func SetTestActor(ctx context.Context, actor *posts.Actor) context.Context {
	return withActor(ctx, actor, "test-token")
}

// writeAuthError writes a JSON error response for authentication failures
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "AuthenticationRequired",
		"message": message,
	}); err != nil {
		log.Printf("Failed to write auth error response: %v", err)
	}
}
