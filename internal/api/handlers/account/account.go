package account

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"Quill/internal/api/handlers"
	"Quill/internal/api/middleware"
	"Quill/internal/core/auth"
)

// CredentialsInput is the body of register and login
type CredentialsInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView is the public shape of an account; the password hash never leaves
// the server
type UserView struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Email     string    `json:"email"`
}

// SessionResponse is returned by register and login
type SessionResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
	Token     string    `json:"token"`
}

// Handler serves the account endpoints
type Handler struct {
	provider auth.Provider
	cookies  sessions.Store
}

// NewHandler creates the account handler. cookies may be nil, in which case
// clients must keep the returned bearer token themselves.
func NewHandler(provider auth.Provider, cookies sessions.Store) *Handler {
	return &Handler{provider: provider, cookies: cookies}
}

// HandleRegister creates an account and signs it in
// POST /api/account/register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in CredentialsInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	res, err := h.provider.Register(r.Context(), in.Email, in.Password)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	h.signIn(w, r, http.StatusCreated, res)
}

// HandleLogin signs in with email and password
// POST /api/account/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in CredentialsInput
	if !handlers.DecodeJSON(w, r, &in) {
		return
	}
	res, err := h.provider.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	h.signIn(w, r, http.StatusOK, res)
}

// HandleLogout revokes the caller's token and clears the session cookie
// POST /api/account/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.Logout(r.Context(), middleware.GetUserAccessToken(r)); err != nil {
		handleAuthError(w, err)
		return
	}
	if h.cookies != nil {
		if err := middleware.ClearSessionToken(w, r, h.cookies); err != nil {
			log.Printf("Failed to clear session cookie: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the signed-in user
// GET /api/account/me
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}
	user, err := h.provider.GetUser(r.Context(), actor.ID)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, viewOf(user))
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, status int, res *auth.Result) {
	if h.cookies != nil {
		if err := middleware.SaveSessionToken(w, r, h.cookies, res.Token, time.Until(res.ExpiresAt)); err != nil {
			log.Printf("Failed to save session cookie: %v", err)
		}
	}
	handlers.WriteJSON(w, status, SessionResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      viewOf(res.User),
	})
}

func viewOf(user *auth.User) UserView {
	return UserView{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt}
}

// handleAuthError maps provider errors to HTTP responses
func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailInUse):
		handlers.WriteError(w, http.StatusConflict, "EmailInUse", "An account with this email already exists")
	case auth.IsWeakPassword(err), auth.IsInvalidEmail(err):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		handlers.WriteError(w, http.StatusUnauthorized, "InvalidCredentials", "Invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken):
		handlers.WriteError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid or expired token")
	case errors.Is(err, auth.ErrUserNotFound):
		handlers.WriteError(w, http.StatusNotFound, "UserNotFound", "User not found")
	default:
		log.Printf("Unexpected error in account handler: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
