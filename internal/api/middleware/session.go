package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName is the cookie holding the browser session
	SessionCookieName = "quill_session"

	// MinCookieSecretLength is the minimum length of the cookie signing secret
	MinCookieSecretLength = 32

	sessionTokenKey = "token"
)

// NewCookieStore creates the signed cookie store for browser sessions
func NewCookieStore(secret string, secure bool) (*sessions.CookieStore, error) {
	if len(secret) < MinCookieSecretLength {
		return nil, fmt.Errorf("SESSION_COOKIE_SECRET must be at least %d bytes", MinCookieSecretLength)
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store, nil
}

// SaveSessionToken stores token in the session cookie for ttl
func SaveSessionToken(w http.ResponseWriter, r *http.Request, store sessions.Store, token string, ttl time.Duration) error {
	session, err := store.Get(r, SessionCookieName)
	if err != nil {
		// a cookie signed with an old secret: start over
		log.Printf("Discarding unreadable session cookie: %v", err)
	}
	session.Values[sessionTokenKey] = token
	if ttl > 0 {
		session.Options.MaxAge = int(ttl.Seconds())
	}
	return session.Save(r, w)
}

// ClearSessionToken expires the session cookie
func ClearSessionToken(w http.ResponseWriter, r *http.Request, store sessions.Store) error {
	session, _ := store.Get(r, SessionCookieName)
	delete(session.Values, sessionTokenKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// SessionToken returns the token kept in the session cookie, empty if none
func SessionToken(r *http.Request, store sessions.Store) string {
	session, err := store.Get(r, SessionCookieName)
	if err != nil {
		return ""
	}
	token, _ := session.Values[sessionTokenKey].(string)
	return token
}
