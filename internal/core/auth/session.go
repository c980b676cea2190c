package auth

import (
	"context"
	"sync"

	"Quill/internal/core/posts"
)

// Session is the client-side view of the provider: it remembers the signed-in
// user and token and tells listeners when either changes.
type Session struct {
	provider  Provider
	user      *User
	listeners map[int]func(*posts.Actor)
	token     string
	nextID    int
	mu        sync.Mutex
}

var _ posts.IdentitySource = (*Session)(nil)

// NewSession creates a signed-out session
func NewSession(provider Provider) *Session {
	return &Session{provider: provider, listeners: make(map[int]func(*posts.Actor))}
}

// Resume restores a session from a previously issued token
func (s *Session) Resume(ctx context.Context, token string) error {
	claims, err := s.provider.Verify(ctx, token)
	if err != nil {
		return err
	}
	user, err := s.provider.GetUser(ctx, claims.Subject)
	if err != nil {
		return err
	}
	s.set(user, token)
	return nil
}

// Register creates an account and signs it in
func (s *Session) Register(ctx context.Context, email, password string) (*User, error) {
	res, err := s.provider.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.set(res.User, res.Token)
	return res.User, nil
}

// Login signs in with credentials
func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	res, err := s.provider.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.set(res.User, res.Token)
	return res.User, nil
}

// Logout revokes the current token and signs out
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return ErrNotSignedIn
	}
	if err := s.provider.Logout(ctx, token); err != nil {
		return err
	}
	s.set(nil, "")
	return nil
}

// Token returns the current access token, empty when signed out
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// CurrentUser returns the signed-in user as a post actor
func (s *Session) CurrentUser() *posts.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return actorOf(s.user)
}

// OnUserChanged registers fn for sign-in and sign-out
func (s *Session) OnUserChanged(fn func(*posts.Actor)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) set(user *User, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	actor := actorOf(user)
	listeners := make([]func(*posts.Actor), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(actor)
	}
}

func actorOf(user *User) *posts.Actor {
	if user == nil {
		return nil
	}
	return &posts.Actor{ID: user.ID, Email: user.Email}
}
