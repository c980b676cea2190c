package posts

import (
	"context"
	"sync"
)

// SessionUpdate is an aggregate update annotated for the signed-in viewer
type SessionUpdate struct {
	Update
	Viewer  *Actor
	CanEdit bool
}

// Session binds an aggregate to the identity of one client. Intents run as the
// current user, and observers are re-notified when the user signs in or out so
// ownership-dependent controls follow.
type Session struct {
	agg      *Aggregate
	identity IdentitySource

	mu        sync.Mutex
	observers []func(SessionUpdate)
	stop      []func()
	closed    bool
}

// NewSession attaches identity to agg. The session does not own agg: Close
// detaches the session but leaves the aggregate open.
func NewSession(agg *Aggregate, identity IdentitySource) *Session {
	s := &Session{agg: agg, identity: identity}
	s.stop = append(s.stop,
		agg.Watch(s.forward),
		identity.OnUserChanged(func(*Actor) {
			s.forward(Update{Post: agg.View(), Deleted: agg.Deleted()})
		}),
	)
	return s
}

// Aggregate returns the underlying aggregate
func (s *Session) Aggregate() *Aggregate {
	return s.agg
}

// Viewer returns the signed-in user, nil when signed out
func (s *Session) Viewer() *Actor {
	return s.identity.CurrentUser()
}

// CanEdit reports whether the signed-in user owns the post
func (s *Session) CanEdit() bool {
	viewer := s.identity.CurrentUser()
	post := s.agg.View()
	return viewer != nil && post != nil && post.IsAuthor(viewer.ID)
}

// Watch registers fn for every update of the post and every identity change
func (s *Session) Watch(fn func(SessionUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Like likes the post as the current user
func (s *Session) Like(ctx context.Context) (*Post, error) {
	return s.agg.Like(ctx, s.identity.CurrentUser())
}

// Rate adds a 1-5 rating as the current user
func (s *Session) Rate(ctx context.Context, value int) (*Post, error) {
	return s.agg.Rate(ctx, s.identity.CurrentUser(), value)
}

// AddComment appends a top-level comment by the current user
func (s *Session) AddComment(ctx context.Context, text string) (*Post, error) {
	return s.agg.AddComment(ctx, s.identity.CurrentUser(), text)
}

// AddReply replies to the comment parentID at any depth
func (s *Session) AddReply(ctx context.Context, parentID, text string) (*Post, error) {
	return s.agg.AddReply(ctx, s.identity.CurrentUser(), parentID, text)
}

// React likes or dislikes the comment commentID
func (s *Session) React(ctx context.Context, commentID string, reaction Reaction) (*Post, error) {
	return s.agg.React(ctx, s.identity.CurrentUser(), commentID, reaction)
}

// Edit changes title and content; only the author may edit
func (s *Session) Edit(ctx context.Context, req EditPostRequest) (*Post, error) {
	return s.agg.Edit(ctx, s.identity.CurrentUser(), req)
}

// Delete removes the post; only the author may delete
func (s *Session) Delete(ctx context.Context) error {
	return s.agg.Delete(ctx, s.identity.CurrentUser())
}

// Close detaches the session from the aggregate and the identity source
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stop
	s.stop = nil
	s.observers = nil
	s.mu.Unlock()
	for _, fn := range stop {
		fn()
	}
}

func (s *Session) forward(upd Update) {
	viewer := s.identity.CurrentUser()
	out := SessionUpdate{
		Update:  upd,
		Viewer:  viewer,
		CanEdit: viewer != nil && upd.Post != nil && upd.Post.IsAuthor(viewer.ID),
	}
	s.mu.Lock()
	observers := append([]func(SessionUpdate){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(out)
	}
}
