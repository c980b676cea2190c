package posts

import "context"

// MutateFunc applies one logical mutation to a post and returns the result.
// It must be pure: the same mutation is applied to the local view and again to
// the freshly fetched remote document.
type MutateFunc func(current *Post) (*Post, error)

// Service defines the presentation-facing interface for posts
type Service interface {
	// CreatePost validates the request and pushes a new post owned by actor
	CreatePost(ctx context.Context, actor *Actor, req CreatePostRequest) (*Post, error)

	// GetPost reads the current remote state of one post
	GetPost(ctx context.Context, postID string) (*Post, error)

	// ListPosts returns every post, newest first
	ListPosts(ctx context.Context) ([]*Post, error)

	// ListByAuthor returns the posts owned by authorID, newest first
	ListByAuthor(ctx context.Context, authorID string) ([]*Post, error)

	// Open returns the shared live aggregate of a post and a release func.
	// The subscription behind it is torn down on the last release.
	Open(ctx context.Context, postID string) (*Aggregate, func(), error)

	// One-shot intents: open, apply, release
	EditPost(ctx context.Context, actor *Actor, postID string, req EditPostRequest) (*Post, error)
	DeletePost(ctx context.Context, actor *Actor, postID string) error
	LikePost(ctx context.Context, actor *Actor, postID string) (*Post, error)
	RatePost(ctx context.Context, actor *Actor, postID string, value int) (*Post, error)
	AddComment(ctx context.Context, actor *Actor, postID, text string) (*Post, error)
	AddReply(ctx context.Context, actor *Actor, postID, parentID, text string) (*Post, error)
	ReactToComment(ctx context.Context, actor *Actor, postID, commentID string, reaction Reaction) (*Post, error)
}

// Syncer is the remote side of a post: the bridge between aggregates and the
// document store. Implemented by realtime.SyncAdapter.
type Syncer interface {
	// Load reads one post. Returns a NotFoundError when absent.
	Load(ctx context.Context, postID string) (*Post, error)

	// Subscribe delivers full replacement snapshots of the post until the
	// returned cancel func is called or ctx ends. A nil post with a nil error
	// means the post was removed.
	Subscribe(ctx context.Context, postID string, fn func(*Post, error)) (func(), error)

	// Commit fetches the remote post, applies fn and writes back the changed fields
	Commit(ctx context.Context, postID string, fn MutateFunc) (*Post, error)

	// Create stores a new post and returns its assigned id
	Create(ctx context.Context, post *Post) (string, error)

	// Remove deletes a post
	Remove(ctx context.Context, postID string) error

	// List returns every stored post
	List(ctx context.Context) ([]*Post, error)

	// ListByAuthor returns the posts whose authorId equals authorID
	ListByAuthor(ctx context.Context, authorID string) ([]*Post, error)
}

// IdentitySource reports the signed-in user of a client session.
// Implemented by auth.Session.
type IdentitySource interface {
	// CurrentUser returns the signed-in actor, nil when signed out
	CurrentUser() *Actor

	// OnUserChanged registers fn for sign-in and sign-out events
	OnUserChanged(fn func(*Actor)) func()
}
