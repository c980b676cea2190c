package posts

import (
	"Quill/internal/core/ids"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Update is delivered to aggregate observers after every change of the
// observable post: optimistic applies, commits, rollbacks and remote pushes.
type Update struct {
	Err      error         // Divergence or remote stream error, nil otherwise
	Post     *Post         // Observable state after the change, nil once deleted
	Mutation *MutationInfo // Nil for remote pushes
	Deleted  bool
}

// Aggregate is the live, client-side state of one post.
//
// It holds the last confirmed remote state plus an ordered list of pending
// optimistic mutations. The observable view is the confirmed state with the
// pending mutations replayed on top, so dropping a mutation is a rollback.
// State is guarded by a mutex that is never held across store calls: commits
// of independent intents run concurrently and the last write wins.
type Aggregate struct {
	syncer Syncer
	ids    ids.Generator
	logger *slog.Logger
	now    func() time.Time
	postID string

	observers  map[int]func(Update)
	confirmed  *Post
	view       *Post
	cancelSub  func()
	pending    []*mutation
	observerID int
	closed     bool
	deleted    bool

	mu        sync.Mutex
	deliverMu sync.Mutex
	closeOnce sync.Once
}

// AggregateOption configures an Aggregate
type AggregateOption func(*Aggregate)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) AggregateOption {
	return func(a *Aggregate) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithIDGenerator sets the generator used for comment and mutation ids
func WithIDGenerator(gen ids.Generator) AggregateOption {
	return func(a *Aggregate) {
		if gen != nil {
			a.ids = gen
		}
	}
}

// WithClock overrides time.Now for createdAt and updatedAt stamps
func WithClock(now func() time.Time) AggregateOption {
	return func(a *Aggregate) {
		if now != nil {
			a.now = now
		}
	}
}

// OpenAggregate loads postID and subscribes to its remote changes.
// Returns a NotFoundError when the post does not exist.
func OpenAggregate(ctx context.Context, syncer Syncer, postID string, opts ...AggregateOption) (*Aggregate, error) {
	a := &Aggregate{
		syncer:    syncer,
		postID:    postID,
		observers: make(map[int]func(Update)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ids == nil {
		a.ids = ids.NewSessionGenerator()
	}

	post, err := syncer.Load(ctx, postID)
	if err != nil {
		return nil, NewRemoteFailure("load", err)
	}
	post.ID = postID
	a.confirmed = post
	a.view = post

	// Load before subscribing: the stream's initial snapshot closes any gap.
	cancel, err := syncer.Subscribe(context.WithoutCancel(ctx), postID, a.onRemote)
	if err != nil {
		return nil, NewRemoteFailure("subscribe", err)
	}
	a.mu.Lock()
	a.cancelSub = cancel
	closed := a.closed
	a.mu.Unlock()
	if closed {
		// Deleted remotely before the subscription was recorded
		cancel()
	}
	return a, nil
}

// ID returns the post id
func (a *Aggregate) ID() string {
	return a.postID
}

// View returns a copy of the observable post, nil once deleted
func (a *Aggregate) View() *Post {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.Clone()
}

// Confirmed returns a copy of the last remote state adopted as truth
func (a *Aggregate) Confirmed() *Post {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmed.Clone()
}

// Pending returns the number of optimistic mutations awaiting their commit
func (a *Aggregate) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Deleted reports whether the post was removed
func (a *Aggregate) Deleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleted
}

// Watch registers fn for every update. Updates are delivered in order, one at
// a time; fn must not issue intents on the same aggregate synchronously.
func (a *Aggregate) Watch(fn func(Update)) func() {
	_, cancel := a.Follow(fn)
	return cancel
}

// Follow is Watch that also returns the observable post at registration.
// Every update after that snapshot reaches fn.
func (a *Aggregate) Follow(fn func(Update)) (*Post, func()) {
	a.mu.Lock()
	id := a.observerID
	a.observerID++
	a.observers[id] = fn
	current := a.view.Clone()
	a.mu.Unlock()

	var once sync.Once
	return current, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.observers, id)
			a.mu.Unlock()
		})
	}
}

// Like adds one like to the post
func (a *Aggregate) Like(ctx context.Context, actor *Actor) (*Post, error) {
	if err := requireActor(actor, "like post"); err != nil {
		return nil, err
	}
	return a.apply(ctx, MutationLike, LikeMutation())
}

// Rate appends a 1..5 star rating
func (a *Aggregate) Rate(ctx context.Context, actor *Actor, value int) (*Post, error) {
	if err := requireActor(actor, "rate post"); err != nil {
		return nil, err
	}
	if value < MinRating || value > MaxRating {
		return nil, NewInvalidRatingError(value)
	}
	return a.apply(ctx, MutationRate, RateMutation(value))
}

// AddComment appends a top-level comment authored by actor
func (a *Aggregate) AddComment(ctx context.Context, actor *Actor, text string) (*Post, error) {
	if err := requireActor(actor, "add comment"); err != nil {
		return nil, err
	}
	if err := ValidateCommentText(text); err != nil {
		return nil, err
	}
	return a.apply(ctx, MutationComment, CommentMutation(a.newComment(actor, text)))
}

// AddReply appends a reply under the comment identified by parentID.
// Returns ErrParentNotFound without touching local state when the parent is unknown.
func (a *Aggregate) AddReply(ctx context.Context, actor *Actor, parentID, text string) (*Post, error) {
	if err := requireActor(actor, "add reply"); err != nil {
		return nil, err
	}
	if err := ValidateCommentText(text); err != nil {
		return nil, err
	}
	return a.apply(ctx, MutationReply, ReplyMutation(parentID, a.newComment(actor, text)))
}

// React increments the like or dislike counter of one comment
func (a *Aggregate) React(ctx context.Context, actor *Actor, commentID string, reaction Reaction) (*Post, error) {
	if err := requireActor(actor, "react to comment"); err != nil {
		return nil, err
	}
	if !reaction.Valid() {
		return nil, NewValidationError("reaction", "must be like or dislike")
	}
	return a.apply(ctx, MutationReact, ReactMutation(commentID, reaction))
}

// Edit replaces title and content. Only the author may edit.
func (a *Aggregate) Edit(ctx context.Context, actor *Actor, req EditPostRequest) (*Post, error) {
	if err := requireActor(actor, "edit post"); err != nil {
		return nil, err
	}
	if err := ValidateTitleContent(req.Title, req.Content); err != nil {
		return nil, err
	}
	return a.apply(ctx, MutationEdit, EditMutation(actor.ID, req, a.now()))
}

// Delete removes the post. Only the author may delete; the removal is not
// optimistic and the aggregate is closed once it succeeds.
func (a *Aggregate) Delete(ctx context.Context, actor *Actor) error {
	if err := requireActor(actor, "delete post"); err != nil {
		return err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	owner := a.view.IsAuthor(actor.ID)
	a.mu.Unlock()
	if !owner {
		return NewAuthorizationError("delete post", actor.ID)
	}

	if err := a.syncer.Remove(ctx, a.postID); err != nil {
		a.logger.Error("failed to delete post", "post_id", a.postID, "error", err)
		return NewRemoteFailure("remove", err)
	}
	a.logger.Info("post deleted", "post_id", a.postID, "actor", actor.ID)
	a.markDeleted()
	return nil
}

// Close tears down the remote subscription. Commits still in flight complete
// but their results are discarded. Safe to call more than once.
func (a *Aggregate) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		cancel := a.cancelSub
		a.cancelSub = nil
		a.observers = make(map[int]func(Update))
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// apply runs the optimistic protocol for one mutation:
// local apply and notify, remote fetch-patch-write, then reconcile or roll back.
func (a *Aggregate) apply(ctx context.Context, kind MutationKind, fn MutateFunc) (*Post, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	next, err := fn(a.view)
	if err != nil {
		// invalid against the local view: nothing applied, nothing to roll back
		a.mu.Unlock()
		return nil, err
	}
	m := &mutation{id: a.ids.Next(), kind: kind, apply: fn}
	a.pending = append(a.pending, m)
	a.view = next
	a.deliverLocked(Update{
		Post:     a.view.Clone(),
		Mutation: &MutationInfo{ID: m.id, Kind: kind, State: MutationPending},
	})

	remote, err := a.syncer.Commit(ctx, a.postID, fn)
	if err != nil {
		err = NewRemoteFailure("commit", err)
		a.logger.Warn("commit failed, rolling back",
			"post_id", a.postID, "mutation", m.id, "kind", kind, "error", err)
		a.mu.Lock()
		a.dropLocked(m)
		if a.closed {
			a.mu.Unlock()
			return nil, err
		}
		a.recomputeLocked()
		a.deliverLocked(Update{
			Post:     a.view.Clone(),
			Err:      err,
			Mutation: &MutationInfo{ID: m.id, Kind: kind, State: MutationRolledBack, Err: err},
		})
		return nil, err
	}

	// Adopt a fresh read as truth rather than the optimistic guess
	fresh, err := a.syncer.Load(ctx, a.postID)
	if err != nil {
		a.logger.Warn("reload after commit failed, adopting commit result",
			"post_id", a.postID, "mutation", m.id, "error", err)
		fresh = remote
	}

	a.mu.Lock()
	a.dropLocked(m)
	if a.closed {
		a.mu.Unlock()
		return fresh, nil
	}
	if fresh != nil {
		fresh.ID = a.postID
		a.confirmed = fresh
	}
	a.recomputeLocked()
	result := a.view.Clone()
	a.deliverLocked(Update{
		Post:     result.Clone(),
		Mutation: &MutationInfo{ID: m.id, Kind: kind, State: MutationCommitted},
	})
	return result, nil
}

// onRemote receives pushes from the sync adapter
func (a *Aggregate) onRemote(post *Post, err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if err != nil {
		a.logger.Warn("remote stream error", "post_id", a.postID, "error", err)
		a.deliverLocked(Update{Post: a.view.Clone(), Err: NewRemoteFailure("subscribe", err)})
		return
	}
	if post == nil {
		a.mu.Unlock()
		a.markDeleted()
		return
	}
	post.ID = a.postID
	a.confirmed = post
	a.recomputeLocked()
	a.deliverLocked(Update{Post: a.view.Clone()})
}

func (a *Aggregate) markDeleted() {
	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return
	}
	a.deleted = true
	a.closed = true
	a.confirmed = nil
	a.view = nil
	a.pending = nil
	a.deliverLocked(Update{Deleted: true})
	a.Close()
}

// recomputeLocked rebuilds the view from confirmed state and pending mutations.
// A pending mutation that no longer applies contributes nothing.
func (a *Aggregate) recomputeLocked() {
	view := a.confirmed
	for _, m := range a.pending {
		next, err := m.apply(view)
		if err != nil {
			a.logger.Debug("pending mutation no longer applies",
				"post_id", a.postID, "mutation", m.id, "error", err)
			continue
		}
		view = next
	}
	a.view = view
}

func (a *Aggregate) dropLocked(m *mutation) {
	a.pending = slices.DeleteFunc(a.pending, func(p *mutation) bool { return p == m })
}

// deliverLocked hands upd to the observers and releases a.mu. The delivery
// lock is taken before a.mu is released so updates keep their order.
func (a *Aggregate) deliverLocked(upd Update) {
	observers := make([]func(Update), 0, len(a.observers))
	for _, id := range slices.Sorted(maps.Keys(a.observers)) {
		observers = append(observers, a.observers[id])
	}
	a.deliverMu.Lock()
	a.mu.Unlock()
	defer a.deliverMu.Unlock()
	for _, fn := range observers {
		fn(upd)
	}
}

func (a *Aggregate) newComment(actor *Actor, text string) Comment {
	return Comment{
		ID:        a.ids.Next(),
		Text:      text,
		AuthorID:  actor.ID,
		CreatedAt: a.now().UTC(),
		Replies:   []Comment{},
	}
}

func requireActor(actor *Actor, action string) error {
	if actor == nil || actor.ID == "" {
		return NewAuthRequiredError(action)
	}
	return nil
}
