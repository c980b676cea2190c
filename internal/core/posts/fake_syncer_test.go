package posts

import (
	"context"
	"fmt"
	"sync"
)

// fakeSyncer is an in-memory Syncer. Hooks allow tests to observe or fail
// individual remote steps.
type fakeSyncer struct {
	posts map[string]*Post
	subs  map[string]map[int]func(*Post, error)

	commitErr    error
	removeErr    error
	beforeCommit func(postID string)

	commits int
	loads   int
	nextSub int
	nextID  int
	mu      sync.Mutex
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		posts: make(map[string]*Post),
		subs:  make(map[string]map[int]func(*Post, error)),
	}
}

func (f *fakeSyncer) put(id string, p *Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = p.Clone()
	p.ID = id
	f.posts[id] = p
}

func (f *fakeSyncer) get(id string) *Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[id].Clone()
}

// push delivers the stored post to every subscriber, as a remote change would
func (f *fakeSyncer) push(id string) {
	f.mu.Lock()
	post := f.posts[id].Clone()
	subs := make([]func(*Post, error), 0, len(f.subs[id]))
	for _, fn := range f.subs[id] {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(post.Clone(), nil)
	}
}

func (f *fakeSyncer) subscribers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}

func (f *fakeSyncer) Load(ctx context.Context, postID string) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	p, ok := f.posts[postID]
	if !ok {
		return nil, NewNotFoundError("post", postID)
	}
	return p.Clone(), nil
}

func (f *fakeSyncer) Subscribe(ctx context.Context, postID string, fn func(*Post, error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[postID] == nil {
		f.subs[postID] = make(map[int]func(*Post, error))
	}
	id := f.nextSub
	f.nextSub++
	f.subs[postID][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[postID], id)
	}, nil
}

func (f *fakeSyncer) Commit(ctx context.Context, postID string, fn MutateFunc) (*Post, error) {
	if f.beforeCommit != nil {
		f.beforeCommit(postID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	current, ok := f.posts[postID]
	if !ok {
		return nil, NewNotFoundError("post", postID)
	}
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	f.posts[postID] = next.Clone()
	return next.Clone(), nil
}

func (f *fakeSyncer) Create(ctx context.Context, post *Post) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("post-%03d", f.nextID)
	p := post.Clone()
	p.ID = id
	f.posts[id] = p
	return id, nil
}

func (f *fakeSyncer) Remove(ctx context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.posts, postID)
	return nil
}

func (f *fakeSyncer) List(ctx context.Context) ([]*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Post, 0, len(f.posts))
	for _, p := range f.posts {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (f *fakeSyncer) ListByAuthor(ctx context.Context, authorID string) ([]*Post, error) {
	all, _ := f.List(ctx)
	var out []*Post
	for _, p := range all {
		if p.AuthorID == authorID {
			out = append(out, p)
		}
	}
	return out, nil
}

// sequenceIDs is a deterministic ids.Generator
type sequenceIDs struct {
	prefix string
	n      int
	mu     sync.Mutex
}

func (s *sequenceIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s%04d", s.prefix, s.n)
}

// staticIdentity is a settable IdentitySource
type staticIdentity struct {
	user      *Actor
	listeners []func(*Actor)
	mu        sync.Mutex
}

func (s *staticIdentity) CurrentUser() *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *staticIdentity) OnUserChanged(fn func(*Actor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[idx] = nil
	}
}

func (s *staticIdentity) set(user *Actor) {
	s.mu.Lock()
	s.user = user
	listeners := append([]func(*Actor){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(user)
		}
	}
}
