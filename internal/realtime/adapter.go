// Package realtime bridges post aggregates and the document store: it loads
// and decodes post documents, runs fetch-patch-write commits and fans out
// store change streams to local subscribers.
package realtime

import (
	"Quill/internal/core/posts"
	"Quill/internal/docstore"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// PostsPath is the store path holding every post document
	PostsPath = "posts"

	defaultCacheSize   = 1000
	defaultMaxAttempts = 5
)

// SyncAdapter implements posts.Syncer on top of a docstore.Store
type SyncAdapter struct {
	store       docstore.Store
	logger      *slog.Logger
	latest      *lru.Cache[string, *posts.Post] // newest snapshot per subscribed post
	feeds       map[string]*feed
	maxAttempts int
	cacheSize   int
	atomic      bool
	mu          sync.Mutex
}

var _ posts.Syncer = (*SyncAdapter)(nil)

// Option configures a SyncAdapter
type Option func(*SyncAdapter)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *SyncAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTransactions makes Commit use compare-and-swap transactions when the
// store implements docstore.Transactor. Conflicting commits are retried.
func WithTransactions(enabled bool) Option {
	return func(a *SyncAdapter) {
		a.atomic = enabled
	}
}

// WithMaxAttempts bounds the attempts of a transactional commit
func WithMaxAttempts(n int) Option {
	return func(a *SyncAdapter) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithCacheSize bounds the number of retained post snapshots
func WithCacheSize(n int) Option {
	return func(a *SyncAdapter) {
		if n > 0 {
			a.cacheSize = n
		}
	}
}

// NewSyncAdapter creates an adapter over store
func NewSyncAdapter(store docstore.Store, opts ...Option) *SyncAdapter {
	a := &SyncAdapter{
		store:       store,
		logger:      slog.Default(),
		feeds:       make(map[string]*feed),
		maxAttempts: defaultMaxAttempts,
		cacheSize:   defaultCacheSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	cache, err := lru.New[string, *posts.Post](a.cacheSize)
	if err != nil {
		a.logger.Warn("failed to create snapshot cache, using minimal cache", "error", err)
		cache, _ = lru.New[string, *posts.Post](1)
	}
	a.latest = cache
	return a
}

// Transactional reports whether commits run as compare-and-swap transactions
func (a *SyncAdapter) Transactional() bool {
	_, ok := a.store.(docstore.Transactor)
	return a.atomic && ok
}

// Load reads and decodes one post
func (a *SyncAdapter) Load(ctx context.Context, postID string) (*posts.Post, error) {
	path, err := postPath(postID)
	if err != nil {
		return nil, err
	}
	snap, err := a.store.Get(ctx, path)
	if err != nil {
		return nil, posts.NewRemoteFailure("load", err)
	}
	if !snap.Exists() {
		return nil, posts.NewNotFoundError("post", postID)
	}
	post, err := decodePost(snap)
	if err != nil {
		a.logger.Warn("malformed post document", "post_id", postID, "error", err)
		return nil, posts.NewRemoteFailure("decode", err)
	}
	return post, nil
}

// Commit runs fetch-patch-write: read the remote post, apply fn, write back
// only the fields fn changed. With transactions enabled the whole document is
// written under compare-and-swap instead.
func (a *SyncAdapter) Commit(ctx context.Context, postID string, fn posts.MutateFunc) (*posts.Post, error) {
	if a.Transactional() {
		return a.commitTx(ctx, postID, fn)
	}

	current, err := a.Load(ctx, postID)
	if err != nil {
		return nil, err
	}
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	patch, err := diffFields(current, next)
	if err != nil {
		return nil, posts.NewRemoteFailure("encode", err)
	}
	if len(patch) == 0 {
		return next, nil
	}

	path, _ := postPath(postID)
	if err := a.store.Update(ctx, path, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			// removed between the fetch and the write
			return nil, posts.NewNotFoundError("post", postID)
		}
		return nil, posts.NewRemoteFailure("commit", err)
	}
	a.logger.Debug("post patched", "post_id", postID, "fields", len(patch))
	next.ID = postID
	return next, nil
}

func (a *SyncAdapter) commitTx(ctx context.Context, postID string, fn posts.MutateFunc) (*posts.Post, error) {
	path, err := postPath(postID)
	if err != nil {
		return nil, err
	}
	tx := a.store.(docstore.Transactor)

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		var next *posts.Post
		_, err := tx.Transaction(ctx, path, func(snap *docstore.Snapshot) (any, error) {
			if !snap.Exists() {
				return nil, posts.NewNotFoundError("post", postID)
			}
			current, err := decodePost(snap)
			if err != nil {
				return nil, posts.NewRemoteFailure("decode", err)
			}
			next, err = fn(current)
			if err != nil {
				return nil, err
			}
			return encodeDocument(next)
		})
		if err == nil {
			next.ID = postID
			return next, nil
		}
		if !errors.Is(err, docstore.ErrVersionConflict) {
			return nil, posts.NewRemoteFailure("commit", err)
		}
		lastErr = err
		a.logger.Debug("commit conflict, retrying", "post_id", postID, "attempt", attempt)
	}
	return nil, posts.NewRemoteFailure("commit", fmt.Errorf("%d attempts: %w", a.maxAttempts, lastErr))
}

// Create pushes a new post document and returns its key
func (a *SyncAdapter) Create(ctx context.Context, post *posts.Post) (string, error) {
	doc, err := encodeDocument(post)
	if err != nil {
		return "", posts.NewRemoteFailure("encode", err)
	}
	id, err := a.store.Push(ctx, PostsPath, doc)
	if err != nil {
		return "", posts.NewRemoteFailure("create", err)
	}
	return id, nil
}

// Remove deletes a post document
func (a *SyncAdapter) Remove(ctx context.Context, postID string) error {
	path, err := postPath(postID)
	if err != nil {
		return err
	}
	if err := a.store.Remove(ctx, path); err != nil {
		return posts.NewRemoteFailure("remove", err)
	}
	return nil
}

// List decodes every post document. Malformed documents are skipped and logged.
func (a *SyncAdapter) List(ctx context.Context) ([]*posts.Post, error) {
	snap, err := a.store.Get(ctx, PostsPath)
	if err != nil {
		return nil, posts.NewRemoteFailure("list", err)
	}
	children, err := snap.Children()
	if err != nil {
		return nil, posts.NewRemoteFailure("list", err)
	}
	return a.decodeAll(children), nil
}

// ListByAuthor queries the posts whose authorId equals authorID
func (a *SyncAdapter) ListByAuthor(ctx context.Context, authorID string) ([]*posts.Post, error) {
	children, err := a.store.Query(ctx, PostsPath, "authorId", authorID)
	if err != nil {
		return nil, posts.NewRemoteFailure("query", err)
	}
	return a.decodeAll(children), nil
}

func (a *SyncAdapter) decodeAll(children []*docstore.Snapshot) []*posts.Post {
	out := make([]*posts.Post, 0, len(children))
	for _, child := range children {
		post, err := decodePost(child)
		if err != nil {
			a.logger.Warn("skipping malformed post document", "post_id", child.Key, "error", err)
			continue
		}
		out = append(out, post)
	}
	return out
}

func postPath(postID string) (string, error) {
	if strings.TrimSpace(postID) == "" || strings.Contains(postID, "/") {
		return "", posts.NewValidationError("id", "invalid post id")
	}
	return docstore.Join(PostsPath, postID), nil
}
