package posts

import (
	"Quill/internal/core/ids"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

type postService struct {
	syncer Syncer
	ids    ids.Generator
	logger *slog.Logger
	now    func() time.Time
	open   map[string]*openAggregate
	mu     sync.Mutex
}

// openAggregate is a shared aggregate and the number of holders
type openAggregate struct {
	agg  *Aggregate
	refs int
}

// NewPostService creates a new post service.
// gen and logger may be nil; a session TID generator and slog.Default() are used.
func NewPostService(syncer Syncer, gen ids.Generator, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if gen == nil {
		gen = ids.NewSessionGenerator()
	}
	return &postService{
		syncer: syncer,
		ids:    gen,
		logger: logger,
		now:    time.Now,
		open:   make(map[string]*openAggregate),
	}
}

// CreatePost creates a post with likes=0, no ratings and no comments
func (s *postService) CreatePost(ctx context.Context, actor *Actor, req CreatePostRequest) (*Post, error) {
	if err := requireActor(actor, "create post"); err != nil {
		return nil, err
	}
	if err := ValidateTitleContent(req.Title, req.Content); err != nil {
		return nil, err
	}

	post := &Post{
		Title:     strings.TrimSpace(req.Title),
		Content:   strings.TrimSpace(req.Content),
		AuthorID:  actor.ID,
		CreatedAt: s.now().UTC(),
		Ratings:   Ledger{},
		Comments:  Tree{},
	}
	id, err := s.syncer.Create(ctx, post)
	if err != nil {
		s.logger.Error("failed to create post", "author", actor.ID, "error", err)
		return nil, NewRemoteFailure("create", err)
	}
	post.ID = id
	s.logger.Info("post created", "post_id", id, "author", actor.ID)
	return post, nil
}

// GetPost reads the current remote state of a post
func (s *postService) GetPost(ctx context.Context, postID string) (*Post, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, NewValidationError("id", "post id is required")
	}
	post, err := s.syncer.Load(ctx, postID)
	if err != nil {
		return nil, NewRemoteFailure("load", err)
	}
	post.ID = postID
	return post, nil
}

// ListPosts returns every post, newest first
func (s *postService) ListPosts(ctx context.Context) ([]*Post, error) {
	list, err := s.syncer.List(ctx)
	if err != nil {
		return nil, NewRemoteFailure("list", err)
	}
	sortNewestFirst(list)
	return list, nil
}

// ListByAuthor returns the posts of one author, newest first
func (s *postService) ListByAuthor(ctx context.Context, authorID string) ([]*Post, error) {
	if authorID == "" {
		return nil, NewValidationError("author", "author id is required")
	}
	list, err := s.syncer.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, NewRemoteFailure("list by author", err)
	}
	sortNewestFirst(list)
	return list, nil
}

// Open returns the shared aggregate of postID. Every successful Open must be
// paired with one call of the returned release func.
func (s *postService) Open(ctx context.Context, postID string) (*Aggregate, func(), error) {
	if strings.TrimSpace(postID) == "" {
		return nil, nil, NewValidationError("id", "post id is required")
	}

	s.mu.Lock()
	if held, ok := s.open[postID]; ok && !held.agg.Deleted() {
		held.refs++
		s.mu.Unlock()
		return held.agg, s.releaser(postID, held), nil
	}
	s.mu.Unlock()

	agg, err := OpenAggregate(ctx, s.syncer, postID,
		WithIDGenerator(s.ids), WithLogger(s.logger), WithClock(s.now))
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.open[postID]; ok && !held.agg.Deleted() {
		// Lost a race with a concurrent Open: share the winner
		agg.Close()
		held.refs++
		return held.agg, s.releaser(postID, held), nil
	}
	held := &openAggregate{agg: agg, refs: 1}
	s.open[postID] = held
	s.logger.Debug("aggregate opened", "post_id", postID)
	return agg, s.releaser(postID, held), nil
}

func (s *postService) releaser(postID string, held *openAggregate) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			held.refs--
			last := held.refs <= 0
			if last && s.open[postID] == held {
				delete(s.open, postID)
			}
			s.mu.Unlock()
			if last {
				held.agg.Close()
				s.logger.Debug("aggregate released", "post_id", postID)
			}
		})
	}
}

func (s *postService) EditPost(ctx context.Context, actor *Actor, postID string, req EditPostRequest) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.Edit(ctx, actor, req)
	})
}

func (s *postService) DeletePost(ctx context.Context, actor *Actor, postID string) error {
	_, err := s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return nil, agg.Delete(ctx, actor)
	})
	return err
}

func (s *postService) LikePost(ctx context.Context, actor *Actor, postID string) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.Like(ctx, actor)
	})
}

func (s *postService) RatePost(ctx context.Context, actor *Actor, postID string, value int) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.Rate(ctx, actor, value)
	})
}

func (s *postService) AddComment(ctx context.Context, actor *Actor, postID, text string) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.AddComment(ctx, actor, text)
	})
}

func (s *postService) AddReply(ctx context.Context, actor *Actor, postID, parentID, text string) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.AddReply(ctx, actor, parentID, text)
	})
}

func (s *postService) ReactToComment(ctx context.Context, actor *Actor, postID, commentID string, reaction Reaction) (*Post, error) {
	return s.with(ctx, postID, func(agg *Aggregate) (*Post, error) {
		return agg.React(ctx, actor, commentID, reaction)
	})
}

// with runs fn against the shared aggregate of postID for the duration of the call
func (s *postService) with(ctx context.Context, postID string, fn func(*Aggregate) (*Post, error)) (*Post, error) {
	agg, release, err := s.Open(ctx, postID)
	if err != nil {
		return nil, err
	}
	defer release()
	post, err := fn(agg)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", postID, err)
	}
	return post, nil
}

func sortNewestFirst(list []*Post) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
