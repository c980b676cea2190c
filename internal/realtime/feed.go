package realtime

import (
	"Quill/internal/core/posts"
	"Quill/internal/docstore"
	"context"
	"maps"
	"slices"
	"sync"
)

// feed is the single store subscription of one post, shared by every local subscriber
type feed struct {
	unsubscribe docstore.Unsubscribe
	subscribers map[int]func(*posts.Post, error)
	postID      string
	nextID      int
	primed      bool       // the store delivered at least one snapshot
	deliverMu   sync.Mutex // serializes fan-out so subscribers see snapshots in order
}

// Subscribe delivers full snapshots of postID to fn until the returned cancel
// func is called or ctx ends. A late subscriber immediately receives the newest
// known snapshot. fn must not subscribe to the same post synchronously.
func (a *SyncAdapter) Subscribe(ctx context.Context, postID string, fn func(*posts.Post, error)) (func(), error) {
	path, err := postPath(postID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	f, ok := a.feeds[postID]
	if !ok {
		f = &feed{postID: postID, subscribers: make(map[int]func(*posts.Post, error))}
		a.feeds[postID] = f
	}
	id := f.nextID
	f.nextID++
	f.subscribers[id] = fn
	a.mu.Unlock()

	if !ok {
		unsubscribe, err := a.store.OnValue(context.Background(), path, func(snap *docstore.Snapshot) {
			a.onSnapshot(f, snap)
		})
		if err != nil {
			a.mu.Lock()
			if a.feeds[postID] == f {
				delete(a.feeds, postID)
			}
			a.mu.Unlock()
			return nil, posts.NewRemoteFailure("subscribe", err)
		}
		a.mu.Lock()
		f.unsubscribe = unsubscribe
		a.mu.Unlock()
		a.logger.Debug("post feed opened", "post_id", postID)
	} else {
		f.deliverMu.Lock()
		a.mu.Lock()
		_, live := f.subscribers[id]
		a.mu.Unlock()
		if latest, cached := a.latest.Get(postID); cached && f.primed && live {
			fn(latest.Clone(), nil)
		}
		f.deliverMu.Unlock()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { a.leave(f, id) })
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel, nil
}

// Subscribers reports the number of local subscribers of postID
func (a *SyncAdapter) Subscribers(postID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[postID]; ok {
		return len(f.subscribers)
	}
	return 0
}

func (a *SyncAdapter) leave(f *feed, id int) {
	a.mu.Lock()
	delete(f.subscribers, id)
	if len(f.subscribers) > 0 {
		a.mu.Unlock()
		return
	}
	if a.feeds[f.postID] == f {
		delete(a.feeds, f.postID)
	}
	unsubscribe := f.unsubscribe
	a.mu.Unlock()

	a.latest.Remove(f.postID)
	if unsubscribe != nil {
		unsubscribe()
	}
	a.logger.Debug("post feed closed", "post_id", f.postID)
}

// onSnapshot decodes a store snapshot and fans it out
func (a *SyncAdapter) onSnapshot(f *feed, snap *docstore.Snapshot) {
	var (
		post *posts.Post
		err  error
	)
	if snap.Exists() {
		post, err = decodePost(snap)
		if err != nil {
			a.logger.Warn("malformed post document in stream", "post_id", f.postID, "error", err)
			err = posts.NewRemoteFailure("decode", err)
		}
	}

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	a.mu.Lock()
	if a.feeds[f.postID] != f {
		a.mu.Unlock()
		return
	}
	f.primed = true
	subscribers := make([]func(*posts.Post, error), 0, len(f.subscribers))
	for _, id := range slices.Sorted(maps.Keys(f.subscribers)) {
		subscribers = append(subscribers, f.subscribers[id])
	}
	a.mu.Unlock()

	switch {
	case err != nil:
	case post == nil:
		a.latest.Remove(f.postID)
	default:
		a.latest.Add(f.postID, post)
	}

	for _, fn := range subscribers {
		if err != nil {
			fn(nil, err)
			continue
		}
		fn(post.Clone(), nil)
	}
}
