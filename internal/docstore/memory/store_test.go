package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Quill/internal/docstore"
)

func TestStore_SetGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"title": "Hello", "likes": 0}))

	snap, err := s.Get(ctx, "posts/p1")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "p1", snap.Key)
	assert.JSONEq(t, `{"title":"Hello","likes":0}`, string(snap.Value))

	missing, err := s.Get(ctx, "posts/nope")
	require.NoError(t, err)
	assert.False(t, missing.Exists())

	parent, err := s.Get(ctx, "/posts/")
	require.NoError(t, err)
	assert.JSONEq(t, `{"p1":{"title":"Hello","likes":0}}`, string(parent.Value))
}

func TestStore_InvalidPath(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "posts//p1")
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)

	_, err = s.Get(context.Background(), "")
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)
}

func TestStore_UpdateMergesAndRemoves(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"title": "a", "content": "b", "likes": 1}))

	require.NoError(t, s.Update(ctx, "posts/p1", map[string]any{"likes": 2, "content": nil}))

	snap, err := s.Get(ctx, "posts/p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"a","likes":2}`, string(snap.Value))

	// collections are created on demand
	require.NoError(t, s.Update(ctx, "drafts", map[string]any{"d1": map[string]any{"title": "x"}}))
	snap, err = s.Get(ctx, "drafts/d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x"}`, string(snap.Value))
}

func TestStore_UpdateMissingDocument(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, "posts/gone", map[string]any{"likes": 1})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	snap, err := s.Get(ctx, "posts/gone")
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "a patch must not create a partial document")
}

func TestStore_PushKeysAreOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 50; i++ {
		k, err := s.Push(ctx, "posts", map[string]any{"n": i})
		require.NoError(t, err)
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		assert.Greater(t, keys[i], keys[i-1])
	}

	snap, err := s.Get(ctx, "posts")
	require.NoError(t, err)
	children, err := snap.Children()
	require.NoError(t, err)
	require.Len(t, children, 50)
	assert.Equal(t, keys[0], children[0].Key)
	assert.Equal(t, "posts/"+keys[0], children[0].Path)
}

func TestStore_RemovePrunesEmptyParents(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a/b/c", "x"))
	require.NoError(t, s.Remove(ctx, "a/b/c"))

	snap, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	// removing something that is not there is fine
	require.NoError(t, s.Remove(ctx, "a/b/c"))
}

func TestStore_Query(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"authorId": "u1"}))
	require.NoError(t, s.Set(ctx, "posts/p2", map[string]any{"authorId": "u2"}))
	require.NoError(t, s.Set(ctx, "posts/p3", map[string]any{"authorId": "u1"}))
	require.NoError(t, s.Set(ctx, "posts/p4", "not an object"))

	got, err := s.Query(ctx, "posts", "authorId", "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].Key)
	assert.Equal(t, "p3", got[1].Key)

	none, err := s.Query(ctx, "missing", "authorId", "u1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_OnValueDeliversRelatedChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"likes": 0}))

	events := make(chan *docstore.Snapshot, 10)
	unsub, err := s.OnValue(ctx, "posts/p1", func(snap *docstore.Snapshot) {
		events <- snap
	})
	require.NoError(t, err)

	initial := receive(t, events)
	assert.JSONEq(t, `{"likes":0}`, string(initial.Value))

	// write below the subscribed path
	require.NoError(t, s.Set(ctx, "posts/p1/likes", 1))
	assert.JSONEq(t, `{"likes":1}`, string(receive(t, events).Value))

	// write to an unrelated sibling produces nothing
	require.NoError(t, s.Set(ctx, "posts/p2", map[string]any{"likes": 9}))

	// write above the subscribed path
	require.NoError(t, s.Remove(ctx, "posts"))
	assert.False(t, receive(t, events).Exists())

	unsub()
	unsub()
	assert.Equal(t, 0, s.Subscribers())

	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"likes": 3}))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after unsubscribe: %s", ev.Value)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_OnValueStopsWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := s.OnValue(ctx, "posts", func(*docstore.Snapshot) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers())

	cancel()
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_CallbackMayUseStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var once sync.Once
	_, err := s.OnValue(ctx, "posts/p1", func(snap *docstore.Snapshot) {
		if !snap.Exists() {
			return
		}
		_, err := s.Get(ctx, "posts/p1")
		assert.NoError(t, err)
		once.Do(wg.Done)
	})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "posts/p1", "x"))
	wg.Wait()
}

func TestStore_TransactionDetectsConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"likes": 0}))

	_, err := s.Transaction(ctx, "posts/p1", func(current *docstore.Snapshot) (any, error) {
		// a competing writer lands between read and write
		require.NoError(t, s.Update(ctx, "posts/p1", map[string]any{"likes": 10}))
		return map[string]any{"likes": 1}, nil
	})
	assert.ErrorIs(t, err, docstore.ErrVersionConflict)

	snap, err := s.Transaction(ctx, "posts/p1", func(current *docstore.Snapshot) (any, error) {
		var doc map[string]any
		require.NoError(t, current.Decode(&doc))
		doc["likes"] = doc["likes"].(float64) + 1
		return doc, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"likes":11}`, string(snap.Value))
}

func TestStore_TransactionOnRecreatedPath(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "posts/p1", "x"))
	require.NoError(t, s.Remove(ctx, "posts/p1"))

	snap, err := s.Transaction(ctx, "posts/p1", func(current *docstore.Snapshot) (any, error) {
		assert.False(t, current.Exists())
		return "y", nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"y"`, string(snap.Value))
}

func TestStore_FaultInjection(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("permission denied")
	s.SetFault(func(op Op, path string) error {
		if op == OpUpdate && path == "posts/p1" {
			return boom
		}
		return nil
	})

	require.NoError(t, s.Set(ctx, "posts/p1", map[string]any{"likes": 0}))
	require.NoError(t, s.Set(ctx, "posts/p2", map[string]any{"likes": 0}))

	assert.ErrorIs(t, s.Update(ctx, "posts/p1", map[string]any{"likes": 1}), boom)
	assert.NoError(t, s.Update(ctx, "posts/p2", map[string]any{"likes": 1}))

	s.SetFault(nil)
	assert.NoError(t, s.Update(ctx, "posts/p1", map[string]any{"likes": 1}))
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "posts")
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func receive(t *testing.T, ch <-chan *docstore.Snapshot) *docstore.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
