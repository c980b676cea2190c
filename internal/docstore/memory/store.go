// Package memory implements docstore.Store as an in-process JSON tree.
// It backs local development (STORE_BACKEND=memory) and most package tests.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"Quill/internal/docstore"
)

// Op names a store operation for fault injection
type Op string

const (
	OpGet         Op = "get"
	OpSet         Op = "set"
	OpUpdate      Op = "update"
	OpPush        Op = "push"
	OpRemove      Op = "remove"
	OpQuery       Op = "query"
	OpSubscribe   Op = "subscribe"
	OpTransaction Op = "transaction"
)

// FaultFunc can fail an operation before it touches the tree.
// Returning nil lets the operation proceed.
type FaultFunc func(op Op, path string) error

// Store is an in-memory docstore.Store and docstore.Transactor
type Store struct {
	root      map[string]any
	versions  map[string]int64 // path -> revision of the last write at that path
	listeners map[uint64]*listener
	entropy   io.Reader
	fault     FaultFunc
	now       func() time.Time
	revision  int64
	nextID    uint64
	closed    bool
	mu        sync.Mutex
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		root:      make(map[string]any),
		versions:  make(map[string]int64),
		listeners: make(map[uint64]*listener),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
	}
}

// SetFault installs a fault hook; nil removes it
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Close stops every subscription. Later calls return docstore.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	listeners := make([]*listener, 0, len(s.listeners))
	for id, l := range s.listeners {
		listeners = append(listeners, l)
		delete(s.listeners, id)
	}
	s.closed = true
	s.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
	return nil
}

// Get implements docstore.Store
func (s *Store) Get(ctx context.Context, path string) (*docstore.Snapshot, error) {
	parts, err := s.begin(ctx, OpGet, path)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.snapshotLocked(parts)
}

// Set implements docstore.Store
func (s *Store) Set(ctx context.Context, path string, value any) error {
	normalized, err := docstore.Normalize(value)
	if err != nil {
		return err
	}
	parts, err := s.begin(ctx, OpSet, path)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.writeLocked(parts, normalized)
	return nil
}

// Update implements docstore.Store
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, err := docstore.Split(k); err != nil {
			return fmt.Errorf("update field %q: %w", k, err)
		}
		n, err := docstore.Normalize(v)
		if err != nil {
			return err
		}
		normalized[k] = n
	}

	parts, err := s.begin(ctx, OpUpdate, path)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	current, found := lookup(s.root, parts)
	if (!found || current == nil) && len(parts) > 1 {
		return fmt.Errorf("update %s: %w", docstore.Join(parts...), docstore.ErrNotFound)
	}
	obj, ok := current.(map[string]any)
	if !ok {
		obj = make(map[string]any)
	} else {
		obj = cloneMap(obj)
	}
	for k, v := range normalized {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	if len(obj) == 0 {
		s.writeLocked(parts, nil)
		return nil
	}
	s.writeLocked(parts, obj)
	return nil
}

// Push implements docstore.Store. Keys are ULIDs, so children sort by creation time.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	normalized, err := docstore.Normalize(value)
	if err != nil {
		return "", err
	}
	parts, err := s.begin(ctx, OpPush, path)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(s.now()), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	key := id.String()
	s.writeLocked(append(parts, key), normalized)
	return key, nil
}

// Remove implements docstore.Store
func (s *Store) Remove(ctx context.Context, path string) error {
	parts, err := s.begin(ctx, OpRemove, path)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := lookup(s.root, parts); !ok {
		return nil
	}
	s.writeLocked(parts, nil)
	return nil
}

// Query implements docstore.Store
func (s *Store) Query(ctx context.Context, path string, orderByField string, equalTo any) ([]*docstore.Snapshot, error) {
	want, err := docstore.Normalize(equalTo)
	if err != nil {
		return nil, err
	}
	parts, err := s.begin(ctx, OpQuery, path)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	current, _ := lookup(s.root, parts)
	children, ok := current.(map[string]any)
	if !ok {
		return []*docstore.Snapshot{}, nil
	}

	out := make([]*docstore.Snapshot, 0)
	for _, key := range docstore.SortedKeys(children) {
		child, ok := children[key].(map[string]any)
		if !ok {
			continue
		}
		if !reflect.DeepEqual(child[orderByField], want) {
			continue
		}
		snap, err := s.snapshotLocked(append(append([]string(nil), parts...), key))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Transaction implements docstore.Transactor with optimistic version checks.
// fn runs without the store lock held, so it may call back into the store.
func (s *Store) Transaction(ctx context.Context, path string, fn func(current *docstore.Snapshot) (any, error)) (*docstore.Snapshot, error) {
	parts, err := s.begin(ctx, OpTransaction, path)
	if err != nil {
		return nil, err
	}
	current, err := s.snapshotLocked(parts)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	normalized, err := docstore.Normalize(next)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	if s.versionLocked(current.Path) != current.Version {
		return nil, docstore.ErrVersionConflict
	}
	s.writeLocked(parts, normalized)
	return s.snapshotLocked(parts)
}

// OnValue implements docstore.Store
func (s *Store) OnValue(ctx context.Context, path string, fn func(*docstore.Snapshot)) (docstore.Unsubscribe, error) {
	parts, err := s.begin(ctx, OpSubscribe, path)
	if err != nil {
		return nil, err
	}

	s.nextID++
	l := newListener(s.nextID, docstore.Join(parts...), fn)
	s.listeners[l.id] = l
	initial, err := s.snapshotLocked(parts)
	if err != nil {
		delete(s.listeners, l.id)
		s.mu.Unlock()
		return nil, err
	}
	l.enqueue(initial)
	s.mu.Unlock()

	go l.run()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, l.id)
			s.mu.Unlock()
			l.stop()
		})
	}

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				unsubscribe()
			case <-l.done:
			}
		}()
	}
	return unsubscribe, nil
}

// Subscribers reports the number of live subscriptions
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// begin validates the call and acquires the store lock. On success the caller
// must release s.mu.
func (s *Store) begin(ctx context.Context, op Op, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts, err := docstore.Split(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	if s.fault != nil {
		if err := s.fault(op, docstore.Join(parts...)); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	return parts, nil
}

func (s *Store) snapshotLocked(parts []string) (*docstore.Snapshot, error) {
	path := docstore.Join(parts...)
	snap := &docstore.Snapshot{Path: path, Key: parts[len(parts)-1], Version: s.versionLocked(path)}
	value, ok := lookup(s.root, parts)
	if !ok {
		return snap, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	snap.Value = data
	return snap, nil
}

// versionLocked is the revision of the newest write visible at path
func (s *Store) versionLocked(path string) int64 {
	var v int64
	for written, rev := range s.versions {
		if rev > v && docstore.Related(written, path) {
			v = rev
		}
	}
	return v
}

// writeLocked stores value at parts (nil removes) and notifies related listeners
func (s *Store) writeLocked(parts []string, value any) {
	if value == nil {
		remove(s.root, parts)
	} else {
		store(s.root, parts, value)
	}
	s.revision++
	path := docstore.Join(parts...)
	s.versions[path] = s.revision

	for _, l := range s.listeners {
		if !docstore.Related(l.path, path) {
			continue
		}
		lparts, _ := docstore.Split(l.path)
		snap, err := s.snapshotLocked(lparts)
		if err != nil {
			continue
		}
		l.enqueue(snap)
	}
}

func lookup(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func store(root map[string]any, parts []string, value any) {
	obj := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := obj[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			obj[p] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = value
}

// remove deletes the value at parts and prunes parents left empty
func remove(root map[string]any, parts []string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		delete(root, parts[0])
		return
	}
	child, ok := root[parts[0]].(map[string]any)
	if !ok {
		return
	}
	remove(child, parts[1:])
	if len(child) == 0 {
		delete(root, parts[0])
	}
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
