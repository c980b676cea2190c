// Package docstore defines the contract of the path-addressed document store
// that backs every post, account and preference record.
//
// A store is a tree of JSON values addressed by slash-separated paths
// ("posts", "posts/01HV..."). Writes replace or merge whole values; there is no
// structural merge of nested arrays. Subscribers receive full snapshots, never
// deltas.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments
	ErrInvalidPath = errors.New("invalid document path")

	// ErrUnsupportedPath is returned when a backend cannot address the path depth
	ErrUnsupportedPath = errors.New("path depth not supported by this store")

	// ErrVersionConflict is returned when a compare-and-swap write lost the race
	ErrVersionConflict = errors.New("document version conflict")

	// ErrClosed is returned by a store after Close
	ErrClosed = errors.New("document store closed")

	// ErrNotFound is returned by Update when no document exists at the path
	ErrNotFound = errors.New("document not found")
)

// Snapshot is the value found at a path at one point in time
type Snapshot struct {
	Path    string          // Normalized path the snapshot was read from
	Key     string          // Last path segment
	Value   json.RawMessage // Nil when nothing is stored at Path
	Version int64           // Revision of the newest write visible at Path, 0 when never written
}

// Exists reports whether a value is stored at the snapshot's path
func (s *Snapshot) Exists() bool {
	return s != nil && len(s.Value) > 0 && string(s.Value) != "null"
}

// Decode unmarshals the snapshot value into v
func (s *Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %s: no value", s.Path)
	}
	return json.Unmarshal(s.Value, v)
}

// Children splits an object snapshot into one snapshot per child key.
// Non-object values yield no children.
func (s *Snapshot) Children() ([]*Snapshot, error) {
	if !s.Exists() {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(s.Value, &raw); err != nil {
		// scalars and arrays have no children
		return nil, nil
	}
	out := make([]*Snapshot, 0, len(raw))
	for _, key := range SortedKeys(raw) {
		out = append(out, &Snapshot{
			Path:    s.Path + "/" + key,
			Key:     key,
			Value:   raw[key],
			Version: s.Version,
		})
	}
	return out, nil
}

// Unsubscribe tears down a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Store is the document store contract
type Store interface {
	// Get reads the value at path. A missing value is not an error: the
	// returned snapshot reports Exists() == false.
	Get(ctx context.Context, path string) (*Snapshot, error)

	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the existing document at path and returns
	// ErrNotFound when there is none. A top-level collection path is created
	// when absent. Each field value replaces the child wholesale; a nil value
	// removes the child.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Push stores value under a new, time-ordered child key of path and returns the key
	Push(ctx context.Context, path string, value any) (string, error)

	// Remove deletes the value at path. Removing a missing value is a no-op.
	Remove(ctx context.Context, path string) error

	// OnValue delivers the current snapshot of path and then a fresh snapshot
	// after every change at, above or below it. Callbacks for one subscription
	// are delivered in order on a goroutine owned by the store.
	OnValue(ctx context.Context, path string, fn func(*Snapshot)) (Unsubscribe, error)

	// Query returns the children of path whose orderByField equals equalTo,
	// ordered by key
	Query(ctx context.Context, path string, orderByField string, equalTo any) ([]*Snapshot, error)
}

// Transactor is implemented by stores that support compare-and-swap writes
type Transactor interface {
	// Transaction reads path, passes the snapshot to fn and writes the value fn
	// returns only if the path was not modified in between. Returns
	// ErrVersionConflict when another write won; fn errors abort the write.
	Transaction(ctx context.Context, path string, fn func(current *Snapshot) (any, error)) (*Snapshot, error)
}

// Split normalizes a path and returns its segments
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Clean returns the normalized form of path
func Clean(path string) (string, error) {
	parts, err := Split(path)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "/"), nil
}

// Join builds a path from segments
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Related reports whether a change at one path is visible at the other:
// true when either path equals or contains the other
func Related(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Normalize round-trips a value through JSON so stores keep a canonical form
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("normalize value: %w", err)
		}
		return out, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// SortedKeys returns the keys of m in ascending order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
