package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"Quill/internal/docstore"
)

// DocumentStore keeps the document tree in the documents table: one row per
// collection/key pair holding a JSONB value and a version counter bumped on
// every write. Paths deeper than collection/key are not supported.
type DocumentStore struct {
	db       *sql.DB
	notifier Notifier
	logger   *slog.Logger
	subs     map[uint64]*subscription
	done     chan struct{}
	nextID   uint64
	mu       sync.Mutex
	closed   bool
}

var (
	_ docstore.Store      = (*DocumentStore)(nil)
	_ docstore.Transactor = (*DocumentStore)(nil)
)

// StoreOption configures a DocumentStore
type StoreOption func(*DocumentStore)

// WithNotifier delivers changes made by other processes through LISTEN/NOTIFY
func WithNotifier(n Notifier) StoreOption {
	return func(s *DocumentStore) { s.notifier = n }
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *DocumentStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocumentStore creates a document store on db. The caller owns db.
func NewDocumentStore(db *sql.DB, opts ...StoreOption) (*DocumentStore, error) {
	s := &DocumentStore{
		db:     db,
		logger: slog.Default(),
		subs:   make(map[uint64]*subscription),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier != nil {
		if err := s.notifier.Listen(changeChannel); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
		}
		go s.dispatch()
	}
	return s, nil
}

// location is a path resolved to table coordinates. key is empty for a
// whole collection.
type location struct {
	path       string
	collection string
	key        string
}

func (s *DocumentStore) locate(path string) (location, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return location{}, docstore.ErrClosed
	}

	parts, err := docstore.Split(path)
	if err != nil {
		return location{}, err
	}
	switch len(parts) {
	case 1:
		return location{path: parts[0], collection: parts[0]}, nil
	case 2:
		return location{path: docstore.Join(parts...), collection: parts[0], key: parts[1]}, nil
	default:
		return location{}, fmt.Errorf("%w: %s", docstore.ErrUnsupportedPath, path)
	}
}

// Get implements docstore.Store
func (s *DocumentStore) Get(ctx context.Context, path string) (*docstore.Snapshot, error) {
	loc, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	if loc.key == "" {
		return s.getCollection(ctx, loc)
	}
	return s.getDocument(ctx, loc)
}

func (s *DocumentStore) getDocument(ctx context.Context, loc location) (*docstore.Snapshot, error) {
	query := `SELECT value, version FROM documents WHERE collection = $1 AND key = $2`

	snap := &docstore.Snapshot{Path: loc.path, Key: loc.key}
	var value []byte
	err := s.db.QueryRowContext(ctx, query, loc.collection, loc.key).Scan(&value, &snap.Version)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", loc.path, err)
	}
	snap.Value = json.RawMessage(value)
	return snap, nil
}

func (s *DocumentStore) getCollection(ctx context.Context, loc location) (*docstore.Snapshot, error) {
	query := `SELECT key, value, version FROM documents WHERE collection = $1 ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, loc.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", loc.collection, err)
	}
	children, err := scanDocuments(rows, loc.collection)
	if err != nil {
		return nil, err
	}

	snap := &docstore.Snapshot{Path: loc.path, Key: loc.collection}
	if len(children) == 0 {
		return snap, nil
	}
	obj := make(map[string]json.RawMessage, len(children))
	for _, child := range children {
		obj[child.Key] = child.Value
		snap.Version = max(snap.Version, child.Version)
	}
	if snap.Value, err = json.Marshal(obj); err != nil {
		return nil, fmt.Errorf("failed to encode collection %s: %w", loc.collection, err)
	}
	return snap, nil
}

// Set implements docstore.Store
func (s *DocumentStore) Set(ctx context.Context, path string, value any) error {
	if value == nil {
		return s.Remove(ctx, path)
	}
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	if loc.key == "" {
		return s.replaceCollection(ctx, loc, value)
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertQuery, loc.collection, loc.key, string(data)); err != nil {
		return fmt.Errorf("failed to set document %s: %w", loc.path, err)
	}
	s.notify(loc.path)
	return nil
}

const upsertQuery = `
	INSERT INTO documents (collection, key, value)
	VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (collection, key) DO UPDATE
	SET value = EXCLUDED.value, version = documents.version + 1, updated_at = NOW()
`

func (s *DocumentStore) replaceCollection(ctx context.Context, loc location, value any) error {
	normalized, err := docstore.Normalize(value)
	if err != nil {
		return err
	}
	children, ok := normalized.(map[string]any)
	if !ok {
		return fmt.Errorf("collection %s must be set to an object, got %T", loc.collection, normalized)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1`, loc.collection); err != nil {
			return err
		}
		for _, key := range docstore.SortedKeys(children) {
			data, err := json.Marshal(children[key])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, upsertQuery, loc.collection, key, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace collection %s: %w", loc.collection, err)
	}
	s.notify(loc.path)
	return nil
}

// Update implements docstore.Store. On a document, set fields are merged with
// the JSONB || operator and removed fields dropped with -, in one statement,
// so concurrent updates of different fields never overwrite each other.
func (s *DocumentStore) Update(ctx context.Context, path string, fields map[string]any) error {
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	if loc.key == "" {
		return s.updateCollection(ctx, loc, fields)
	}

	set := make(map[string]any, len(fields))
	removed := []string{} // a nil array would turn the whole merge into NULL
	for _, name := range docstore.SortedKeys(fields) {
		if fields[name] == nil {
			removed = append(removed, name)
			continue
		}
		set[name] = fields[name]
	}
	data, err := encodeValue(set)
	if err != nil {
		return err
	}

	// update only: a patch never creates a partial document
	query := `
		UPDATE documents
		SET value = (value - $4::text[]) || $3::jsonb,
			version = version + 1,
			updated_at = NOW()
		WHERE collection = $1 AND key = $2
	`
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, loc.collection, loc.key, string(data), pq.Array(removed))
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return docstore.ErrNotFound
		}
		if len(set) > 0 {
			return nil
		}
		// removing every field removes the document
		_, err = tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND key = $2 AND value = '{}'::jsonb`,
			loc.collection, loc.key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", loc.path, err)
	}
	s.notify(loc.path)
	return nil
}

func (s *DocumentStore) updateCollection(ctx context.Context, loc location, fields map[string]any) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range docstore.SortedKeys(fields) {
			if fields[key] == nil {
				if _, err := tx.ExecContext(ctx, deleteDocumentQuery, loc.collection, key); err != nil {
					return err
				}
				continue
			}
			data, err := encodeValue(fields[key])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, upsertQuery, loc.collection, key, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update collection %s: %w", loc.collection, err)
	}
	s.notify(loc.path)
	return nil
}

// Push implements docstore.Store. Keys are ULIDs, so rows sort by creation time.
func (s *DocumentStore) Push(ctx context.Context, path string, value any) (string, error) {
	loc, err := s.locate(path)
	if err != nil {
		return "", err
	}
	if loc.key != "" {
		return "", fmt.Errorf("%w: push below %s", docstore.ErrUnsupportedPath, loc.path)
	}
	data, err := encodeValue(value)
	if err != nil {
		return "", err
	}

	key := ulid.Make().String()
	query := `INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)`
	if _, err := s.db.ExecContext(ctx, query, loc.collection, key, string(data)); err != nil {
		return "", fmt.Errorf("failed to push into %s: %w", loc.collection, err)
	}
	s.notify(docstore.Join(loc.collection, key))
	return key, nil
}

const deleteDocumentQuery = `DELETE FROM documents WHERE collection = $1 AND key = $2`

// Remove implements docstore.Store
func (s *DocumentStore) Remove(ctx context.Context, path string) error {
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	if loc.key == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1`, loc.collection)
	} else {
		_, err = s.db.ExecContext(ctx, deleteDocumentQuery, loc.collection, loc.key)
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", loc.path, err)
	}
	s.notify(loc.path)
	return nil
}

// Query implements docstore.Store
func (s *DocumentStore) Query(ctx context.Context, path string, orderByField string, equalTo any) ([]*docstore.Snapshot, error) {
	loc, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	if loc.key != "" {
		return nil, fmt.Errorf("%w: query below %s", docstore.ErrUnsupportedPath, loc.path)
	}
	want, err := json.Marshal(equalTo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query value: %w", err)
	}

	// containment uses idx_documents_value; the equality recheck keeps
	// arrays and objects from matching on a subset
	query := `
		SELECT key, value, version FROM documents
		WHERE collection = $1
			AND value @> jsonb_build_object($2::text, $3::jsonb)
			AND value -> $2::text = $3::jsonb
		ORDER BY key
	`
	rows, err := s.db.QueryContext(ctx, query, loc.collection, orderByField, string(want))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", loc.collection, orderByField, err)
	}
	return scanDocuments(rows, loc.collection)
}

// Transaction implements docstore.Transactor with a version check on the row
func (s *DocumentStore) Transaction(ctx context.Context, path string, fn func(current *docstore.Snapshot) (any, error)) (*docstore.Snapshot, error) {
	loc, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	if loc.key == "" {
		return nil, fmt.Errorf("%w: transaction on collection %s", docstore.ErrUnsupportedPath, loc.path)
	}

	current, err := s.getDocument(ctx, loc)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	var res sql.Result
	written := &docstore.Snapshot{Path: loc.path, Key: loc.key, Version: current.Version + 1}
	switch {
	case next == nil && current.Version == 0:
		return &docstore.Snapshot{Path: loc.path, Key: loc.key}, nil
	case next == nil:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND key = $2 AND version = $3`,
			loc.collection, loc.key, current.Version)
		written.Version = 0
	default:
		data, encErr := encodeValue(next)
		if encErr != nil {
			return nil, encErr
		}
		written.Value = data
		if current.Version == 0 {
			res, err = s.db.ExecContext(ctx, `
				INSERT INTO documents (collection, key, value) VALUES ($1, $2, $3::jsonb)
				ON CONFLICT (collection, key) DO NOTHING
			`, loc.collection, loc.key, string(data))
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE documents SET value = $3::jsonb, version = version + 1, updated_at = NOW()
				WHERE collection = $1 AND key = $2 AND version = $4
			`, loc.collection, loc.key, string(data), current.Version)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write document %s: %w", loc.path, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check write of %s: %w", loc.path, err)
	}
	if affected == 0 {
		return nil, docstore.ErrVersionConflict
	}
	s.notify(loc.path)
	return written, nil
}

// Close stops every subscription and the notifier. The database stays open.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if s.notifier != nil {
		return s.notifier.Close()
	}
	return nil
}

func (s *DocumentStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func scanDocuments(rows *sql.Rows, collection string) ([]*docstore.Snapshot, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close document rows", "error", err)
		}
	}()

	var out []*docstore.Snapshot
	for rows.Next() {
		snap := &docstore.Snapshot{}
		var value []byte
		if err := rows.Scan(&snap.Key, &value, &snap.Version); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		snap.Path = docstore.Join(collection, snap.Key)
		snap.Value = json.RawMessage(value)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return out, nil
}

func encodeValue(value any) ([]byte, error) {
	normalized, err := docstore.Normalize(value)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}
