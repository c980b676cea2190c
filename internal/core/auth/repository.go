package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"Quill/internal/docstore"
)

// usersPath holds one document per account at users/{id}
const usersPath = "users"

type documentRepository struct {
	store docstore.Store
	mu    sync.Mutex // serializes the email uniqueness check with the write
}

// NewDocumentRepository stores accounts in the document store
func NewDocumentRepository(store docstore.Store) UserRepository {
	return &documentRepository{store: store}
}

func (r *documentRepository) Create(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if _, err := r.GetByEmail(ctx, user.Email); err == nil {
		return ErrEmailInUse
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := r.store.Set(ctx, docstore.Join(usersPath, user.ID), user); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id string) (*User, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, ErrUserNotFound
	}
	snap, err := r.store.Get(ctx, docstore.Join(usersPath, id))
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !snap.Exists() {
		return nil, ErrUserNotFound
	}
	return decodeUser(snap)
}

func (r *documentRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	matches, err := r.store.Query(ctx, usersPath, "email", normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrUserNotFound
	}
	return decodeUser(matches[0])
}

func decodeUser(snap *docstore.Snapshot) (*User, error) {
	var user User
	if err := snap.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", snap.Key, err)
	}
	user.ID = snap.Key
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
