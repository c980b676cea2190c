// Package preferences stores per-user display settings such as theme and
// collapsed comment threads.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"Quill/internal/docstore"
)

const preferencesPath = "preferences"

// Theme is the color scheme of the client
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Preferences are the settings of one user
type Preferences struct {
	Collapsed map[string]bool `json:"collapsed"` // comment or section id -> collapsed
	Theme     Theme           `json:"theme"`
}

// Defaults returns the settings of a user who never changed anything
func Defaults() Preferences {
	return Preferences{Theme: ThemeLight, Collapsed: map[string]bool{}}
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	Theme     *Theme          `json:"theme,omitempty"`
	Collapsed map[string]bool `json:"collapsed,omitempty"` // merged into the existing map
}

// ErrInvalidTheme is returned for unknown themes
var ErrInvalidTheme = errors.New("theme must be light or dark")

// Service loads and updates preferences
type Service interface {
	Load(ctx context.Context, userID string) (Preferences, error)
	Update(ctx context.Context, userID string, patch Patch) (Preferences, error)
}

type service struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewService creates a preferences service over store
func NewService(store docstore.Store, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: store, logger: logger}
}

// Load returns the stored preferences, filled with defaults
func (s *service) Load(ctx context.Context, userID string) (Preferences, error) {
	path, err := userPath(userID)
	if err != nil {
		return Preferences{}, err
	}
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	prefs := Defaults()
	if !snap.Exists() {
		return prefs, nil
	}
	if err := snap.Decode(&prefs); err != nil {
		// unreadable settings fall back to defaults
		s.logger.Warn("discarding malformed preferences", "user_id", userID, "error", err)
		return Defaults(), nil
	}
	if prefs.Theme != ThemeDark {
		prefs.Theme = ThemeLight
	}
	if prefs.Collapsed == nil {
		prefs.Collapsed = map[string]bool{}
	}
	return prefs, nil
}

// Update applies patch and writes only when something changed
func (s *service) Update(ctx context.Context, userID string, patch Patch) (Preferences, error) {
	if patch.Theme != nil && *patch.Theme != ThemeLight && *patch.Theme != ThemeDark {
		return Preferences{}, ErrInvalidTheme
	}
	current, err := s.Load(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}

	next := Preferences{Theme: current.Theme, Collapsed: maps.Clone(current.Collapsed)}
	if patch.Theme != nil {
		next.Theme = *patch.Theme
	}
	for id, collapsed := range patch.Collapsed {
		if collapsed {
			next.Collapsed[id] = true
		} else {
			delete(next.Collapsed, id)
		}
	}

	if next.Theme == current.Theme && maps.Equal(next.Collapsed, current.Collapsed) {
		return current, nil
	}
	path, _ := userPath(userID)
	if err := s.store.Set(ctx, path, next); err != nil {
		return Preferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}
	s.logger.Debug("preferences saved", "user_id", userID)
	return next, nil
}

func userPath(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, "/") {
		return "", fmt.Errorf("%w: user id %q", docstore.ErrInvalidPath, userID)
	}
	return docstore.Join(preferencesPath, userID), nil
}
