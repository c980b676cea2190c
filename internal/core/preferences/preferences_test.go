package preferences

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Quill/internal/docstore/memory"
)

func TestLoad_Defaults(t *testing.T) {
	svc := NewService(memory.New(), nil)

	prefs, err := svc.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), prefs)

	_, err = svc.Load(context.Background(), "")
	assert.Error(t, err)
}

func TestUpdate_WritesOnlyOnChange(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil)
	ctx := context.Background()

	writes := 0
	store.SetFault(func(op memory.Op, path string) error {
		if op == memory.OpSet {
			writes++
		}
		return nil
	})

	dark := ThemeDark
	prefs, err := svc.Update(ctx, "u1", Patch{Theme: &dark, Collapsed: map[string]bool{"c1": true}})
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, prefs.Theme)
	assert.True(t, prefs.Collapsed["c1"])
	assert.Equal(t, 1, writes)

	// same values again: no write
	_, err = svc.Update(ctx, "u1", Patch{Theme: &dark, Collapsed: map[string]bool{"c1": true}})
	require.NoError(t, err)
	assert.Equal(t, 1, writes)

	prefs, err = svc.Update(ctx, "u1", Patch{Collapsed: map[string]bool{"c1": false}})
	require.NoError(t, err)
	assert.Empty(t, prefs.Collapsed)
	assert.Equal(t, ThemeDark, prefs.Theme)
	assert.Equal(t, 2, writes)

	loaded, err := svc.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, prefs, loaded)
}

func TestUpdate_RejectsUnknownTheme(t *testing.T) {
	svc := NewService(memory.New(), nil)
	neon := Theme("neon")
	_, err := svc.Update(context.Background(), "u1", Patch{Theme: &neon})
	assert.ErrorIs(t, err, ErrInvalidTheme)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Set(context.Background(), "preferences/u1", "oops"))
	svc := NewService(store, nil)

	prefs, err := svc.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), prefs)
}
