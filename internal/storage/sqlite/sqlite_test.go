package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.Get(ctx, "consent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "consent", "true"))
	require.NoError(t, s.Set(ctx, "consent", "false"))
	v, ok, err := s.Get(ctx, "consent")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	require.NoError(t, s.Delete(ctx, "consent"))
	_, ok, err = s.Get(ctx, "consent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Ready(ctx))
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "analytics.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "consent", "true"))
	require.NoError(t, s.Close())

	// Reopening must not re-run migrations or lose data.
	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, ok, err := s.Get(ctx, "consent")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
