package revalidation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/configuration"
)

func TestLocalRoundTrip(t *testing.T) {
	c, err := Open(configuration.RevalidationCache{
		Path: filepath.Join(t.TempDir(), "revalidation.db"),
	})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, _, ok := c.Lookup(ctx, "https://registry.example/left-pad")
	require.False(t, ok)

	c.Store(ctx, "https://registry.example/left-pad", `"etag-1"`, []byte(`{"name":"left-pad"}`))

	etag, body, ok := c.Lookup(ctx, "https://registry.example/left-pad")
	require.True(t, ok)
	require.Equal(t, `"etag-1"`, etag)
	require.Equal(t, []byte(`{"name":"left-pad"}`), body)
}

func TestLocalMissForDifferentURL(t *testing.T) {
	c, err := Open(configuration.RevalidationCache{
		Path: filepath.Join(t.TempDir(), "revalidation.db"),
	})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	c.Store(ctx, "https://registry.example/a", "etag", []byte("a"))

	_, _, ok := c.Lookup(ctx, "https://registry.example/b")
	require.False(t, ok)
}

func TestReopenPersistsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revalidation.db")
	ctx := context.Background()

	c1, err := Open(configuration.RevalidationCache{Path: path})
	require.NoError(t, err)
	c1.Store(ctx, "https://registry.example/left-pad", "etag-1", []byte("body"))
	require.NoError(t, c1.Close())

	c2, err := Open(configuration.RevalidationCache{Path: path})
	require.NoError(t, err)
	defer c2.Close()

	etag, body, ok := c2.Lookup(ctx, "https://registry.example/left-pad")
	require.True(t, ok)
	require.Equal(t, "etag-1", etag)
	require.Equal(t, []byte("body"), body)
}
