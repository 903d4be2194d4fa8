package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoragePathLayout(t *testing.T) {
	s := NewStorage("/cache")

	assert.Equal(t, filepath.Join("/cache", "oc-1"), s.ItemDir("oc-1"))
	assert.Equal(t, filepath.Join("/cache", "oc-1", "a.txt"), s.ItemPath("oc-1", "a.txt"))
	assert.Equal(t, filepath.Join("/cache", "ico", "oc-1", "a.txt"), s.PreviewPath("oc-1", "a.txt"))
}

func TestStorageIdentifierForPath(t *testing.T) {
	s := NewStorage("/cache")

	id, ok := s.IdentifierForPath("/cache/oc-1/a.txt")
	require.True(t, ok)
	assert.Equal(t, Entry("oc-1"), id)

	_, ok = s.IdentifierForPath("/elsewhere/oc-1/a.txt")
	assert.False(t, ok)
	_, ok = s.IdentifierForPath("/cache/oc-1")
	assert.False(t, ok)
	_, ok = s.IdentifierForPath("/cache/oc-1/nested/a.txt")
	assert.False(t, ok)
	_, ok = s.IdentifierForPath("/cache/ico/oc-1/a.txt")
	assert.False(t, ok)
	_, ok = s.IdentifierForPath("/cache/../etc/passwd")
	assert.False(t, ok)
}

func TestStorageRenameContent(t *testing.T) {
	s := NewStorage(t.TempDir())
	require.NoError(t, s.EnsureItemDir("oc-1"))
	require.NoError(t, os.WriteFile(s.ItemPath("oc-1", "old.txt"), []byte("body"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(s.PreviewPath("oc-1", "old.txt")), 0o755))
	require.NoError(t, os.WriteFile(s.PreviewPath("oc-1", "old.txt"), []byte("icon"), 0o644))

	require.NoError(t, s.RenameContent("oc-1", "old.txt", "new.txt"))

	assert.True(t, s.HasContent("oc-1", "new.txt"))
	assert.False(t, s.HasContent("oc-1", "old.txt"))
	_, err := os.Stat(s.PreviewPath("oc-1", "new.txt"))
	assert.NoError(t, err)

	// Renaming something that was never materialized is a no-op.
	require.NoError(t, s.RenameContent("oc-2", "a", "b"))
}

func TestStorageRemoveContent(t *testing.T) {
	s := NewStorage(t.TempDir())
	require.NoError(t, s.EnsureItemDir("oc-1"))
	require.NoError(t, os.WriteFile(s.ItemPath("oc-1", "a.txt"), []byte("x"), 0o644))

	require.NoError(t, s.RemoveContent("oc-1"))
	assert.False(t, s.HasContent("oc-1", "a.txt"))
	_, err := os.Stat(s.ItemDir("oc-1"))
	assert.True(t, os.IsNotExist(err))
}
