package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadataStoreMemory(t *testing.T) {
	store, err := NewMetadataStore(MetadataConfig{Type: "memory"})
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Healthcheck(context.Background()))
}

func TestNewMetadataStoreBadgerInMemory(t *testing.T) {
	store, err := NewMetadataStore(MetadataConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Healthcheck(context.Background()))
}

func TestNewMetadataStoreSQLite(t *testing.T) {
	store, err := NewMetadataStore(MetadataConfig{
		Type:   "sqlite",
		SQLite: map[string]any{"path": filepath.Join(t.TempDir(), "meta.db")},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Healthcheck(context.Background()))
}

func TestNewMetadataStoreRejectsUnknownType(t *testing.T) {
	_, err := NewMetadataStore(MetadataConfig{Type: "etcd"})
	assert.Error(t, err)

	_, err = NewMetadataStore(MetadataConfig{Type: "sqlite"})
	assert.Error(t, err)
}
