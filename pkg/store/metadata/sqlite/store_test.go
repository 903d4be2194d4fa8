package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/store/metadata/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.Store {
		s, err := New(Config{Path: filepath.Join(t.TempDir(), "drift.db")})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift.db")

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	err = s.AddAccount(context.Background(), &metadata.Account{ID: "user@cloud.example.com", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database must not fail or lose data.
	s, err = New(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	account, err := s.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user@cloud.example.com", account.ID)
}
