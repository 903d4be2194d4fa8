package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/store/metadata/storetest"
)

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) metadata.Store {
		s, err := New(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Path: dir})
	require.NoError(t, err)

	err = s.AddAccount(context.Background(), &metadata.Account{ID: "user@cloud.example.com", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopen and verify the account survived the restart.
	s, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	account, err := s.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user@cloud.example.com", account.ID)
}
