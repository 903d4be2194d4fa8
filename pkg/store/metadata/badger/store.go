// Package badger provides a persistent metadata store backed by BadgerDB.
//
// This is the default backend. It is suitable for production use where sync
// state must survive process restarts: the etag cache, transfer states, and
// favorite flags all persist, so a restarted provider resumes from its last
// known view instead of re-listing the whole server.
package badger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Store is a BadgerDB-backed implementation of metadata.Store.
//
// Thread Safety:
// All operations are protected by a single read-write mutex in addition to
// Badger's internal MVCC. The coarse lock keeps multi-key mutations (index
// maintenance, cascading deletes) atomic with respect to concurrent readers
// without retry loops on transaction conflicts.
//
// Storage Model:
// Namespaced key prefixes organize the entity types (see keys.go). Metadata
// records carry a denormalized directory index so that listing a path is a
// range scan instead of a full namespace walk.
type Store struct {
	db *badger.DB
	mu sync.RWMutex
}

// Config holds the knobs for opening a Badger store.
type Config struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string

	// InMemory opens a non-persistent database. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync after every commit. Slower but survives
	// power loss without losing acknowledged writes.
	SyncWrites bool
}

// New opens (or creates) a Badger database at cfg.Path.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, metadata.WriteFailure("failed to open badger database: "+err.Error(), cfg.Path)
	}
	return &Store{db: db}, nil
}

// ============================================================================
// Accounts
// ============================================================================

func (s *Store) AddAccount(ctx context.Context, account *metadata.Account) error {
	if account == nil || account.ID == "" {
		return metadata.InvalidArgument("account ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if account.Active {
			if err := s.deactivateAllLocked(txn); err != nil {
				return err
			}
		}
		return setJSON(txn, accountKey(account.ID), account)
	})
}

func (s *Store) GetAccount(ctx context.Context, id string) (*metadata.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var account metadata.Account
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(id), &account)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NotFound("account not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) GetAccounts(ctx context.Context) ([]*metadata.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Account
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(prefixAccount), func(item *badger.Item) error {
			var account metadata.Account
			if err := item.Value(func(val []byte) error {
				return decodeJSON(val, &account)
			}); err != nil {
				return err
			}
			out = append(out, &account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActiveAccount(ctx context.Context) (*metadata.Account, error) {
	accounts, err := s.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		if account.Active {
			return account, nil
		}
	}
	return nil, metadata.NotFound("no active account", "")
}

func (s *Store) SetAccountActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		var target metadata.Account
		if err := getJSON(txn, accountKey(id), &target); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.NotFound("account not found", id)
			}
			return err
		}
		if err := s.deactivateAllLocked(txn); err != nil {
			return err
		}
		target.Active = true
		return setJSON(txn, accountKey(id), &target)
	})
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(accountKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.NotFound("account not found", id)
			}
			return err
		}

		// Cascade over every namespace belonging to the account.
		prefixes := [][]byte{
			metadataPrefix(id),
			[]byte(prefixDirIndex + id + sep),
			directoryPrefix(id),
			localFilePrefix(id),
			tagPrefix(id),
		}

		for _, prefix := range prefixes {
			keys, err := collectKeys(txn, prefix)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return metadata.WriteFailure("failed to delete record: "+err.Error(), string(key))
				}
			}
		}
		if err := txn.Delete(accountKey(id)); err != nil {
			return metadata.WriteFailure("failed to delete account: "+err.Error(), id)
		}
		return nil
	})
}

// ============================================================================
// Metadata
// ============================================================================

func (s *Store) UpsertMetadata(ctx context.Context, record *metadata.Metadata) (*metadata.Metadata, error) {
	if record == nil || record.OcID == "" || record.Account == "" {
		return nil, metadata.InvalidArgument("metadata requires ocId and account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return s.upsertLocked(txn, record)
	})
	if err != nil {
		return nil, err
	}
	clone := *record
	return &clone, nil
}

func (s *Store) UpsertMetadatas(ctx context.Context, records []*metadata.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		for _, record := range records {
			if record == nil || record.OcID == "" || record.Account == "" {
				return metadata.InvalidArgument("metadata requires ocId and account")
			}
			if err := s.upsertLocked(txn, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetMetadata(ctx context.Context, account, ocID string) (*metadata.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record metadata.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, metadataKey(account, ocID), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NotFound("metadata not found", ocID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) QueryMetadata(ctx context.Context, account, serverURL string) ([]*metadata.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		records, err := s.listLocked(txn, account, serverURL)
		if err != nil {
			return err
		}
		out = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	metadata.SortMetadatas(out)
	return out, nil
}

func (s *Store) QueryMetadataStatus(ctx context.Context, account, serverURL string, statuses ...metadata.Status) ([]*metadata.Metadata, error) {
	records, err := s.QueryMetadata(ctx, account, serverURL)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, record := range records {
		for _, status := range statuses {
			if record.Status == status {
				out = append(out, record)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) DeleteMetadata(ctx context.Context, account, ocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		var record metadata.Metadata
		if err := getJSON(txn, metadataKey(account, ocID), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if err := s.deleteRecordLocked(txn, &record); err != nil {
			return err
		}
		return s.clearDateReadLocked(txn, account, record.ServerURL)
	})
}

func (s *Store) DeleteTerminalMetadata(ctx context.Context, account, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		records, err := s.listLocked(txn, account, serverURL)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Status.IsTerminal() {
				if err := s.deleteRecordLocked(txn, record); err != nil {
					return err
				}
			}
		}
		return s.clearDateReadLocked(txn, account, serverURL)
	})
}

func (s *Store) MoveMetadata(ctx context.Context, account, ocID, serverURLTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		record, err := s.getLocked(txn, account, ocID)
		if err != nil {
			return err
		}
		if err := txn.Delete(dirIndexKey(account, record.ServerURL, ocID)); err != nil {
			return metadata.WriteFailure("failed to update directory index: "+err.Error(), ocID)
		}
		if err := s.clearDateReadLocked(txn, account, record.ServerURL); err != nil {
			return err
		}
		record.ServerURL = serverURLTo
		if err := s.writeRecordLocked(txn, record); err != nil {
			return err
		}
		return s.clearDateReadLocked(txn, account, serverURLTo)
	})
}

func (s *Store) RenameMetadata(ctx context.Context, account, ocID, newName string) (*metadata.Metadata, error) {
	if newName == "" {
		return nil, metadata.InvalidArgument("new name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out *metadata.Metadata
	err := s.db.Update(func(txn *badger.Txn) error {
		record, err := s.getLocked(txn, account, ocID)
		if err != nil {
			return err
		}
		record.FileName = newName
		record.FileNameView = newName
		if err := s.writeRecordLocked(txn, record); err != nil {
			return err
		}
		if err := s.clearDateReadLocked(txn, account, record.ServerURL); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetMetadataFavorite(ctx context.Context, account, ocID string, favorite bool) error {
	return s.mutateRecord(account, ocID, func(record *metadata.Metadata) {
		record.Favorite = favorite
	})
}

func (s *Store) SetMetadataStatus(ctx context.Context, account, ocID string, status metadata.Status, session, sessionError string) error {
	return s.mutateRecord(account, ocID, func(record *metadata.Metadata) {
		record.Status = status
		record.Session = session
		record.SessionError = sessionError
	})
}

func (s *Store) SetMetadataEtag(ctx context.Context, account, ocID, etag string) error {
	return s.mutateRecord(account, ocID, func(record *metadata.Metadata) {
		record.Etag = etag
	})
}

// ============================================================================
// Directories
// ============================================================================

func (s *Store) AddDirectory(ctx context.Context, record *metadata.Directory) (*metadata.Directory, error) {
	if record == nil || record.OcID == "" || record.Account == "" {
		return nil, metadata.InvalidArgument("directory requires ocId and account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, directoryKey(record.Account, record.OcID), record)
	})
	if err != nil {
		return nil, err
	}
	clone := *record
	return &clone, nil
}

func (s *Store) GetDirectory(ctx context.Context, account, serverURL string) (*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out *metadata.Directory
	err := s.db.View(func(txn *badger.Txn) error {
		record, err := s.findDirectoryLocked(txn, account, serverURL)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetDirectoryByID(ctx context.Context, account, ocID string) (*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record metadata.Directory
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, directoryKey(account, ocID), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NotFound("directory not found", ocID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) SetDirectory(ctx context.Context, account, serverURL string, change metadata.DirectoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		record, err := s.findDirectoryLocked(txn, account, serverURL)
		if err != nil {
			return err
		}
		if change.OcID != nil && *change.OcID != record.OcID {
			if err := txn.Delete(directoryKey(account, record.OcID)); err != nil {
				return metadata.WriteFailure("failed to re-key directory: "+err.Error(), record.OcID)
			}
			record.OcID = *change.OcID
		}
		if change.Etag != nil {
			record.Etag = *change.Etag
		}
		if change.ServerURLTo != nil {
			record.ServerURL = *change.ServerURLTo
		}
		if change.E2EEncrypted != nil {
			record.E2EEncrypted = *change.E2EEncrypted
		}
		if change.Permissions != nil {
			record.Permissions = *change.Permissions
		}
		if change.Favorite != nil {
			record.Favorite = *change.Favorite
		}
		return setJSON(txn, directoryKey(account, record.OcID), record)
	})
}

func (s *Store) RenameDirectory(ctx context.Context, account, ocID, serverURLTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		var record metadata.Directory
		if err := getJSON(txn, directoryKey(account, ocID), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.NotFound("directory not found", ocID)
			}
			return err
		}
		record.ServerURL = serverURLTo
		return setJSON(txn, directoryKey(account, ocID), &record)
	})
}

func (s *Store) SetDirectoryDateRead(ctx context.Context, account, serverURL string, readAt time.Time) error {
	return s.mutateDirectory(account, serverURL, func(record *metadata.Directory) {
		at := readAt
		record.DateRead = &at
	})
}

func (s *Store) ClearDirectoryDateRead(ctx context.Context, account, serverURL string) error {
	return s.mutateDirectory(account, serverURL, func(record *metadata.Directory) {
		record.DateRead = nil
		record.Etag = ""
	})
}

func (s *Store) SetDirectoryLock(ctx context.Context, account, serverURL string, lock bool) error {
	return s.mutateDirectory(account, serverURL, func(record *metadata.Directory) {
		record.Lock = lock
	})
}

func (s *Store) DeleteDirectoryAndSubtree(ctx context.Context, account, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := serverURL + "/"
	inSubtree := func(path string) bool {
		return path == serverURL || strings.HasPrefix(path, prefix)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		// Metadata records (and their local files and tags) go first so the
		// directory index stays consistent until the end of the transaction.
		var doomed []*metadata.Metadata
		err := scanPrefix(txn, metadataPrefix(account), func(item *badger.Item) error {
			var record metadata.Metadata
			if err := item.Value(func(val []byte) error {
				return decodeJSON(val, &record)
			}); err != nil {
				return err
			}
			if inSubtree(record.ServerURL) {
				doomed = append(doomed, &record)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, record := range doomed {
			if err := s.deleteRecordLocked(txn, record); err != nil {
				return err
			}
			if err := txn.Delete(localFileKey(account, record.OcID)); err != nil {
				return metadata.WriteFailure("failed to delete local file: "+err.Error(), record.OcID)
			}
			if err := txn.Delete(tagKey(account, record.OcID)); err != nil {
				return metadata.WriteFailure("failed to delete tag: "+err.Error(), record.OcID)
			}
		}

		var doomedDirs [][]byte
		err = scanPrefix(txn, directoryPrefix(account), func(item *badger.Item) error {
			var record metadata.Directory
			if err := item.Value(func(val []byte) error {
				return decodeJSON(val, &record)
			}); err != nil {
				return err
			}
			if inSubtree(record.ServerURL) {
				doomedDirs = append(doomedDirs, item.KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range doomedDirs {
			if err := txn.Delete(key); err != nil {
				return metadata.WriteFailure("failed to delete directory: "+err.Error(), string(key))
			}
		}
		return nil
	})
}

// ============================================================================
// Local Files
// ============================================================================

func (s *Store) SetLocalFile(ctx context.Context, record *metadata.LocalFile) error {
	if record == nil || record.OcID == "" || record.Account == "" {
		return metadata.InvalidArgument("local file requires ocId and account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, localFileKey(record.Account, record.OcID), record)
	})
}

func (s *Store) GetLocalFile(ctx context.Context, account, ocID string) (*metadata.LocalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record metadata.LocalFile
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, localFileKey(account, ocID), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NotFound("local file not found", ocID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) UpdateLocalFile(ctx context.Context, account, ocID string, change metadata.LocalFileChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		var record metadata.LocalFile
		if err := getJSON(txn, localFileKey(account, ocID), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.NotFound("local file not found", ocID)
			}
			return err
		}
		if change.Date != nil {
			record.Date = *change.Date
		}
		if change.Etag != nil {
			record.Etag = *change.Etag
		}
		if change.FileName != nil {
			record.FileName = *change.FileName
		}
		return setJSON(txn, localFileKey(account, ocID), &record)
	})
}

func (s *Store) DeleteLocalFile(ctx context.Context, account, ocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(localFileKey(account, ocID)); err != nil {
			return metadata.WriteFailure("failed to delete local file: "+err.Error(), ocID)
		}
		return nil
	})
}

// ============================================================================
// Tags
// ============================================================================

func (s *Store) SetTag(ctx context.Context, account, ocID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if data == nil {
			if err := txn.Delete(tagKey(account, ocID)); err != nil {
				return metadata.WriteFailure("failed to delete tag: "+err.Error(), ocID)
			}
			return nil
		}
		record := metadata.Tag{OcID: ocID, Account: account, Data: data}
		return setJSON(txn, tagKey(account, ocID), &record)
	})
}

func (s *Store) GetTag(ctx context.Context, account, ocID string) (*metadata.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record metadata.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, tagKey(account, ocID), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.NotFound("tag not found", ocID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListTags(ctx context.Context, account string) ([]*metadata.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, tagPrefix(account), func(item *badger.Item) error {
			var record metadata.Tag
			if err := item.Value(func(val []byte) error {
				return decodeJSON(val, &record)
			}); err != nil {
				return err
			}
			out = append(out, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OcID < out[j].OcID })
	return out, nil
}

// ============================================================================
// Derived Views
// ============================================================================

func (s *Store) FavoriteRank(ctx context.Context, account string, base int64) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*metadata.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, metadataPrefix(account), func(item *badger.Item) error {
			var record metadata.Metadata
			if err := item.Value(func(val []byte) error {
				return decodeJSON(val, &record)
			}); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return metadata.ComputeFavoriteRank(records, base), nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db.IsClosed() {
		return metadata.WriteFailure("database is closed", "")
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// ============================================================================
// Helpers (callers hold s.mu)
// ============================================================================

func (s *Store) upsertLocked(txn *badger.Txn, record *metadata.Metadata) error {
	var existing metadata.Metadata
	err := getJSON(txn, metadataKey(record.Account, record.OcID), &existing)
	switch {
	case err == nil:
		if existing.ServerURL != record.ServerURL {
			if err := txn.Delete(dirIndexKey(record.Account, existing.ServerURL, record.OcID)); err != nil {
				return metadata.WriteFailure("failed to update directory index: "+err.Error(), record.OcID)
			}
			if err := s.clearDateReadLocked(txn, record.Account, existing.ServerURL); err != nil {
				return err
			}
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return err
	}
	if err := s.writeRecordLocked(txn, record); err != nil {
		return err
	}
	return s.clearDateReadLocked(txn, record.Account, record.ServerURL)
}

// writeRecordLocked writes the m: entry and its c: index entry.
func (s *Store) writeRecordLocked(txn *badger.Txn, record *metadata.Metadata) error {
	if err := setJSON(txn, metadataKey(record.Account, record.OcID), record); err != nil {
		return err
	}
	key := dirIndexKey(record.Account, record.ServerURL, record.OcID)
	if err := txn.Set(key, []byte(record.OcID)); err != nil {
		return metadata.WriteFailure("failed to write directory index: "+err.Error(), record.OcID)
	}
	return nil
}

func (s *Store) deleteRecordLocked(txn *badger.Txn, record *metadata.Metadata) error {
	if err := txn.Delete(metadataKey(record.Account, record.OcID)); err != nil {
		return metadata.WriteFailure("failed to delete metadata: "+err.Error(), record.OcID)
	}
	if err := txn.Delete(dirIndexKey(record.Account, record.ServerURL, record.OcID)); err != nil {
		return metadata.WriteFailure("failed to delete directory index: "+err.Error(), record.OcID)
	}
	return nil
}

func (s *Store) getLocked(txn *badger.Txn, account, ocID string) (*metadata.Metadata, error) {
	var record metadata.Metadata
	if err := getJSON(txn, metadataKey(account, ocID), &record); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, metadata.NotFound("metadata not found", ocID)
		}
		return nil, err
	}
	return &record, nil
}

// listLocked resolves the directory index into full metadata records.
func (s *Store) listLocked(txn *badger.Txn, account, serverURL string) ([]*metadata.Metadata, error) {
	var ocIDs []string
	err := scanPrefix(txn, dirIndexPrefix(account, serverURL), func(item *badger.Item) error {
		return item.Value(func(val []byte) error {
			ocIDs = append(ocIDs, string(val))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]*metadata.Metadata, 0, len(ocIDs))
	for _, ocID := range ocIDs {
		record, err := s.getLocked(txn, account, ocID)
		if err != nil {
			if metadata.IsNotFound(err) {
				// Dangling index entry; skip rather than fail the listing.
				continue
			}
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) findDirectoryLocked(txn *badger.Txn, account, serverURL string) (*metadata.Directory, error) {
	var found *metadata.Directory
	err := scanPrefix(txn, directoryPrefix(account), func(item *badger.Item) error {
		if found != nil {
			return nil
		}
		var record metadata.Directory
		if err := item.Value(func(val []byte) error {
			return decodeJSON(val, &record)
		}); err != nil {
			return err
		}
		if record.ServerURL == serverURL {
			found = &record
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, metadata.NotFound("directory not found", serverURL)
	}
	return found, nil
}

func (s *Store) clearDateReadLocked(txn *badger.Txn, account, serverURL string) error {
	record, err := s.findDirectoryLocked(txn, account, serverURL)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil
		}
		return err
	}
	record.DateRead = nil
	return setJSON(txn, directoryKey(account, record.OcID), record)
}

func (s *Store) mutateRecord(account, ocID string, mutate func(*metadata.Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		record, err := s.getLocked(txn, account, ocID)
		if err != nil {
			return err
		}
		mutate(record)
		return setJSON(txn, metadataKey(account, ocID), record)
	})
}

func (s *Store) mutateDirectory(account, serverURL string, mutate func(*metadata.Directory)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		record, err := s.findDirectoryLocked(txn, account, serverURL)
		if err != nil {
			return err
		}
		mutate(record)
		return setJSON(txn, directoryKey(account, record.OcID), record)
	})
}

func (s *Store) deactivateAllLocked(txn *badger.Txn) error {
	var accounts []*metadata.Account
	err := scanPrefix(txn, []byte(prefixAccount), func(item *badger.Item) error {
		var account metadata.Account
		if err := item.Value(func(val []byte) error {
			return decodeJSON(val, &account)
		}); err != nil {
			return err
		}
		if account.Active {
			accounts = append(accounts, &account)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, account := range accounts {
		account.Active = false
		if err := setJSON(txn, accountKey(account.ID), account); err != nil {
			return err
		}
	}
	return nil
}

func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := scanPrefix(txn, prefix, func(item *badger.Item) error {
		keys = append(keys, item.KeyCopy(nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
