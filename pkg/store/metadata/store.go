package metadata

import (
	"context"
	"time"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store provides durable, transactional storage for the sync core's
// entities: accounts, metadata records, directory read-state, local-file
// cache records, and tags.
//
// Separation of Concerns:
//
// The store manages sync metadata only. File content lives on local disk
// under the provider storage root and on the remote server; the store never
// performs network calls or touches content files.
//
// Consistency Rules:
//   - OcID is globally unique per account and is the join key between
//     metadata, local files, tags, and item identifiers.
//   - A (ServerURL, FileName) pair is unique within an account at any
//     instant; rename/move updates it atomically.
//   - Every non-root directory metadata record has exactly one Directory
//     record keyed by the same OcID.
//   - Deleting a directory cascades to every record whose path is the
//     directory or a descendant, as one atomic unit.
//
// Write Semantics:
// Each logical mutation (including any cascade it implies) commits atomically
// or not at all. A write that cannot commit returns a StoreError with code
// ErrWriteFailure and leaves prior state unchanged. Mutating metadata under a
// directory clears that directory's read date so the next enumeration
// re-validates against the server.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Callers must not assume read-after-write consistency across two separate
// invocations without an explicit refresh.
type Store interface {
	// ========================================================================
	// Accounts
	// ========================================================================

	// AddAccount inserts or replaces an account by ID. If the account is
	// marked active, any previously active account is deactivated in the
	// same transaction.
	AddAccount(ctx context.Context, account *Account) error

	// GetAccount returns the account with the given ID.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccounts returns all configured accounts, ordered by ID.
	GetAccounts(ctx context.Context) ([]*Account, error)

	// GetActiveAccount returns the single active account, or ErrNotFound
	// when no account is active.
	GetActiveAccount(ctx context.Context) (*Account, error)

	// SetAccountActive marks the given account active and deactivates all
	// others atomically.
	SetAccountActive(ctx context.Context, id string) error

	// DeleteAccount removes the account and cascades to all of its
	// metadata, directory, local-file, and tag rows.
	DeleteAccount(ctx context.Context, id string) error

	// ========================================================================
	// Metadata
	// ========================================================================

	// UpsertMetadata inserts or replaces a record by OcID and clears the
	// owning directory's read date. Returns the stored record; a nil record
	// with nil error means the write was superseded by a concurrent writer
	// and the caller should retry the read.
	UpsertMetadata(ctx context.Context, record *Metadata) (*Metadata, error)

	// UpsertMetadatas inserts or replaces a batch of records in one
	// transaction, clearing the read date once per distinct
	// (ServerURL, Account) pair touched.
	UpsertMetadatas(ctx context.Context, records []*Metadata) error

	// GetMetadata returns the record with the given OcID.
	GetMetadata(ctx context.Context, account, ocID string) (*Metadata, error)

	// QueryMetadata returns all records whose ServerURL equals serverURL,
	// sorted by FileName ascending with OcID tie-break. The ordering is
	// stable so pagination offsets stay deterministic across calls.
	QueryMetadata(ctx context.Context, account, serverURL string) ([]*Metadata, error)

	// QueryMetadataStatus returns records under serverURL whose Status is
	// one of the given statuses, sorted like QueryMetadata.
	QueryMetadataStatus(ctx context.Context, account, serverURL string, statuses ...Status) ([]*Metadata, error)

	// DeleteMetadata removes the record with the given OcID and clears its
	// directory's read date. Missing records are not an error.
	DeleteMetadata(ctx context.Context, account, ocID string) error

	// DeleteTerminalMetadata removes all records under serverURL whose
	// Status is terminal (Normal or Hide), preserving records with
	// in-flight or errored transfers, and clears the directory's read date.
	DeleteTerminalMetadata(ctx context.Context, account, serverURL string) error

	// MoveMetadata updates the record's ServerURL, keeping OcID and
	// FileName unchanged.
	MoveMetadata(ctx context.Context, account, ocID, serverURLTo string) error

	// RenameMetadata updates FileName and FileNameView, clears the owning
	// directory's read date, and returns the updated record.
	RenameMetadata(ctx context.Context, account, ocID, newName string) (*Metadata, error)

	// SetMetadataFavorite updates the record's favorite flag.
	SetMetadataFavorite(ctx context.Context, account, ocID string, favorite bool) error

	// SetMetadataStatus updates the transfer state, owning session tag, and
	// session error of the record.
	SetMetadataStatus(ctx context.Context, account, ocID string, status Status, session, sessionError string) error

	// SetMetadataEtag updates the record's etag.
	SetMetadataEtag(ctx context.Context, account, ocID, etag string) error

	// ========================================================================
	// Directories
	// ========================================================================

	// AddDirectory inserts or replaces a directory record by OcID and
	// returns the stored record.
	AddDirectory(ctx context.Context, record *Directory) (*Directory, error)

	// GetDirectory returns the directory record whose own path equals
	// serverURL.
	GetDirectory(ctx context.Context, account, serverURL string) (*Directory, error)

	// GetDirectoryByID returns the directory record with the given OcID.
	GetDirectoryByID(ctx context.Context, account, ocID string) (*Directory, error)

	// SetDirectory applies the non-nil fields of change to the directory at
	// serverURL: etag, OcID, destination path, encryption flag, permissions,
	// favorite flag.
	SetDirectory(ctx context.Context, account, serverURL string, change DirectoryChange) error

	// RenameDirectory updates the path of the directory with the given
	// OcID.
	RenameDirectory(ctx context.Context, account, ocID, serverURLTo string) error

	// SetDirectoryDateRead records the time of the last successful remote
	// refresh of the directory at serverURL.
	SetDirectoryDateRead(ctx context.Context, account, serverURL string, readAt time.Time) error

	// ClearDirectoryDateRead clears the read date and etag of the directory
	// at serverURL, forcing a refresh on the next enumeration.
	ClearDirectoryDateRead(ctx context.Context, account, serverURL string) error

	// SetDirectoryLock sets the lock flag that excludes the directory's
	// contents from media aggregation.
	SetDirectoryLock(ctx context.Context, account, serverURL string, lock bool) error

	// DeleteDirectoryAndSubtree removes the directory at serverURL and every
	// directory whose path begins with serverURL + "/", plus their metadata,
	// local-file, and tag rows, as one atomic unit. Partial deletion must
	// never be observable.
	DeleteDirectoryAndSubtree(ctx context.Context, account, serverURL string) error

	// ========================================================================
	// Local Files
	// ========================================================================

	// SetLocalFile inserts or replaces a local-file record by OcID.
	SetLocalFile(ctx context.Context, record *LocalFile) error

	// GetLocalFile returns the local-file record with the given OcID.
	GetLocalFile(ctx context.Context, account, ocID string) (*LocalFile, error)

	// UpdateLocalFile applies the non-nil fields of change (date, etag,
	// file name) to the local-file record with the given OcID.
	UpdateLocalFile(ctx context.Context, account, ocID string, change LocalFileChange) error

	// DeleteLocalFile removes the local-file record with the given OcID.
	// Missing records are not an error.
	DeleteLocalFile(ctx context.Context, account, ocID string) error

	// ========================================================================
	// Tags
	// ========================================================================

	// SetTag stores the tag blob for the given OcID. nil data deletes the
	// tag.
	SetTag(ctx context.Context, account, ocID string, data []byte) error

	// GetTag returns the tag for the given OcID.
	GetTag(ctx context.Context, account, ocID string) (*Tag, error)

	// ListTags returns all tags of the account, ordered by OcID.
	ListTags(ctx context.Context, account string) ([]*Tag, error)

	// ========================================================================
	// Derived Views
	// ========================================================================

	// FavoriteRank scans directory-type records with Favorite set, sorted
	// by FileNameView ascending, and returns OcID -> rank with ranks
	// assigned as a strictly increasing sequence starting at base+1. The
	// reserved range [0, base] stays free for externally pinned ranks.
	FavoriteRank(ctx context.Context, account string, base int64) (map[string]int64, error)

	// ========================================================================
	// Lifecycle
	// ========================================================================

	// Healthcheck verifies the store is operational. Should be fast, must
	// not modify state.
	Healthcheck(ctx context.Context) error

	// Close releases all resources. The store must not be used afterwards.
	Close() error
}

// DirectoryChange is a partial update for SetDirectory. Only non-nil fields
// are applied.
type DirectoryChange struct {
	Etag         *string
	OcID         *string
	ServerURLTo  *string
	E2EEncrypted *bool
	Permissions  *string
	Favorite     *bool
}

// LocalFileChange is a partial update for UpdateLocalFile. Only non-nil
// fields are applied.
type LocalFileChange struct {
	Date     *time.Time
	Etag     *string
	FileName *string
}
