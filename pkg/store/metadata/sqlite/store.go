// Package sqlite provides a metadata store backed by SQLite.
//
// The backend targets deployments that want a single-file database with
// standard tooling: the schema is queryable with the sqlite3 CLI, and schema
// evolution runs through versioned migrations applied at open time.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Store is a SQLite-backed implementation of metadata.Store.
//
// Every logical mutation runs inside a single transaction, so cascades and
// index maintenance are atomic. SQLite serializes writers internally; the
// busy timeout set at open time makes concurrent writers queue instead of
// failing with SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Config holds the knobs for opening a SQLite store.
type Config struct {
	// Path is the database file. ":memory:" opens a non-persistent database
	// for tests.
	Path string
}

// New opens the database, applies pragmas, and migrates the schema to the
// latest version.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, metadata.WriteFailure("failed to open database: "+err.Error(), cfg.Path)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, metadata.WriteFailure("failed to apply pragma: "+err.Error(), cfg.Path)
		}
	}

	// A single connection keeps the in-memory database coherent and avoids
	// writer contention on file databases.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, metadata.WriteFailure("failed to migrate schema: "+err.Error(), cfg.Path)
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

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if account.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE accounts SET active = 0`); err != nil {
				return metadata.WriteFailure("failed to deactivate accounts: "+err.Error(), account.ID)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, user, user_id, server_url, home_server_url, password, active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				user = excluded.user,
				user_id = excluded.user_id,
				server_url = excluded.server_url,
				home_server_url = excluded.home_server_url,
				password = excluded.password,
				active = excluded.active`,
			account.ID, account.User, account.UserID, account.ServerURL,
			account.HomeServerURL, account.Password, account.Active)
		if err != nil {
			return metadata.WriteFailure("failed to upsert account: "+err.Error(), account.ID)
		}
		return nil
	})
}

func (s *Store) GetAccount(ctx context.Context, id string) (*metadata.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user, user_id, server_url, home_server_url, password, active
		FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("account not found", id)
	}
	return account, err
}

func (s *Store) GetAccounts(ctx context.Context) ([]*metadata.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, user_id, server_url, home_server_url, password, active
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, metadata.WriteFailure("failed to query accounts: "+err.Error(), "")
	}
	defer rows.Close()

	var out []*metadata.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *Store) GetActiveAccount(ctx context.Context) (*metadata.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user, user_id, server_url, home_server_url, password, active
		FROM accounts WHERE active = 1`)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("no active account", "")
	}
	return account, err
}

func (s *Store) SetAccountActive(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET active = 0`); err != nil {
			return metadata.WriteFailure("failed to deactivate accounts: "+err.Error(), id)
		}
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET active = 1 WHERE id = ?`, id)
		if err != nil {
			return metadata.WriteFailure("failed to activate account: "+err.Error(), id)
		}
		return requireRows(res, metadata.NotFound("account not found", id))
	})
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return metadata.WriteFailure("failed to delete account: "+err.Error(), id)
		}
		if err := requireRows(res, metadata.NotFound("account not found", id)); err != nil {
			return err
		}
		for _, table := range []string{"metadata", "directories", "local_files", "tags"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE account = ?`, id); err != nil {
				return metadata.WriteFailure("failed to cascade delete "+table+": "+err.Error(), id)
			}
		}
		return nil
	})
}

// ============================================================================
// Metadata
// ============================================================================

const metadataColumns = `account, oc_id, server_url, file_name, file_name_view, etag,
	directory, size, date, favorite, status, session, session_error,
	e2e_encrypted, permissions, has_preview, content_type`

func (s *Store) UpsertMetadata(ctx context.Context, record *metadata.Metadata) (*metadata.Metadata, error) {
	if record == nil || record.OcID == "" || record.Account == "" {
		return nil, metadata.InvalidArgument("metadata requires ocId and account")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertMetadataTx(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}
	clone := *record
	return &clone, nil
}

func (s *Store) UpsertMetadatas(ctx context.Context, records []*metadata.Metadata) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, record := range records {
			if record == nil || record.OcID == "" || record.Account == "" {
				return metadata.InvalidArgument("metadata requires ocId and account")
			}
			if err := upsertMetadataTx(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetMetadata(ctx context.Context, account, ocID string) (*metadata.Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+` FROM metadata
		WHERE account = ? AND oc_id = ?`, account, ocID)
	record, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("metadata not found", ocID)
	}
	return record, err
}

func (s *Store) QueryMetadata(ctx context.Context, account, serverURL string) ([]*metadata.Metadata, error) {
	return s.queryMetadata(ctx, `
		SELECT `+metadataColumns+` FROM metadata
		WHERE account = ? AND server_url = ?
		ORDER BY file_name, oc_id`, account, serverURL)
}

func (s *Store) QueryMetadataStatus(ctx context.Context, account, serverURL string, statuses ...metadata.Status) ([]*metadata.Metadata, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{account, serverURL}
	for _, status := range statuses {
		args = append(args, int(status))
	}
	return s.queryMetadata(ctx, `
		SELECT `+metadataColumns+` FROM metadata
		WHERE account = ? AND server_url = ? AND status IN (`+placeholders+`)
		ORDER BY file_name, oc_id`, args...)
}

func (s *Store) DeleteMetadata(ctx context.Context, account, ocID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var serverURL string
		err := tx.QueryRowContext(ctx,
			`SELECT server_url FROM metadata WHERE account = ? AND oc_id = ?`,
			account, ocID).Scan(&serverURL)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return metadata.WriteFailure("failed to look up metadata: "+err.Error(), ocID)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metadata WHERE account = ? AND oc_id = ?`, account, ocID); err != nil {
			return metadata.WriteFailure("failed to delete metadata: "+err.Error(), ocID)
		}
		return clearDateReadTx(ctx, tx, account, serverURL)
	})
}

func (s *Store) DeleteTerminalMetadata(ctx context.Context, account, serverURL string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM metadata
			WHERE account = ? AND server_url = ? AND status IN (?, ?)`,
			account, serverURL, int(metadata.StatusNormal), int(metadata.StatusHide))
		if err != nil {
			return metadata.WriteFailure("failed to delete metadata: "+err.Error(), serverURL)
		}
		return clearDateReadTx(ctx, tx, account, serverURL)
	})
}

func (s *Store) MoveMetadata(ctx context.Context, account, ocID, serverURLTo string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var serverURLFrom string
		err := tx.QueryRowContext(ctx,
			`SELECT server_url FROM metadata WHERE account = ? AND oc_id = ?`,
			account, ocID).Scan(&serverURLFrom)
		if errors.Is(err, sql.ErrNoRows) {
			return metadata.NotFound("metadata not found", ocID)
		}
		if err != nil {
			return metadata.WriteFailure("failed to look up metadata: "+err.Error(), ocID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE metadata SET server_url = ? WHERE account = ? AND oc_id = ?`,
			serverURLTo, account, ocID); err != nil {
			return metadata.WriteFailure("failed to move metadata: "+err.Error(), ocID)
		}
		if err := clearDateReadTx(ctx, tx, account, serverURLFrom); err != nil {
			return err
		}
		return clearDateReadTx(ctx, tx, account, serverURLTo)
	})
}

func (s *Store) RenameMetadata(ctx context.Context, account, ocID, newName string) (*metadata.Metadata, error) {
	if newName == "" {
		return nil, metadata.InvalidArgument("new name is required")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE metadata SET file_name = ?, file_name_view = ?
			WHERE account = ? AND oc_id = ?`, newName, newName, account, ocID)
		if err != nil {
			return metadata.WriteFailure("failed to rename metadata: "+err.Error(), ocID)
		}
		if err := requireRows(res, metadata.NotFound("metadata not found", ocID)); err != nil {
			return err
		}
		var serverURL string
		if err := tx.QueryRowContext(ctx,
			`SELECT server_url FROM metadata WHERE account = ? AND oc_id = ?`,
			account, ocID).Scan(&serverURL); err != nil {
			return metadata.WriteFailure("failed to look up metadata: "+err.Error(), ocID)
		}
		return clearDateReadTx(ctx, tx, account, serverURL)
	})
	if err != nil {
		return nil, err
	}
	return s.GetMetadata(ctx, account, ocID)
}

func (s *Store) SetMetadataFavorite(ctx context.Context, account, ocID string, favorite bool) error {
	return s.updateMetadataField(ctx, account, ocID,
		`UPDATE metadata SET favorite = ? WHERE account = ? AND oc_id = ?`, favorite)
}

func (s *Store) SetMetadataStatus(ctx context.Context, account, ocID string, status metadata.Status, session, sessionError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE metadata SET status = ?, session = ?, session_error = ?
		WHERE account = ? AND oc_id = ?`,
		int(status), session, sessionError, account, ocID)
	if err != nil {
		return metadata.WriteFailure("failed to update status: "+err.Error(), ocID)
	}
	return requireRows(res, metadata.NotFound("metadata not found", ocID))
}

func (s *Store) SetMetadataEtag(ctx context.Context, account, ocID, etag string) error {
	return s.updateMetadataField(ctx, account, ocID,
		`UPDATE metadata SET etag = ? WHERE account = ? AND oc_id = ?`, etag)
}

// ============================================================================
// Directories
// ============================================================================

const directoryColumns = `account, oc_id, server_url, etag, permissions, favorite,
	e2e_encrypted, lock, date_read`

func (s *Store) AddDirectory(ctx context.Context, record *metadata.Directory) (*metadata.Directory, error) {
	if record == nil || record.OcID == "" || record.Account == "" {
		return nil, metadata.InvalidArgument("directory requires ocId and account")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO directories (account, oc_id, server_url, etag, permissions, favorite, e2e_encrypted, lock, date_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, oc_id) DO UPDATE SET
			server_url = excluded.server_url,
			etag = excluded.etag,
			permissions = excluded.permissions,
			favorite = excluded.favorite,
			e2e_encrypted = excluded.e2e_encrypted,
			lock = excluded.lock,
			date_read = excluded.date_read`,
		record.Account, record.OcID, record.ServerURL, record.Etag,
		record.Permissions, record.Favorite, record.E2EEncrypted, record.Lock,
		nullableTime(record.DateRead))
	if err != nil {
		return nil, metadata.WriteFailure("failed to upsert directory: "+err.Error(), record.OcID)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) GetDirectory(ctx context.Context, account, serverURL string) (*metadata.Directory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+directoryColumns+` FROM directories
		WHERE account = ? AND server_url = ?`, account, serverURL)
	record, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("directory not found", serverURL)
	}
	return record, err
}

func (s *Store) GetDirectoryByID(ctx context.Context, account, ocID string) (*metadata.Directory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+directoryColumns+` FROM directories
		WHERE account = ? AND oc_id = ?`, account, ocID)
	record, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("directory not found", ocID)
	}
	return record, err
}

func (s *Store) SetDirectory(ctx context.Context, account, serverURL string, change metadata.DirectoryChange) error {
	var sets []string
	var args []any
	if change.OcID != nil {
		sets, args = append(sets, "oc_id = ?"), append(args, *change.OcID)
	}
	if change.Etag != nil {
		sets, args = append(sets, "etag = ?"), append(args, *change.Etag)
	}
	if change.ServerURLTo != nil {
		sets, args = append(sets, "server_url = ?"), append(args, *change.ServerURLTo)
	}
	if change.E2EEncrypted != nil {
		sets, args = append(sets, "e2e_encrypted = ?"), append(args, *change.E2EEncrypted)
	}
	if change.Permissions != nil {
		sets, args = append(sets, "permissions = ?"), append(args, *change.Permissions)
	}
	if change.Favorite != nil {
		sets, args = append(sets, "favorite = ?"), append(args, *change.Favorite)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, account, serverURL)

	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET `+strings.Join(sets, ", ")+`
		WHERE account = ? AND server_url = ?`, args...)
	if err != nil {
		return metadata.WriteFailure("failed to update directory: "+err.Error(), serverURL)
	}
	return requireRows(res, metadata.NotFound("directory not found", serverURL))
}

func (s *Store) RenameDirectory(ctx context.Context, account, ocID, serverURLTo string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET server_url = ? WHERE account = ? AND oc_id = ?`,
		serverURLTo, account, ocID)
	if err != nil {
		return metadata.WriteFailure("failed to rename directory: "+err.Error(), ocID)
	}
	return requireRows(res, metadata.NotFound("directory not found", ocID))
}

func (s *Store) SetDirectoryDateRead(ctx context.Context, account, serverURL string, readAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET date_read = ? WHERE account = ? AND server_url = ?`,
		readAt, account, serverURL)
	if err != nil {
		return metadata.WriteFailure("failed to set read date: "+err.Error(), serverURL)
	}
	return requireRows(res, metadata.NotFound("directory not found", serverURL))
}

func (s *Store) ClearDirectoryDateRead(ctx context.Context, account, serverURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET date_read = NULL, etag = '' WHERE account = ? AND server_url = ?`,
		account, serverURL)
	if err != nil {
		return metadata.WriteFailure("failed to clear read date: "+err.Error(), serverURL)
	}
	return requireRows(res, metadata.NotFound("directory not found", serverURL))
}

func (s *Store) SetDirectoryLock(ctx context.Context, account, serverURL string, lock bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET lock = ? WHERE account = ? AND server_url = ?`,
		lock, account, serverURL)
	if err != nil {
		return metadata.WriteFailure("failed to set lock: "+err.Error(), serverURL)
	}
	return requireRows(res, metadata.NotFound("directory not found", serverURL))
}

func (s *Store) DeleteDirectoryAndSubtree(ctx context.Context, account, serverURL string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		prefix := serverURL + "/"
		for _, stmt := range []string{
			`DELETE FROM local_files WHERE account = ?1 AND oc_id IN
				(SELECT oc_id FROM metadata WHERE account = ?1 AND (server_url = ?2 OR server_url LIKE ?3 ESCAPE '\'))`,
			`DELETE FROM tags WHERE account = ?1 AND oc_id IN
				(SELECT oc_id FROM metadata WHERE account = ?1 AND (server_url = ?2 OR server_url LIKE ?3 ESCAPE '\'))`,
			`DELETE FROM metadata WHERE account = ?1 AND (server_url = ?2 OR server_url LIKE ?3 ESCAPE '\')`,
			`DELETE FROM directories WHERE account = ?1 AND (server_url = ?2 OR server_url LIKE ?3 ESCAPE '\')`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, account, serverURL, escapeLike(prefix)+"%"); err != nil {
				return metadata.WriteFailure("failed to delete subtree: "+err.Error(), serverURL)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_files (account, oc_id, file_name, etag, date, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, oc_id) DO UPDATE SET
			file_name = excluded.file_name,
			etag = excluded.etag,
			date = excluded.date,
			size = excluded.size`,
		record.Account, record.OcID, record.FileName, record.Etag, record.Date, record.Size)
	if err != nil {
		return metadata.WriteFailure("failed to upsert local file: "+err.Error(), record.OcID)
	}
	return nil
}

func (s *Store) GetLocalFile(ctx context.Context, account, ocID string) (*metadata.LocalFile, error) {
	record := &metadata.LocalFile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT account, oc_id, file_name, etag, date, size
		FROM local_files WHERE account = ? AND oc_id = ?`, account, ocID).
		Scan(&record.Account, &record.OcID, &record.FileName, &record.Etag, &record.Date, &record.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("local file not found", ocID)
	}
	if err != nil {
		return nil, metadata.WriteFailure("failed to read local file: "+err.Error(), ocID)
	}
	return record, nil
}

func (s *Store) UpdateLocalFile(ctx context.Context, account, ocID string, change metadata.LocalFileChange) error {
	var sets []string
	var args []any
	if change.Date != nil {
		sets, args = append(sets, "date = ?"), append(args, *change.Date)
	}
	if change.Etag != nil {
		sets, args = append(sets, "etag = ?"), append(args, *change.Etag)
	}
	if change.FileName != nil {
		sets, args = append(sets, "file_name = ?"), append(args, *change.FileName)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, account, ocID)

	res, err := s.db.ExecContext(ctx, `
		UPDATE local_files SET `+strings.Join(sets, ", ")+`
		WHERE account = ? AND oc_id = ?`, args...)
	if err != nil {
		return metadata.WriteFailure("failed to update local file: "+err.Error(), ocID)
	}
	return requireRows(res, metadata.NotFound("local file not found", ocID))
}

func (s *Store) DeleteLocalFile(ctx context.Context, account, ocID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM local_files WHERE account = ? AND oc_id = ?`, account, ocID); err != nil {
		return metadata.WriteFailure("failed to delete local file: "+err.Error(), ocID)
	}
	return nil
}

// ============================================================================
// Tags
// ============================================================================

func (s *Store) SetTag(ctx context.Context, account, ocID string, data []byte) error {
	if data == nil {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM tags WHERE account = ? AND oc_id = ?`, account, ocID); err != nil {
			return metadata.WriteFailure("failed to delete tag: "+err.Error(), ocID)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (account, oc_id, data) VALUES (?, ?, ?)
		ON CONFLICT (account, oc_id) DO UPDATE SET data = excluded.data`,
		account, ocID, data)
	if err != nil {
		return metadata.WriteFailure("failed to upsert tag: "+err.Error(), ocID)
	}
	return nil
}

func (s *Store) GetTag(ctx context.Context, account, ocID string) (*metadata.Tag, error) {
	record := &metadata.Tag{}
	err := s.db.QueryRowContext(ctx, `
		SELECT account, oc_id, data FROM tags WHERE account = ? AND oc_id = ?`,
		account, ocID).Scan(&record.Account, &record.OcID, &record.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NotFound("tag not found", ocID)
	}
	if err != nil {
		return nil, metadata.WriteFailure("failed to read tag: "+err.Error(), ocID)
	}
	return record, nil
}

func (s *Store) ListTags(ctx context.Context, account string) ([]*metadata.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, oc_id, data FROM tags WHERE account = ? ORDER BY oc_id`, account)
	if err != nil {
		return nil, metadata.WriteFailure("failed to query tags: "+err.Error(), account)
	}
	defer rows.Close()

	var out []*metadata.Tag
	for rows.Next() {
		record := &metadata.Tag{}
		if err := rows.Scan(&record.Account, &record.OcID, &record.Data); err != nil {
			return nil, metadata.WriteFailure("failed to scan tag: "+err.Error(), account)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ============================================================================
// Derived Views
// ============================================================================

func (s *Store) FavoriteRank(ctx context.Context, account string, base int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oc_id FROM metadata
		WHERE account = ? AND directory = 1 AND favorite = 1
		ORDER BY file_name_view`, account)
	if err != nil {
		return nil, metadata.WriteFailure("failed to query favorites: "+err.Error(), account)
	}
	defer rows.Close()

	ranks := make(map[string]int64)
	rank := base
	for rows.Next() {
		var ocID string
		if err := rows.Scan(&ocID); err != nil {
			return nil, metadata.WriteFailure("failed to scan favorite: "+err.Error(), account)
		}
		rank++
		ranks[ocID] = rank
	}
	return ranks, rows.Err()
}

// ============================================================================
// Lifecycle
// ============================================================================

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return metadata.WriteFailure("database unreachable: "+err.Error(), "")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return metadata.WriteFailure("failed to begin transaction: "+err.Error(), "")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return metadata.WriteFailure("failed to commit transaction: "+err.Error(), "")
	}
	return nil
}

func (s *Store) queryMetadata(ctx context.Context, query string, args ...any) ([]*metadata.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, metadata.WriteFailure("failed to query metadata: "+err.Error(), "")
	}
	defer rows.Close()

	var out []*metadata.Metadata
	for rows.Next() {
		record, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) updateMetadataField(ctx context.Context, account, ocID, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, account, ocID)
	if err != nil {
		return metadata.WriteFailure("failed to update metadata: "+err.Error(), ocID)
	}
	return requireRows(res, metadata.NotFound("metadata not found", ocID))
}

func upsertMetadataTx(ctx context.Context, tx *sql.Tx, record *metadata.Metadata) error {
	var previousURL sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT server_url FROM metadata WHERE account = ? AND oc_id = ?`,
		record.Account, record.OcID).Scan(&previousURL)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return metadata.WriteFailure("failed to look up metadata: "+err.Error(), record.OcID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metadata (`+metadataColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, oc_id) DO UPDATE SET
			server_url = excluded.server_url,
			file_name = excluded.file_name,
			file_name_view = excluded.file_name_view,
			etag = excluded.etag,
			directory = excluded.directory,
			size = excluded.size,
			date = excluded.date,
			favorite = excluded.favorite,
			status = excluded.status,
			session = excluded.session,
			session_error = excluded.session_error,
			e2e_encrypted = excluded.e2e_encrypted,
			permissions = excluded.permissions,
			has_preview = excluded.has_preview,
			content_type = excluded.content_type`,
		record.Account, record.OcID, record.ServerURL, record.FileName,
		record.FileNameView, record.Etag, record.Directory, record.Size,
		record.Date, record.Favorite, int(record.Status), record.Session,
		record.SessionError, record.E2EEncrypted, record.Permissions,
		record.HasPreview, record.ContentType)
	if err != nil {
		return metadata.WriteFailure("failed to upsert metadata: "+err.Error(), record.OcID)
	}

	if previousURL.Valid && previousURL.String != record.ServerURL {
		if err := clearDateReadTx(ctx, tx, record.Account, previousURL.String); err != nil {
			return err
		}
	}
	return clearDateReadTx(ctx, tx, record.Account, record.ServerURL)
}

// clearDateReadTx clears the read date of the directory at serverURL. A
// missing directory row is not an error; records can be written before their
// parent's read-state exists.
func clearDateReadTx(ctx context.Context, tx *sql.Tx, account, serverURL string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE directories SET date_read = NULL WHERE account = ? AND server_url = ?`,
		account, serverURL)
	if err != nil {
		return metadata.WriteFailure("failed to clear read date: "+err.Error(), serverURL)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*metadata.Account, error) {
	account := &metadata.Account{}
	err := row.Scan(&account.ID, &account.User, &account.UserID, &account.ServerURL,
		&account.HomeServerURL, &account.Password, &account.Active)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func scanMetadata(row rowScanner) (*metadata.Metadata, error) {
	record := &metadata.Metadata{}
	var status int
	var date sql.NullTime
	err := row.Scan(&record.Account, &record.OcID, &record.ServerURL,
		&record.FileName, &record.FileNameView, &record.Etag, &record.Directory,
		&record.Size, &date, &record.Favorite, &status, &record.Session,
		&record.SessionError, &record.E2EEncrypted, &record.Permissions,
		&record.HasPreview, &record.ContentType)
	if err != nil {
		return nil, err
	}
	record.Status = metadata.Status(status)
	if date.Valid {
		record.Date = date.Time
	}
	return record, nil
}

func scanDirectory(row rowScanner) (*metadata.Directory, error) {
	record := &metadata.Directory{}
	var dateRead sql.NullTime
	err := row.Scan(&record.Account, &record.OcID, &record.ServerURL,
		&record.Etag, &record.Permissions, &record.Favorite,
		&record.E2EEncrypted, &record.Lock, &dateRead)
	if err != nil {
		return nil, err
	}
	if dateRead.Valid {
		at := dateRead.Time
		record.DateRead = &at
	}
	return record, nil
}

func requireRows(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return metadata.WriteFailure("failed to read affected rows: "+err.Error(), "")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// escapeLike escapes SQL LIKE metacharacters in a literal path prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
