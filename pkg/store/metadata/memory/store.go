// Package memory provides an in-memory metadata store backed by Go maps.
//
// All entities live in process memory and are lost on restart. The backend
// exists for tests and for ephemeral single-run setups where durability does
// not matter; it implements the exact same semantics as the durable backends
// so the shared conformance suite runs against all three.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Store is an in-memory implementation of metadata.Store.
//
// A single coarse RWMutex guards all maps. Mutations that touch several
// entities (cascading deletes, batch upserts) hold the write lock for their
// whole duration, which makes every logical mutation atomic by construction.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*metadata.Account

	// metadatas and directories are keyed account -> ocID.
	metadatas   map[string]map[string]*metadata.Metadata
	directories map[string]map[string]*metadata.Directory
	localFiles  map[string]map[string]*metadata.LocalFile
	tags        map[string]map[string]*metadata.Tag

	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*metadata.Account),
		metadatas:   make(map[string]map[string]*metadata.Metadata),
		directories: make(map[string]map[string]*metadata.Directory),
		localFiles:  make(map[string]map[string]*metadata.LocalFile),
		tags:        make(map[string]map[string]*metadata.Tag),
	}
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

	if account.Active {
		for _, other := range s.accounts {
			other.Active = false
		}
	}
	clone := *account
	s.accounts[account.ID] = &clone
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*metadata.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, metadata.NotFound("account not found", id)
	}
	clone := *account
	return &clone, nil
}

func (s *Store) GetAccounts(ctx context.Context) ([]*metadata.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*metadata.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		clone := *account
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActiveAccount(ctx context.Context) (*metadata.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.Active {
			clone := *account
			return &clone, nil
		}
	}
	return nil, metadata.NotFound("no active account", "")
}

func (s *Store) SetAccountActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.accounts[id]
	if !ok {
		return metadata.NotFound("account not found", id)
	}
	for _, account := range s.accounts {
		account.Active = false
	}
	target.Active = true
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return metadata.NotFound("account not found", id)
	}
	delete(s.accounts, id)
	delete(s.metadatas, id)
	delete(s.directories, id)
	delete(s.localFiles, id)
	delete(s.tags, id)
	return nil
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

	clone := *record
	s.bucket(s.metadatas, record.Account)[record.OcID] = &clone
	s.clearDateReadLocked(record.Account, record.ServerURL)

	out := clone
	return &out, nil
}

func (s *Store) UpsertMetadatas(ctx context.Context, records []*metadata.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		if record == nil || record.OcID == "" || record.Account == "" {
			return metadata.InvalidArgument("metadata requires ocId and account")
		}
		clone := *record
		s.bucket(s.metadatas, record.Account)[record.OcID] = &clone
		s.clearDateReadLocked(record.Account, record.ServerURL)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, account, ocID string) (*metadata.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return nil, metadata.NotFound("metadata not found", ocID)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) QueryMetadata(ctx context.Context, account, serverURL string) ([]*metadata.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Metadata
	for _, record := range s.metadatas[account] {
		if record.ServerURL == serverURL {
			clone := *record
			out = append(out, &clone)
		}
	}
	metadata.SortMetadatas(out)
	return out, nil
}

func (s *Store) QueryMetadataStatus(ctx context.Context, account, serverURL string, statuses ...metadata.Status) ([]*metadata.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Metadata
	for _, record := range s.metadatas[account] {
		if record.ServerURL != serverURL {
			continue
		}
		for _, status := range statuses {
			if record.Status == status {
				clone := *record
				out = append(out, &clone)
				break
			}
		}
	}
	metadata.SortMetadatas(out)
	return out, nil
}

func (s *Store) DeleteMetadata(ctx context.Context, account, ocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return nil
	}
	delete(s.metadatas[account], ocID)
	s.clearDateReadLocked(account, record.ServerURL)
	return nil
}

func (s *Store) DeleteTerminalMetadata(ctx context.Context, account, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ocID, record := range s.metadatas[account] {
		if record.ServerURL == serverURL && record.Status.IsTerminal() {
			delete(s.metadatas[account], ocID)
		}
	}
	s.clearDateReadLocked(account, serverURL)
	return nil
}

func (s *Store) MoveMetadata(ctx context.Context, account, ocID, serverURLTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return metadata.NotFound("metadata not found", ocID)
	}
	s.clearDateReadLocked(account, record.ServerURL)
	record.ServerURL = serverURLTo
	s.clearDateReadLocked(account, serverURLTo)
	return nil
}

func (s *Store) RenameMetadata(ctx context.Context, account, ocID, newName string) (*metadata.Metadata, error) {
	if newName == "" {
		return nil, metadata.InvalidArgument("new name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return nil, metadata.NotFound("metadata not found", ocID)
	}
	record.FileName = newName
	record.FileNameView = newName
	s.clearDateReadLocked(account, record.ServerURL)

	clone := *record
	return &clone, nil
}

func (s *Store) SetMetadataFavorite(ctx context.Context, account, ocID string, favorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return metadata.NotFound("metadata not found", ocID)
	}
	record.Favorite = favorite
	return nil
}

func (s *Store) SetMetadataStatus(ctx context.Context, account, ocID string, status metadata.Status, session, sessionError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return metadata.NotFound("metadata not found", ocID)
	}
	record.Status = status
	record.Session = session
	record.SessionError = sessionError
	return nil
}

func (s *Store) SetMetadataEtag(ctx context.Context, account, ocID, etag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.metadatas[account][ocID]
	if !ok {
		return metadata.NotFound("metadata not found", ocID)
	}
	record.Etag = etag
	return nil
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

	clone := *record
	s.bucketDir(record.Account)[record.OcID] = &clone

	out := clone
	return &out, nil
}

func (s *Store) GetDirectory(ctx context.Context, account, serverURL string) (*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record := s.findDirectoryLocked(account, serverURL)
	if record == nil {
		return nil, metadata.NotFound("directory not found", serverURL)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) GetDirectoryByID(ctx context.Context, account, ocID string) (*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.directories[account][ocID]
	if !ok {
		return nil, metadata.NotFound("directory not found", ocID)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) SetDirectory(ctx context.Context, account, serverURL string, change metadata.DirectoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findDirectoryLocked(account, serverURL)
	if record == nil {
		return metadata.NotFound("directory not found", serverURL)
	}
	if change.OcID != nil && *change.OcID != record.OcID {
		delete(s.directories[account], record.OcID)
		record.OcID = *change.OcID
		s.bucketDir(account)[record.OcID] = record
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
	return nil
}

func (s *Store) RenameDirectory(ctx context.Context, account, ocID, serverURLTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.directories[account][ocID]
	if !ok {
		return metadata.NotFound("directory not found", ocID)
	}
	record.ServerURL = serverURLTo
	return nil
}

func (s *Store) SetDirectoryDateRead(ctx context.Context, account, serverURL string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findDirectoryLocked(account, serverURL)
	if record == nil {
		return metadata.NotFound("directory not found", serverURL)
	}
	at := readAt
	record.DateRead = &at
	return nil
}

func (s *Store) ClearDirectoryDateRead(ctx context.Context, account, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findDirectoryLocked(account, serverURL)
	if record == nil {
		return metadata.NotFound("directory not found", serverURL)
	}
	record.DateRead = nil
	record.Etag = ""
	return nil
}

func (s *Store) SetDirectoryLock(ctx context.Context, account, serverURL string, lock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.findDirectoryLocked(account, serverURL)
	if record == nil {
		return metadata.NotFound("directory not found", serverURL)
	}
	record.Lock = lock
	return nil
}

func (s *Store) DeleteDirectoryAndSubtree(ctx context.Context, account, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := serverURL + "/"

	inSubtree := func(path string) bool {
		return path == serverURL || strings.HasPrefix(path, prefix)
	}

	var doomed []string
	for ocID, record := range s.metadatas[account] {
		if inSubtree(record.ServerURL) {
			doomed = append(doomed, ocID)
		}
	}
	for _, ocID := range doomed {
		delete(s.metadatas[account], ocID)
		delete(s.localFiles[account], ocID)
		delete(s.tags[account], ocID)
	}
	for ocID, record := range s.directories[account] {
		if inSubtree(record.ServerURL) {
			delete(s.directories[account], ocID)
		}
	}
	return nil
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

	clone := *record
	s.bucketLocal(record.Account)[record.OcID] = &clone
	return nil
}

func (s *Store) GetLocalFile(ctx context.Context, account, ocID string) (*metadata.LocalFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.localFiles[account][ocID]
	if !ok {
		return nil, metadata.NotFound("local file not found", ocID)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) UpdateLocalFile(ctx context.Context, account, ocID string, change metadata.LocalFileChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.localFiles[account][ocID]
	if !ok {
		return metadata.NotFound("local file not found", ocID)
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
	return nil
}

func (s *Store) DeleteLocalFile(ctx context.Context, account, ocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.localFiles[account], ocID)
	return nil
}

// ============================================================================
// Tags
// ============================================================================

func (s *Store) SetTag(ctx context.Context, account, ocID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		delete(s.tags[account], ocID)
		return nil
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	s.bucketTag(account)[ocID] = &metadata.Tag{OcID: ocID, Account: account, Data: clone}
	return nil
}

func (s *Store) GetTag(ctx context.Context, account, ocID string) (*metadata.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tags[account][ocID]
	if !ok {
		return nil, metadata.NotFound("tag not found", ocID)
	}
	clone := *record
	return &clone, nil
}

func (s *Store) ListTags(ctx context.Context, account string) ([]*metadata.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*metadata.Tag, 0, len(s.tags[account]))
	for _, record := range s.tags[account] {
		clone := *record
		out = append(out, &clone)
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

	records := make([]*metadata.Metadata, 0)
	for _, record := range s.metadatas[account] {
		records = append(records, record)
	}
	return metadata.ComputeFavoriteRank(records, base), nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metadata.WriteFailure("store is closed", "")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ============================================================================
// Helpers (callers hold s.mu)
// ============================================================================

func (s *Store) bucket(m map[string]map[string]*metadata.Metadata, account string) map[string]*metadata.Metadata {
	b, ok := m[account]
	if !ok {
		b = make(map[string]*metadata.Metadata)
		m[account] = b
	}
	return b
}

func (s *Store) bucketDir(account string) map[string]*metadata.Directory {
	b, ok := s.directories[account]
	if !ok {
		b = make(map[string]*metadata.Directory)
		s.directories[account] = b
	}
	return b
}

func (s *Store) bucketLocal(account string) map[string]*metadata.LocalFile {
	b, ok := s.localFiles[account]
	if !ok {
		b = make(map[string]*metadata.LocalFile)
		s.localFiles[account] = b
	}
	return b
}

func (s *Store) bucketTag(account string) map[string]*metadata.Tag {
	b, ok := s.tags[account]
	if !ok {
		b = make(map[string]*metadata.Tag)
		s.tags[account] = b
	}
	return b
}

func (s *Store) findDirectoryLocked(account, serverURL string) *metadata.Directory {
	for _, record := range s.directories[account] {
		if record.ServerURL == serverURL {
			return record
		}
	}
	return nil
}

func (s *Store) clearDateReadLocked(account, serverURL string) {
	if record := s.findDirectoryLocked(account, serverURL); record != nil {
		record.DateRead = nil
	}
}
