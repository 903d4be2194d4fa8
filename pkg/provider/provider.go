// Package provider implements the synchronization core: it projects the
// metadata store into enumerable items, tracks changes behind a monotonic
// anchor, and coordinates structural actions between the remote server and
// the local cache.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/transfer"
)

// Options are the provider tunables.
type Options struct {
	// PageSize is the number of items per enumeration page.
	PageSize int

	// RankBase is the reserved low range of favorite ranks; assigned ranks
	// start at RankBase+1.
	RankBase int64

	// ShowHidden includes dot-prefixed entries when refreshing listings.
	ShowHidden bool
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.RankBase <= 0 {
		o.RankBase = 10
	}
	return o
}

// Provider is the protocol boundary of the sync core. One Provider serves
// one active account at a time; switching accounts swaps the session state
// wholesale.
type Provider struct {
	store   metadata.Store
	client  remote.Client
	storage Storage
	observe *metrics.SyncMetrics
	opts    Options

	transfers *transfer.Manager

	mu      sync.RWMutex
	session *Session
}

// New builds a Provider. If the store has an active account, a session is
// bound to it immediately; otherwise operations fail with an
// unauthenticated error until SetActiveAccount is called.
func New(ctx context.Context, store metadata.Store, client remote.Client, storage Storage, observe *metrics.SyncMetrics, opts Options) (*Provider, error) {
	p := &Provider{
		store:   store,
		client:  client,
		storage: storage,
		observe: observe,
		opts:    opts.withDefaults(),
	}
	p.transfers = transfer.NewManager(client, store, observe, p.onTransferComplete)

	account, err := store.GetActiveAccount(ctx)
	if err == nil {
		p.session = NewSession(*account)
	} else if !metadata.IsNotFound(err) {
		return nil, err
	}
	return p, nil
}

// Close stops background transfers.
func (p *Provider) Close() {
	p.transfers.Close()
}

// SetActiveAccount activates the account and replaces the session. Pending
// signals of the previous account are discarded with it.
func (p *Provider) SetActiveAccount(ctx context.Context, id string) error {
	if err := p.store.SetAccountActive(ctx, id); err != nil {
		if metadata.IsNotFound(err) {
			return notFound("account not found", id)
		}
		return storeWriteFailure("failed to activate account: "+err.Error(), id)
	}
	account, err := p.store.GetAccount(ctx, id)
	if err != nil {
		return storeWriteFailure("failed to read account: "+err.Error(), id)
	}

	p.mu.Lock()
	p.session = NewSession(*account)
	p.mu.Unlock()
	logger.Info("active account switched to %s", id)
	return nil
}

// Session returns the active session, or an unauthenticated error when no
// account is active.
func (p *Provider) Session() (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil, unauthenticated("no active account")
	}
	return p.session, nil
}

// Transfers exposes the transfer manager.
func (p *Provider) Transfers() *transfer.Manager {
	return p.transfers
}

// ============================================================================
// Item lookup and URL mapping
// ============================================================================

// Item resolves an identifier to its projected descriptor. The root and
// working-set containers are synthesized; they have no backing record.
func (p *Provider) Item(ctx context.Context, id ItemIdentifier) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}

	switch id.Kind() {
	case KindRoot:
		return RootItem(), nil
	case KindWorkingSet:
		item := RootItem()
		item.Identifier = WorkingSet
		return item, nil
	}

	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, notFound("item not found", id.OcID())
		}
		return nil, storeWriteFailure("failed to read item: "+err.Error(), id.OcID())
	}
	parent, err := p.parentIdentifier(ctx, session, record)
	if err != nil {
		return nil, err
	}
	return ProjectItem(record, parent, p.snapshotFor(ctx, session, record)), nil
}

// URLForItem returns the local content path for an entry identifier.
func (p *Provider) URLForItem(ctx context.Context, id ItemIdentifier) (string, error) {
	session, err := p.Session()
	if err != nil {
		return "", err
	}
	if !id.IsEntry() {
		return "", notFound("containers have no content path", id.String())
	}
	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		return "", notFound("item not found", id.OcID())
	}
	return p.storage.ItemPath(record.OcID, record.FileNameView), nil
}

// PersistentIdentifierForURL reverses URLForItem.
func (p *Provider) PersistentIdentifierForURL(path string) (ItemIdentifier, error) {
	id, ok := p.storage.IdentifierForPath(path)
	if !ok {
		return ItemIdentifier{}, notFound("path is not inside the content cache", path)
	}
	return id, nil
}

// ============================================================================
// Content lifecycle
// ============================================================================

// ProvidePlaceholder writes the placeholder metadata file for an entry so
// the host can show it before content is materialized.
func (p *Provider) ProvidePlaceholder(ctx context.Context, id ItemIdentifier) error {
	item, err := p.Item(ctx, id)
	if err != nil {
		return err
	}
	if !item.Identifier.IsEntry() {
		return nil
	}
	ocID := item.Identifier.OcID()
	if err := p.storage.EnsureItemDir(ocID); err != nil {
		return storeWriteFailure("failed to create cache directory: "+err.Error(), ocID)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return storeWriteFailure("failed to encode placeholder: "+err.Error(), ocID)
	}
	path := p.storage.ItemPath(ocID, "."+item.FileName+".placeholder")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return storeWriteFailure("failed to write placeholder: "+err.Error(), path)
	}
	return nil
}

// StartProvidingItem materializes an entry's content locally. When the
// cached copy already matches the record's etag nothing is transferred;
// when a transfer for the same target is in flight the caller joins it. The
// returned task is nil if no transfer was needed.
func (p *Provider) StartProvidingItem(ctx context.Context, id ItemIdentifier) (*transfer.Task, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, notFound("containers cannot be provided", id.String())
	}
	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	local, localErr := p.store.GetLocalFile(ctx, record.Account, record.OcID)
	if localErr == nil && local.Etag == record.Etag &&
		p.storage.HasContent(record.OcID, record.FileNameView) {
		return nil, nil
	}

	localPath := p.storage.ItemPath(record.OcID, record.FileNameView)
	task, _, err := p.transfers.Download(ctx, record, localPath)
	if err != nil {
		return nil, storeWriteFailure("failed to start download: "+err.Error(), record.OcID)
	}
	return task, nil
}

// StopProvidingItem cancels any in-flight download and discards an entry's
// materialized content and cache row. The record itself stays; the next
// StartProvidingItem re-downloads.
func (p *Provider) StopProvidingItem(ctx context.Context, id ItemIdentifier) error {
	session, err := p.Session()
	if err != nil {
		return err
	}
	if !id.IsEntry() {
		return nil
	}
	if record, recErr := p.store.GetMetadata(ctx, session.Account().ID, id.OcID()); recErr == nil {
		p.transfers.Cancel(record.ServerURL + "/" + record.FileName)
	}
	if err := p.storage.RemoveContent(id.OcID()); err != nil {
		return storeWriteFailure("failed to remove cached content: "+err.Error(), id.OcID())
	}
	if err := p.store.DeleteLocalFile(ctx, session.Account().ID, id.OcID()); err != nil {
		return storeWriteFailure("failed to delete local file record: "+err.Error(), id.OcID())
	}
	return nil
}

// ItemChanged uploads an entry's locally modified content and invalidates
// its cached preview.
func (p *Provider) ItemChanged(ctx context.Context, id ItemIdentifier) (*transfer.Task, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, notFound("containers have no content", id.String())
	}
	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	p.storage.RemovePreview(record.OcID, record.FileNameView)

	localPath := p.storage.ItemPath(record.OcID, record.FileNameView)
	task, _, err := p.transfers.Upload(ctx, record, localPath)
	if err != nil {
		return nil, storeWriteFailure("failed to start upload: "+err.Error(), record.OcID)
	}
	return task, nil
}

// ImportDocument copies a local file into the cache under a provisional
// identifier, records it as awaiting upload, and schedules the upload. The
// provisional identity is replaced by the server's when the upload lands.
func (p *Provider) ImportDocument(ctx context.Context, sourcePath string, parent ItemIdentifier) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	parentURL, err := p.containerURL(ctx, session, parent)
	if err != nil {
		return nil, err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return nil, notFound("source file not found", sourcePath)
	}
	defer source.Close()
	info, err := source.Stat()
	if err != nil {
		return nil, storeWriteFailure("failed to stat source: "+err.Error(), sourcePath)
	}

	fileName := lastPathComponent(sourcePath)
	ocID := uuid.NewString()
	if err := p.storage.EnsureItemDir(ocID); err != nil {
		return nil, storeWriteFailure("failed to create cache directory: "+err.Error(), ocID)
	}
	destination, err := os.Create(p.storage.ItemPath(ocID, fileName))
	if err != nil {
		return nil, storeWriteFailure("failed to create cache file: "+err.Error(), ocID)
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return nil, storeWriteFailure("failed to copy into cache: "+err.Error(), ocID)
	}
	if err := destination.Close(); err != nil {
		return nil, storeWriteFailure("failed to flush cache file: "+err.Error(), ocID)
	}

	record := &metadata.Metadata{
		OcID:         ocID,
		Account:      session.Account().ID,
		ServerURL:    parentURL,
		FileName:     fileName,
		FileNameView: fileName,
		Size:         info.Size(),
		Date:         time.Now().UTC(),
		Status:       metadata.StatusWaitUpload,
		Session:      p.transfers.SessionID(),
	}
	if _, err := p.store.UpsertMetadata(ctx, record); err != nil {
		return nil, storeWriteFailure("failed to record import: "+err.Error(), ocID)
	}

	if _, _, err := p.transfers.Upload(ctx, record, p.storage.ItemPath(ocID, fileName)); err != nil {
		return nil, storeWriteFailure("failed to schedule upload: "+err.Error(), ocID)
	}

	return ProjectItem(record, parent, p.snapshotFor(ctx, session, record)), nil
}

// ============================================================================
// Shared resolution helpers
// ============================================================================

// containerURL resolves a container identifier to its full server path.
func (p *Provider) containerURL(ctx context.Context, session *Session, id ItemIdentifier) (string, error) {
	switch id.Kind() {
	case KindRoot:
		return session.Account().HomeServerURL, nil
	case KindWorkingSet:
		return "", notFound("working set has no server path", id.String())
	}

	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		return "", notFound("container not found", id.OcID())
	}
	if !record.Directory {
		return "", notFound("identifier is not a container", id.OcID())
	}
	return record.ServerURL + "/" + record.FileName, nil
}

// parentIdentifier computes the parent per the identifier mapping: records
// directly under the account home belong to root, everything else to the
// directory whose own path equals the record's serverUrl.
func (p *Provider) parentIdentifier(ctx context.Context, session *Session, record *metadata.Metadata) (ItemIdentifier, error) {
	if record.ServerURL == session.Account().HomeServerURL {
		return Root, nil
	}
	dir, err := p.store.GetDirectory(ctx, record.Account, record.ServerURL)
	if err != nil {
		if metadata.IsNotFound(err) {
			return ItemIdentifier{}, notFound("parent directory unknown", record.ServerURL)
		}
		return ItemIdentifier{}, storeWriteFailure("failed to resolve parent: "+err.Error(), record.ServerURL)
	}
	return Entry(dir.OcID), nil
}

// snapshotFor assembles the read-only lookups one projection needs.
func (p *Provider) snapshotFor(ctx context.Context, session *Session, record *metadata.Metadata) Snapshot {
	snapshot := Snapshot{Ranks: session.Ranks()}
	if local, err := p.store.GetLocalFile(ctx, record.Account, record.OcID); err == nil {
		snapshot.Local = local
	}
	if tag, err := p.store.GetTag(ctx, record.Account, record.OcID); err == nil {
		snapshot.Tag = tag
	}
	if at, ok := session.LastUsed(record.OcID); ok {
		snapshot.LastUsed = &at
	}
	return snapshot
}

// onTransferComplete runs after every finished transfer. Successful
// transfers enqueue an update for the item and tick the anchor so change
// observers see the new state.
func (p *Provider) onTransferComplete(task *transfer.Task, record *metadata.Metadata, err error) {
	if err != nil {
		return
	}

	// An upload can replace a provisional identity; relocate the cache so
	// the path convention keeps holding.
	if task.Kind == transfer.KindUpload && record.OcID != task.OcID {
		if renameErr := os.Rename(p.storage.ItemDir(task.OcID), p.storage.ItemDir(record.OcID)); renameErr != nil && !os.IsNotExist(renameErr) {
			logger.Warn("failed to relocate cache for %s: %v", record.OcID, renameErr)
		}
	}

	session, sessionErr := p.Session()
	if sessionErr != nil || session.Account().ID != record.Account {
		return
	}

	ctx := context.Background()
	parent, parentErr := p.parentIdentifier(ctx, session, record)
	if parentErr != nil {
		parent = Root
	}
	item := ProjectItem(record, parent, p.snapshotFor(ctx, session, record))
	session.QueueUpdate(false, item)
	p.raiseSignal(session, "entry")
}

func lastPathComponent(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndexAny(trimmed, "/\\"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
