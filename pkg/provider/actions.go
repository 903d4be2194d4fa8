package provider

import (
	"context"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Structural actions. Every action talks to the server first and mutates
// local state only after the server acknowledged, so the cache never gets
// ahead of the remote truth. The one exception is the favorite rank, which
// commits optimistically and rolls back on remote failure.

// CreateDirectory creates a folder under parent and returns its projection.
func (p *Provider) CreateDirectory(ctx context.Context, parent ItemIdentifier, name string) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalidArgument("directory name is required", "")
	}
	parentURL, err := p.containerURL(ctx, session, parent)
	if err != nil {
		return nil, err
	}

	entry, err := p.client.CreateFolder(ctx, parentURL+"/"+name)
	p.observe.ObserveRemoteCall("create-folder", err)
	if err != nil {
		return nil, serverUnreachable("failed to create directory: "+err.Error(), parentURL+"/"+name)
	}

	account := session.Account().ID
	record := recordFromEntry(account, parentURL, entry)
	stored, err := p.store.UpsertMetadata(ctx, record)
	if err != nil {
		return nil, storeWriteFailure("failed to record directory: "+err.Error(), entry.OcID)
	}
	paired := &metadata.Directory{
		OcID:        entry.OcID,
		Account:     account,
		ServerURL:   entry.Path,
		Permissions: entry.Permissions,
	}
	if _, err := p.store.AddDirectory(ctx, paired); err != nil {
		return nil, storeWriteFailure("failed to record directory state: "+err.Error(), entry.OcID)
	}

	item := ProjectItem(stored, parent, p.snapshotFor(ctx, session, stored))
	session.QueueUpdate(false, item)
	p.raiseSignal(session, "entry")
	return item, nil
}

// DeleteItem removes an entry remotely and locally. Directories take their
// whole cached subtree with them. A resource the server no longer knows is
// treated as already deleted.
func (p *Provider) DeleteItem(ctx context.Context, id ItemIdentifier) error {
	session, err := p.Session()
	if err != nil {
		return err
	}
	if !id.IsEntry() {
		return invalidArgument("containers cannot be deleted through an item action", id.String())
	}
	account := session.Account().ID
	record, err := p.store.GetMetadata(ctx, account, id.OcID())
	if err != nil {
		if metadata.IsNotFound(err) {
			return notFound("item not found", id.OcID())
		}
		return storeWriteFailure("failed to read item: "+err.Error(), id.OcID())
	}
	itemPath := record.ServerURL + "/" + record.FileName

	err = p.client.Delete(ctx, itemPath)
	p.observe.ObserveRemoteCall("delete", err)
	if err != nil && !remote.IsNotFound(err) {
		return serverUnreachable("failed to delete remotely: "+err.Error(), itemPath)
	}

	if err := p.storage.RemoveContent(record.OcID); err != nil {
		logger.Warn("failed to drop cached content for %s: %v", record.OcID, err)
	}
	if record.Directory {
		if err := p.store.DeleteDirectoryAndSubtree(ctx, account, itemPath); err != nil {
			return storeWriteFailure("failed to delete subtree: "+err.Error(), itemPath)
		}
	}
	if err := p.store.DeleteMetadata(ctx, account, record.OcID); err != nil {
		return storeWriteFailure("failed to delete record: "+err.Error(), record.OcID)
	}
	if err := p.store.DeleteLocalFile(ctx, account, record.OcID); err != nil {
		return storeWriteFailure("failed to delete local record: "+err.Error(), record.OcID)
	}
	if err := p.store.SetTag(ctx, account, record.OcID, nil); err != nil {
		return storeWriteFailure("failed to drop tag: "+err.Error(), record.OcID)
	}

	session.QueueDelete(false, id)
	if _, ranked := session.Rank(record.OcID); ranked {
		session.RemoveRank(record.OcID)
		session.QueueDelete(true, id)
	}
	p.raiseSignal(session, "entry")
	return nil
}

// ReparentItem moves an entry under a new parent container, keeping its
// name. Directory moves carry the cached subtree along.
func (p *Provider) ReparentItem(ctx context.Context, id ItemIdentifier, newParent ItemIdentifier) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, invalidArgument("containers cannot be reparented", id.String())
	}
	account := session.Account().ID
	record, err := p.store.GetMetadata(ctx, account, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}
	newParentURL, err := p.containerURL(ctx, session, newParent)
	if err != nil {
		return nil, err
	}

	from := record.ServerURL + "/" + record.FileName
	to := newParentURL + "/" + record.FileName

	err = p.client.Move(ctx, from, to)
	p.observe.ObserveRemoteCall("move", err)
	if err != nil {
		return nil, serverUnreachable("failed to move remotely: "+err.Error(), from)
	}

	if err := p.store.MoveMetadata(ctx, account, record.OcID, newParentURL); err != nil {
		return nil, storeWriteFailure("failed to move record: "+err.Error(), record.OcID)
	}
	if record.Directory {
		if err := p.relocateDirectory(ctx, account, record.OcID, from, to); err != nil {
			return nil, err
		}
	}

	updated, err := p.store.GetMetadata(ctx, account, record.OcID)
	if err != nil {
		return nil, storeWriteFailure("failed to reload record: "+err.Error(), record.OcID)
	}
	item := ProjectItem(updated, newParent, p.snapshotFor(ctx, session, updated))
	session.QueueUpdate(false, item)
	p.raiseSignal(session, "entry")
	return item, nil
}

// RenameItem changes an entry's leaf name in place.
func (p *Provider) RenameItem(ctx context.Context, id ItemIdentifier, newName string) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, invalidArgument("containers cannot be renamed", id.String())
	}
	if newName == "" {
		return nil, invalidArgument("new name is required", id.String())
	}
	account := session.Account().ID
	record, err := p.store.GetMetadata(ctx, account, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	from := record.ServerURL + "/" + record.FileName
	to := record.ServerURL + "/" + newName

	err = p.client.Move(ctx, from, to)
	p.observe.ObserveRemoteCall("move", err)
	if err != nil {
		return nil, serverUnreachable("failed to rename remotely: "+err.Error(), from)
	}

	oldName := record.FileNameView
	updated, err := p.store.RenameMetadata(ctx, account, record.OcID, newName)
	if err != nil {
		return nil, storeWriteFailure("failed to rename record: "+err.Error(), record.OcID)
	}
	if record.Directory {
		if err := p.relocateDirectory(ctx, account, record.OcID, from, to); err != nil {
			return nil, err
		}
	}
	if err := p.storage.RenameContent(record.OcID, oldName, newName); err != nil {
		logger.Warn("failed to rename cached content for %s: %v", record.OcID, err)
	}
	if err := p.store.UpdateLocalFile(ctx, account, record.OcID, metadata.LocalFileChange{FileName: &newName}); err != nil && !metadata.IsNotFound(err) {
		return nil, storeWriteFailure("failed to rename local record: "+err.Error(), record.OcID)
	}

	parent, err := p.parentIdentifier(ctx, session, updated)
	if err != nil {
		parent = Root
	}
	item := ProjectItem(updated, parent, p.snapshotFor(ctx, session, updated))
	session.QueueUpdate(false, item)
	p.raiseSignal(session, "entry")
	return item, nil
}

// SetFavoriteRank commits the rank optimistically: the session map changes
// first, the server is asked only when the favorite boolean actually
// flips, and a refused flip rolls the map back while still telling the
// working-set observer to reload the item. Repeating the same rank is
// therefore local-only after the first call, but still signals so the
// observer reloads the item.
func (p *Provider) SetFavoriteRank(ctx context.Context, id ItemIdentifier, rank *int64) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, invalidArgument("containers cannot be ranked", id.String())
	}
	account := session.Account().ID
	record, err := p.store.GetMetadata(ctx, account, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	// The first assigned rank sticks; re-ranking an already ranked item
	// keeps the original value.
	var previous int64
	var existed bool
	if rank == nil {
		previous, existed = session.RemoveRank(record.OcID)
	} else if previous, existed = session.Rank(record.OcID); !existed {
		session.SetRank(record.OcID, *rank)
	}

	wantFavorite := rank != nil
	if wantFavorite != record.Favorite {
		itemPath := record.ServerURL + "/" + record.FileName
		err := p.client.SetFavorite(ctx, itemPath, wantFavorite)
		p.observe.ObserveRemoteCall("set-favorite", err)
		if err != nil {
			session.RestoreRank(record.OcID, previous, existed)
			parent, perr := p.parentIdentifier(ctx, session, record)
			if perr != nil {
				parent = Root
			}
			reverted := ProjectItem(record, parent, p.snapshotFor(ctx, session, record))
			session.QueueUpdate(true, reverted)
			p.raiseSignal(session, "working-set")
			return nil, serverUnreachable("failed to set favorite remotely: "+err.Error(), itemPath)
		}
		if err := p.store.SetMetadataFavorite(ctx, account, record.OcID, wantFavorite); err != nil {
			return nil, storeWriteFailure("failed to record favorite: "+err.Error(), record.OcID)
		}
		record.Favorite = wantFavorite
	}

	parent, err := p.parentIdentifier(ctx, session, record)
	if err != nil {
		parent = Root
	}
	item := ProjectItem(record, parent, p.snapshotFor(ctx, session, record))
	session.QueueUpdate(true, item)
	p.raiseSignal(session, "working-set")
	return item, nil
}

// SetTagData attaches or removes (nil data) the platform tag blob of an
// entry. Tags are local-only; the server is not involved.
func (p *Provider) SetTagData(ctx context.Context, id ItemIdentifier, data []byte) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, invalidArgument("containers cannot be tagged", id.String())
	}
	account := session.Account().ID
	record, err := p.store.GetMetadata(ctx, account, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	if err := p.store.SetTag(ctx, account, record.OcID, data); err != nil {
		return nil, storeWriteFailure("failed to store tag: "+err.Error(), record.OcID)
	}

	parent, err := p.parentIdentifier(ctx, session, record)
	if err != nil {
		parent = Root
	}
	item := ProjectItem(record, parent, p.snapshotFor(ctx, session, record))
	if data == nil && !item.Identifier.IsRoot() {
		if _, ranked := session.Rank(record.OcID); !ranked {
			session.QueueDelete(true, id)
			p.raiseSignal(session, "working-set")
			return item, nil
		}
	}
	session.QueueUpdate(true, item)
	p.raiseSignal(session, "working-set")
	return item, nil
}

// SetLastUsedDate records when the entry was last opened. The date lives
// only in the session and only influences projections.
func (p *Provider) SetLastUsedDate(ctx context.Context, id ItemIdentifier, at time.Time) (*Item, error) {
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	if !id.IsEntry() {
		return nil, invalidArgument("containers have no usage date", id.String())
	}
	record, err := p.store.GetMetadata(ctx, session.Account().ID, id.OcID())
	if err != nil {
		return nil, notFound("item not found", id.OcID())
	}

	session.SetLastUsed(record.OcID, at)

	parent, err := p.parentIdentifier(ctx, session, record)
	if err != nil {
		parent = Root
	}
	item := ProjectItem(record, parent, p.snapshotFor(ctx, session, record))
	session.QueueUpdate(false, item)
	p.raiseSignal(session, "entry")
	return item, nil
}

// ============================================================================
// Internals
// ============================================================================

// relocateDirectory repaths a moved or renamed directory and its whole
// cached subtree. The store keys directory records by their own path, so
// every descendant row has to be rewritten explicitly.
func (p *Provider) relocateDirectory(ctx context.Context, account, ocID, fromPath, toPath string) error {
	if err := p.store.RenameDirectory(ctx, account, ocID, toPath); err != nil && !metadata.IsNotFound(err) {
		return storeWriteFailure("failed to repath directory: "+err.Error(), fromPath)
	}
	if err := p.relocateSubtree(ctx, account, fromPath, toPath); err != nil {
		return err
	}
	// The listing fingerprint refers to the old path; force a refresh at
	// the new one.
	if err := p.store.ClearDirectoryDateRead(ctx, account, toPath); err != nil && !metadata.IsNotFound(err) {
		return storeWriteFailure("failed to invalidate listing: "+err.Error(), toPath)
	}
	return nil
}

func (p *Provider) relocateSubtree(ctx context.Context, account, fromPath, toPath string) error {
	children, err := p.store.QueryMetadata(ctx, account, fromPath)
	if err != nil {
		return storeWriteFailure("failed to read subtree: "+err.Error(), fromPath)
	}
	for _, child := range children {
		if child.Directory {
			childFrom := fromPath + "/" + child.FileName
			childTo := toPath + "/" + child.FileName
			if dir, dirErr := p.store.GetDirectory(ctx, account, childFrom); dirErr == nil {
				if err := p.store.RenameDirectory(ctx, account, dir.OcID, childTo); err != nil {
					return storeWriteFailure("failed to repath directory: "+err.Error(), childFrom)
				}
			}
			if err := p.relocateSubtree(ctx, account, childFrom, childTo); err != nil {
				return err
			}
		}
		if err := p.store.MoveMetadata(ctx, account, child.OcID, toPath); err != nil {
			return storeWriteFailure("failed to move record: "+err.Error(), child.OcID)
		}
	}
	return nil
}

// raiseSignal ticks the anchor once for everything queued since the last
// tick.
func (p *Provider) raiseSignal(session *Session, target string) {
	anchor := session.Signal()
	p.observe.ObserveSignal(target)
	p.observe.SetAnchor(anchor)
}
