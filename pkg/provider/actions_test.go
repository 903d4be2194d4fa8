package provider

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
)

func TestCreateDirectory(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	item, err := p.CreateDirectory(ctx, Root, "projects")
	require.NoError(t, err)
	assert.True(t, item.Directory)
	assert.Equal(t, "projects", item.FileName)
	assert.True(t, item.ParentIdentifier.IsRoot())
	assert.Equal(t, 1, fake.CallCount("CreateFolder"))

	record, err := store.GetMetadata(ctx, testAccount, item.Identifier.OcID())
	require.NoError(t, err)
	assert.True(t, record.Directory)

	dir, err := store.GetDirectory(ctx, testAccount, testHomeURL+"/projects")
	require.NoError(t, err)
	assert.Equal(t, item.Identifier.OcID(), dir.OcID)

	session, err := p.Session()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), session.Anchor())
	_, updates, _ := session.Drain(false)
	require.Len(t, updates, 1)

	_, err = p.CreateDirectory(ctx, Root, "")
	assert.True(t, IsInvalidArgument(err))
}

func TestCreateDirectoryRemoteFailure(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()
	fake.FailUnavailable()

	_, err := p.CreateDirectory(ctx, Root, "projects")
	assert.True(t, IsServerUnreachable(err))

	records, err := store.QueryMetadata(ctx, testAccount, testHomeURL)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteItem(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	record := seedRecord(t, store, &metadata.Metadata{OcID: "oc-del", FileName: "victim.txt"})
	require.NoError(t, store.SetLocalFile(ctx, &metadata.LocalFile{
		OcID: "oc-del", Account: testAccount, FileName: "victim.txt",
	}))
	require.NoError(t, p.storage.EnsureItemDir("oc-del"))
	require.NoError(t, os.WriteFile(p.storage.ItemPath("oc-del", "victim.txt"), []byte("x"), 0o644))

	require.NoError(t, p.DeleteItem(ctx, Entry(record.OcID)))
	assert.Equal(t, 1, fake.CallCount("Delete"))

	_, err := store.GetMetadata(ctx, testAccount, "oc-del")
	assert.True(t, metadata.IsNotFound(err))
	_, err = store.GetLocalFile(ctx, testAccount, "oc-del")
	assert.True(t, metadata.IsNotFound(err))
	assert.False(t, p.storage.HasContent("oc-del", "victim.txt"))

	session, err := p.Session()
	require.NoError(t, err)
	deletes, _, _ := session.Drain(false)
	require.Len(t, deletes, 1)
	assert.Equal(t, Entry("oc-del"), deletes[0])
}

func TestDeleteDirectoryRemovesSubtree(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	dirPath := testHomeURL + "/photos"
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-photos", FileName: "photos", Directory: true})
	_, err := store.AddDirectory(ctx, &metadata.Directory{
		OcID: "oc-photos", Account: testAccount, ServerURL: dirPath,
	})
	require.NoError(t, err)
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-nested", ServerURL: dirPath, FileName: "pic.jpg"})

	require.NoError(t, p.DeleteItem(ctx, Entry("oc-photos")))

	_, err = store.GetMetadata(ctx, testAccount, "oc-photos")
	assert.True(t, metadata.IsNotFound(err))
	_, err = store.GetMetadata(ctx, testAccount, "oc-nested")
	assert.True(t, metadata.IsNotFound(err))
	_, err = store.GetDirectory(ctx, testAccount, dirPath)
	assert.True(t, metadata.IsNotFound(err))
}

func TestDeleteItemRemoteFailureKeepsRecord(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-keep", FileName: "keep.txt"})
	fake.FailUnavailable()

	err := p.DeleteItem(ctx, Entry("oc-keep"))
	assert.True(t, IsServerUnreachable(err))
	_, err = store.GetMetadata(ctx, testAccount, "oc-keep")
	assert.NoError(t, err)
}

func TestRenameItemCascades(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	oldPath := testHomeURL + "/drafts"
	newPath := testHomeURL + "/archive"
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-dir", FileName: "drafts", Directory: true})
	_, err := store.AddDirectory(ctx, &metadata.Directory{
		OcID: "oc-dir", Account: testAccount, ServerURL: oldPath, Etag: "old-listing",
	})
	require.NoError(t, err)
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-child", ServerURL: oldPath, FileName: "a.txt"})

	item, err := p.RenameItem(ctx, Entry("oc-dir"), "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", item.FileName)
	assert.Equal(t, 1, fake.CallCount("Move"))

	child, err := store.GetMetadata(ctx, testAccount, "oc-child")
	require.NoError(t, err)
	assert.Equal(t, newPath, child.ServerURL)

	dir, err := store.GetDirectory(ctx, testAccount, newPath)
	require.NoError(t, err)
	assert.Equal(t, "oc-dir", dir.OcID)
	// The listing fingerprint belonged to the old path; the next
	// enumeration must refetch.
	assert.Empty(t, dir.Etag)

	_, err = store.GetDirectory(ctx, testAccount, oldPath)
	assert.True(t, metadata.IsNotFound(err))
}

func TestRenameItemMovesCachedContent(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-file", FileName: "before.txt"})
	require.NoError(t, store.SetLocalFile(ctx, &metadata.LocalFile{
		OcID: "oc-file", Account: testAccount, FileName: "before.txt",
	}))
	require.NoError(t, p.storage.EnsureItemDir("oc-file"))
	require.NoError(t, os.WriteFile(p.storage.ItemPath("oc-file", "before.txt"), []byte("body"), 0o644))

	_, err := p.RenameItem(ctx, Entry("oc-file"), "after.txt")
	require.NoError(t, err)

	assert.False(t, p.storage.HasContent("oc-file", "before.txt"))
	assert.True(t, p.storage.HasContent("oc-file", "after.txt"))

	local, err := store.GetLocalFile(ctx, testAccount, "oc-file")
	require.NoError(t, err)
	assert.Equal(t, "after.txt", local.FileName)
}

func TestReparentItem(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	targetPath := testHomeURL + "/inbox"
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-inbox", FileName: "inbox", Directory: true})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-moved", FileName: "memo.txt"})

	item, err := p.ReparentItem(ctx, Entry("oc-moved"), Entry("oc-inbox"))
	require.NoError(t, err)
	assert.Equal(t, Entry("oc-inbox"), item.ParentIdentifier)
	assert.Equal(t, 1, fake.CallCount("Move"))

	record, err := store.GetMetadata(ctx, testAccount, "oc-moved")
	require.NoError(t, err)
	assert.Equal(t, targetPath, record.ServerURL)
}

func TestSetFavoriteRankIdempotentRemote(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	fake.SetFolder(homeEntry("A"),
		&remote.Entry{OcID: "oc-fav", Path: testHomeURL + "/starred.txt", FileName: "starred.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-fav", FileName: "starred.txt"})
	session, err := p.Session()
	require.NoError(t, err)

	rank := int64(42)
	item, err := p.SetFavoriteRank(ctx, Entry("oc-fav"), &rank)
	require.NoError(t, err)
	require.NotNil(t, item.FavoriteRank)
	assert.Equal(t, int64(42), *item.FavoriteRank)
	assert.Equal(t, 1, fake.CallCount("SetFavorite"))
	assert.Equal(t, uint64(1), session.Anchor())

	record, err := store.GetMetadata(ctx, testAccount, "oc-fav")
	require.NoError(t, err)
	assert.True(t, record.Favorite)

	// Same boolean again: no second remote call, but the observer is
	// still signaled.
	_, err = p.SetFavoriteRank(ctx, Entry("oc-fav"), &rank)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("SetFavorite"))
	assert.Equal(t, uint64(2), session.Anchor())

	_, updates, _ := session.Drain(true)
	assert.Len(t, updates, 2)
}

func TestSetFavoriteRankRollsBackOnRemoteFailure(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-fail", FileName: "unlucky.txt"})
	fake.FailUnavailable()

	session, err := p.Session()
	require.NoError(t, err)

	rank := int64(15)
	_, err = p.SetFavoriteRank(ctx, Entry("oc-fail"), &rank)
	assert.True(t, IsServerUnreachable(err))

	_, staged := session.Rank("oc-fail")
	assert.False(t, staged)
	record, err := store.GetMetadata(ctx, testAccount, "oc-fail")
	require.NoError(t, err)
	assert.False(t, record.Favorite)

	// The rollback itself announces the reverted item so the observer
	// reloads it without the optimistic rank.
	assert.Equal(t, uint64(1), session.Anchor())
	_, updates, _ := session.Drain(true)
	require.Len(t, updates, 1)
	assert.Equal(t, "oc-fail", updates[0].Identifier.OcID())
	assert.Nil(t, updates[0].FavoriteRank)
}

func TestSetFavoriteRankKeepsFirstRank(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	fake.SetFolder(homeEntry("A"),
		&remote.Entry{OcID: "oc-keep", Path: testHomeURL + "/pinned.txt", FileName: "pinned.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-keep", FileName: "pinned.txt"})
	session, err := p.Session()
	require.NoError(t, err)

	first := int64(7)
	item, err := p.SetFavoriteRank(ctx, Entry("oc-keep"), &first)
	require.NoError(t, err)
	require.NotNil(t, item.FavoriteRank)
	assert.Equal(t, int64(7), *item.FavoriteRank)

	second := int64(99)
	item, err = p.SetFavoriteRank(ctx, Entry("oc-keep"), &second)
	require.NoError(t, err)
	require.NotNil(t, item.FavoriteRank)
	assert.Equal(t, int64(7), *item.FavoriteRank)

	staged, ok := session.Rank("oc-keep")
	require.True(t, ok)
	assert.Equal(t, int64(7), staged)
}

func TestSetFavoriteRankRemoval(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	fake.SetFolder(homeEntry("A"),
		&remote.Entry{OcID: "oc-unfav", Path: testHomeURL + "/starred.txt", FileName: "starred.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-unfav", FileName: "starred.txt", Favorite: true})
	session, err := p.Session()
	require.NoError(t, err)
	session.SetRank("oc-unfav", 11)

	item, err := p.SetFavoriteRank(ctx, Entry("oc-unfav"), nil)
	require.NoError(t, err)
	assert.Nil(t, item.FavoriteRank)
	assert.Equal(t, 1, fake.CallCount("SetFavorite"))

	record, err := store.GetMetadata(ctx, testAccount, "oc-unfav")
	require.NoError(t, err)
	assert.False(t, record.Favorite)
}

func TestSetTagData(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-tag", FileName: "tagged.txt"})
	session, err := p.Session()
	require.NoError(t, err)

	item, err := p.SetTagData(ctx, Entry("oc-tag"), []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), item.TagData)

	tag, err := store.GetTag(ctx, testAccount, "oc-tag")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), tag.Data)

	_, updates, _ := session.Drain(true)
	require.Len(t, updates, 1)

	// Clearing the tag of an unranked item drops it from the working set.
	_, err = p.SetTagData(ctx, Entry("oc-tag"), nil)
	require.NoError(t, err)
	_, err = store.GetTag(ctx, testAccount, "oc-tag")
	assert.True(t, metadata.IsNotFound(err))

	deletes, updates, _ := session.Drain(true)
	require.Len(t, deletes, 1)
	assert.Equal(t, Entry("oc-tag"), deletes[0])
	assert.Empty(t, updates)
}

func TestSetLastUsedDate(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-used", FileName: "opened.txt"})
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	item, err := p.SetLastUsedDate(ctx, Entry("oc-used"), at)
	require.NoError(t, err)
	require.NotNil(t, item.LastUsedDate)
	assert.Equal(t, at, *item.LastUsedDate)

	// Projection-only: a fresh lookup still carries it via the session,
	// nothing was persisted.
	again, err := p.Item(ctx, Entry("oc-used"))
	require.NoError(t, err)
	require.NotNil(t, again.LastUsedDate)
	assert.Equal(t, at, *again.LastUsedDate)
}
