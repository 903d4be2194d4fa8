package provider

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/transfer"
)

func seedHomeDirectory(t *testing.T, store metadata.Store, etag string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := store.AddDirectory(context.Background(), &metadata.Directory{
		OcID:      "home-dir",
		Account:   testAccount,
		ServerURL: testHomeURL,
		Etag:      etag,
		DateRead:  &now,
	})
	require.NoError(t, err)
}

func TestEnumerateInitialPageRefreshesFromServer(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	fake.SetFolder(homeEntry("etag-1"),
		&remote.Entry{OcID: "oc-b", Path: testHomeURL + "/beta.txt", FileName: "beta.txt", Etag: "b1"},
		&remote.Entry{OcID: "oc-a", Path: testHomeURL + "/alpha.txt", FileName: "alpha.txt", Etag: "a1"},
	)

	page, err := p.Enumerator(Root).EnumerateItems(ctx, PageInitialSortedByName)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alpha.txt", page.Items[0].FileName)
	assert.Equal(t, "beta.txt", page.Items[1].FileName)
	assert.Empty(t, page.NextPage)
	assert.True(t, page.Items[0].ParentIdentifier.IsRoot())

	assert.Equal(t, 1, fake.CallCount("Stat"))
	assert.Equal(t, 1, fake.CallCount("ReadFolder"))

	dir, err := store.GetDirectory(ctx, testAccount, testHomeURL)
	require.NoError(t, err)
	assert.Equal(t, "etag-1", dir.Etag)
	assert.Equal(t, "home-dir", dir.OcID)
	assert.NotNil(t, dir.DateRead)
}

func TestEnumerateCreatesPairedChildDirectories(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	fake.SetFolder(homeEntry("etag-1"),
		&remote.Entry{OcID: "oc-dir", Path: testHomeURL + "/projects", FileName: "projects", Directory: true, Etag: "d1"},
	)

	_, err := p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)

	child, err := store.GetDirectory(ctx, testAccount, testHomeURL+"/projects")
	require.NoError(t, err)
	assert.Equal(t, "oc-dir", child.OcID)
	// The child was never listed; its fingerprint must not short-circuit
	// its own first enumeration.
	assert.Empty(t, child.Etag)
	assert.Nil(t, child.DateRead)
}

func TestEtagShortCircuit(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "A")
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-1", FileName: "kept.txt"})
	fake.SetFolder(homeEntry("A"))

	page, err := p.Enumerator(Root).EnumerateItems(ctx, PageInitialSortedByName)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "kept.txt", page.Items[0].FileName)

	assert.Equal(t, 1, fake.CallCount("Stat"))
	assert.Equal(t, 0, fake.CallCount("ReadFolder"))
}

func TestPaginationDeterminism(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "A")
	fake.SetFolder(homeEntry("A"))
	const total = 45
	records := make([]*metadata.Metadata, 0, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("file-%02d.txt", i)
		records = append(records, &metadata.Metadata{
			OcID:         fmt.Sprintf("oc-%02d", i),
			Account:      testAccount,
			ServerURL:    testHomeURL,
			FileName:     name,
			FileNameView: name,
		})
	}
	require.NoError(t, store.UpsertMetadatas(ctx, records))

	enumerator := p.Enumerator(Root)
	seen := make(map[string]bool)
	token := ""
	var pageSizes []int
	for {
		page, err := enumerator.EnumerateItems(ctx, token)
		require.NoError(t, err)
		pageSizes = append(pageSizes, len(page.Items))
		for _, item := range page.Items {
			ocID := item.Identifier.OcID()
			assert.False(t, seen[ocID], "duplicate item %s", ocID)
			seen[ocID] = true
		}
		if page.NextPage == "" {
			break
		}
		token = page.NextPage
	}

	assert.Equal(t, []int{20, 20, 5}, pageSizes)
	assert.Len(t, seen, total)

	// The same mid-stream token keeps yielding the same window.
	again, err := enumerator.EnumerateItems(ctx, "1")
	require.NoError(t, err)
	require.Len(t, again.Items, 20)
	assert.Equal(t, "oc-20", again.Items[0].Identifier.OcID())
	assert.Equal(t, "2", again.NextPage)
}

func TestEnumerateFiltersRows(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "A")
	fake.SetFolder(homeEntry("A"))
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-plain", FileName: "a-plain.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-e2e", FileName: "b-secret.txt", E2EEncrypted: true})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-hidden", FileName: "c-hidden.txt", Status: metadata.StatusHide})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-foreign", FileName: "d-busy.txt", Status: metadata.StatusUploading, Session: "someone-else"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-own", FileName: "e-mine.txt", Status: metadata.StatusUploading, Session: p.Transfers().SessionID()})

	page, err := p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a-plain.txt", page.Items[0].FileName)
	assert.Equal(t, "e-mine.txt", page.Items[1].FileName)
}

func TestRecordsTaggedByPreviousRunStillEnumerate(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	// A manager from an earlier run tagged this record, then the process
	// died before the upload could finish. The record must not be treated
	// as a foreign session after the restart.
	earlier := transfer.NewManager(fake, store, nil, nil)
	seedRecord(t, store, &metadata.Metadata{
		OcID: "oc-orphan", FileName: "orphan.txt",
		Status: metadata.StatusUploadError, SessionError: "connection reset",
		Session: earlier.SessionID(),
	})
	earlier.Close()

	seedHomeDirectory(t, store, "A")
	fake.SetFolder(homeEntry("A"))

	page, err := p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "orphan.txt", page.Items[0].FileName)
}

func TestRefreshPreservesInFlightRecords(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "stale")
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-stale", FileName: "old.txt"})
	seedRecord(t, store, &metadata.Metadata{
		OcID: "oc-busy", FileName: "busy.txt",
		Status: metadata.StatusUploadError, SessionError: "disk full",
	})

	fake.SetFolder(homeEntry("fresh"),
		&remote.Entry{OcID: "oc-busy", Path: testHomeURL + "/busy.txt", FileName: "busy.txt", Etag: "server-side"},
		&remote.Entry{OcID: "oc-new", Path: testHomeURL + "/new.txt", FileName: "new.txt", Etag: "n1"},
	)

	page, err := p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// The errored record kept its local state instead of being clobbered
	// by the server listing.
	busy, err := store.GetMetadata(ctx, testAccount, "oc-busy")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusUploadError, busy.Status)
	assert.Equal(t, "disk full", busy.SessionError)

	_, err = store.GetMetadata(ctx, testAccount, "oc-stale")
	assert.True(t, metadata.IsNotFound(err))
	_, err = store.GetMetadata(ctx, testAccount, "oc-new")
	assert.NoError(t, err)
}

func TestRemoteFailureDegradesToCache(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "A")
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-cached", FileName: "survivor.txt"})
	fake.FailUnavailable()

	page, err := p.Enumerator(Root).EnumerateItems(ctx, PageInitialSortedByDate)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "survivor.txt", page.Items[0].FileName)
}

func TestUnresolvableContainerDeliversEmpty(t *testing.T) {
	p, _, _ := newTestProvider(t)

	page, err := p.Enumerator(Entry("never-seen")).EnumerateItems(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextPage)
}

func TestMalformedPageToken(t *testing.T) {
	p, _, _ := newTestProvider(t)

	_, err := p.Enumerator(Root).EnumerateItems(context.Background(), "page-two")
	assert.True(t, IsInvalidArgument(err))
	_, err = p.Enumerator(Root).EnumerateItems(context.Background(), "-1")
	assert.True(t, IsInvalidArgument(err))
}

func TestWorkingSetUnion(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	seedRecord(t, store, &metadata.Metadata{OcID: "oc-tagged", FileName: "tagged.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-both", FileName: "both.txt"})
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-ranked", FileName: "ranked", Directory: true})
	require.NoError(t, store.SetTag(ctx, testAccount, "oc-tagged", []byte("t")))
	require.NoError(t, store.SetTag(ctx, testAccount, "oc-both", []byte("t")))

	session, err := p.Session()
	require.NoError(t, err)
	session.SetRank("oc-both", 11)
	session.SetRank("oc-ranked", 12)
	session.SetRank("oc-dangling", 13)

	page, err := p.Enumerator(WorkingSet).EnumerateItems(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, page.NextPage)

	names := make(map[string]bool)
	for _, item := range page.Items {
		names[item.FileName] = true
	}
	assert.Len(t, page.Items, 3)
	assert.True(t, names["tagged.txt"])
	assert.True(t, names["both.txt"])
	assert.True(t, names["ranked"])
}

func TestFavoriteDiffSignalsWorkingSet(t *testing.T) {
	p, fake, store := newTestProvider(t)
	ctx := context.Background()

	seedHomeDirectory(t, store, "A")
	fake.SetFolder(homeEntry("A"))
	seedRecord(t, store, &metadata.Metadata{OcID: "oc-fav", FileName: "favorites", Directory: true, Favorite: true})

	session, err := p.Session()
	require.NoError(t, err)

	_, err = p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), session.Anchor())

	rank, ok := session.Rank("oc-fav")
	require.True(t, ok)
	assert.Equal(t, int64(11), rank)

	deletes, updates, _ := session.Drain(true)
	assert.Empty(t, deletes)
	require.Len(t, updates, 1)
	assert.Equal(t, Entry("oc-fav"), updates[0].Identifier)

	// Unchanged favorites raise no second signal.
	_, err = p.Enumerator(Root).EnumerateItems(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), session.Anchor())
}

func TestEnumerateChangesDrainsScopedQueues(t *testing.T) {
	p, _, store := newTestProvider(t)
	ctx := context.Background()

	session, err := p.Session()
	require.NoError(t, err)
	record := seedRecord(t, store, &metadata.Metadata{OcID: "oc-ch", FileName: "changed.txt"})
	item := ProjectItem(record, Root, Snapshot{})

	session.QueueUpdate(false, item)
	session.QueueDelete(true, Entry("oc-gone"))
	session.Signal()

	containerChanges, err := p.Enumerator(Root).EnumerateChanges(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "1", containerChanges.Anchor)
	require.Len(t, containerChanges.Updated, 1)
	assert.Empty(t, containerChanges.Deleted)

	wsChanges, err := p.Enumerator(WorkingSet).EnumerateChanges(ctx, "1")
	require.NoError(t, err)
	require.Len(t, wsChanges.Deleted, 1)
	assert.Equal(t, Entry("oc-gone"), wsChanges.Deleted[0])
	assert.Empty(t, wsChanges.Updated)

	_, err = p.Enumerator(Root).EnumerateChanges(ctx, "not-a-number")
	assert.True(t, IsInvalidArgument(err))
}

func TestAnchorMonotonicity(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	session, err := p.Session()
	require.NoError(t, err)
	enumerator := p.Enumerator(Root)

	previous := uint64(0)
	for i := 0; i < 5; i++ {
		session.QueueDelete(false, Entry("oc-"+strconv.Itoa(i)))
		session.Signal()
		changes, err := enumerator.EnumerateChanges(ctx, strconv.FormatUint(previous, 10))
		require.NoError(t, err)
		current, parseErr := strconv.ParseUint(changes.Anchor, 10, 64)
		require.NoError(t, parseErr)
		assert.Greater(t, current, previous)
		previous = current
	}

	// Draining an empty queue leaves the anchor where it was.
	empty, err := enumerator.EnumerateChanges(ctx, strconv.FormatUint(previous, 10))
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatUint(previous, 10), empty.Anchor)
	assert.Empty(t, empty.Deleted)
	assert.Empty(t, empty.Updated)

	anchor, err := enumerator.CurrentAnchor()
	require.NoError(t, err)
	assert.Equal(t, empty.Anchor, anchor)
}
