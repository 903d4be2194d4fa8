// Package storetest provides a conformance suite shared by every
// metadata.Store implementation. Each backend's test package calls Run with
// a factory producing a fresh store, so all backends are held to the same
// semantics.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Factory produces a fresh, empty store for one test. Cleanup is registered
// on t by the factory.
type Factory func(t *testing.T) metadata.Store

// Run executes the full conformance suite against the given factory.
func Run(t *testing.T, factory Factory) {
	tests := map[string]func(*testing.T, metadata.Store){
		"Accounts":                 testAccounts,
		"AccountCascade":           testAccountCascade,
		"UpsertAndGet":             testUpsertAndGet,
		"QueryOrdering":            testQueryOrdering,
		"QueryStatusFilter":        testQueryStatusFilter,
		"UpsertClearsDateRead":     testUpsertClearsDateRead,
		"DeleteTerminalPreserves":  testDeleteTerminalPreserves,
		"MoveAndRename":            testMoveAndRename,
		"RecordFlags":              testRecordFlags,
		"DirectoryReadState":       testDirectoryReadState,
		"RenameDirectory":          testRenameDirectory,
		"SubtreeCascade":           testSubtreeCascade,
		"LocalFiles":               testLocalFiles,
		"Tags":                     testTags,
		"FavoriteRank":             testFavoriteRank,
		"Healthcheck":              testHealthcheck,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

const testAccount = "user@cloud.example.com"

func seedAccount(t *testing.T, s metadata.Store) {
	t.Helper()
	err := s.AddAccount(context.Background(), &metadata.Account{
		ID:            testAccount,
		User:          "user",
		UserID:        "user",
		ServerURL:     "https://cloud.example.com",
		HomeServerURL: "https://cloud.example.com/remote.php/dav/files/user",
		Active:        true,
	})
	require.NoError(t, err)
}

func record(ocID, serverURL, name string) *metadata.Metadata {
	return &metadata.Metadata{
		OcID:         ocID,
		Account:      testAccount,
		ServerURL:    serverURL,
		FileName:     name,
		FileNameView: name,
		Etag:         "etag-" + ocID,
		Date:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Status:       metadata.StatusNormal,
	}
}

func testAccounts(t *testing.T, s metadata.Store) {
	ctx := context.Background()

	_, err := s.GetActiveAccount(ctx)
	assert.True(t, metadata.IsNotFound(err))

	seedAccount(t, s)
	require.NoError(t, s.AddAccount(ctx, &metadata.Account{ID: "second@other.example.com", Active: true}))

	// Activating the second account must have deactivated the first.
	active, err := s.GetActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second@other.example.com", active.ID)

	require.NoError(t, s.SetAccountActive(ctx, testAccount))
	active, err = s.GetActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAccount, active.ID)

	accounts, err := s.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	err = s.SetAccountActive(ctx, "missing")
	assert.True(t, metadata.IsNotFound(err))
}

func testAccountCascade(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)

	_, err := s.UpsertMetadata(ctx, record("oc1", "https://cloud.example.com/files", "a.txt"))
	require.NoError(t, err)
	require.NoError(t, s.SetLocalFile(ctx, &metadata.LocalFile{OcID: "oc1", Account: testAccount, FileName: "a.txt"}))
	require.NoError(t, s.SetTag(ctx, testAccount, "oc1", []byte("tag")))

	require.NoError(t, s.DeleteAccount(ctx, testAccount))

	_, err = s.GetMetadata(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))
	_, err = s.GetLocalFile(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))
	_, err = s.GetTag(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))
}

func testUpsertAndGet(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)

	in := record("oc1", "https://cloud.example.com/files", "report.pdf")
	in.Size = 1024
	in.Favorite = true
	stored, err := s.UpsertMetadata(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, stored)

	got, err := s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, int64(1024), got.Size)
	assert.True(t, got.Favorite)

	// Replacing by the same ocId overwrites, not duplicates.
	in.Size = 2048
	_, err = s.UpsertMetadata(ctx, in)
	require.NoError(t, err)
	records, err := s.QueryMetadata(ctx, testAccount, in.ServerURL)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2048), records[0].Size)

	_, err = s.GetMetadata(ctx, testAccount, "missing")
	assert.True(t, metadata.IsNotFound(err))

	_, err = s.UpsertMetadata(ctx, &metadata.Metadata{Account: testAccount})
	assert.Error(t, err)
}

func testQueryOrdering(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	require.NoError(t, s.UpsertMetadatas(ctx, []*metadata.Metadata{
		record("oc3", parent, "zeta.txt"),
		record("oc1", parent, "alpha.txt"),
		record("oc2", parent, "beta.txt"),
		record("oc4", parent+"/sub", "other.txt"),
	}))

	records, err := s.QueryMetadata(ctx, testAccount, parent)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha.txt", records[0].FileName)
	assert.Equal(t, "beta.txt", records[1].FileName)
	assert.Equal(t, "zeta.txt", records[2].FileName)
}

func testQueryStatusFilter(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	uploading := record("oc1", parent, "up.bin")
	uploading.Status = metadata.StatusUploading
	normal := record("oc2", parent, "done.bin")
	failed := record("oc3", parent, "failed.bin")
	failed.Status = metadata.StatusUploadError
	require.NoError(t, s.UpsertMetadatas(ctx, []*metadata.Metadata{uploading, normal, failed}))

	records, err := s.QueryMetadataStatus(ctx, testAccount, parent,
		metadata.StatusUploading, metadata.StatusUploadError)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "failed.bin", records[0].FileName)
	assert.Equal(t, "up.bin", records[1].FileName)
}

func testUpsertClearsDateRead(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	_, err := s.AddDirectory(ctx, &metadata.Directory{
		OcID: "dir1", Account: testAccount, ServerURL: parent, Etag: "e1",
	})
	require.NoError(t, err)
	require.NoError(t, s.SetDirectoryDateRead(ctx, testAccount, parent, time.Now()))

	_, err = s.UpsertMetadata(ctx, record("oc1", parent, "new.txt"))
	require.NoError(t, err)

	dir, err := s.GetDirectory(ctx, testAccount, parent)
	require.NoError(t, err)
	assert.Nil(t, dir.DateRead, "writing a child record must invalidate the listing read date")
}

func testDeleteTerminalPreserves(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	inFlight := record("oc1", parent, "uploading.bin")
	inFlight.Status = metadata.StatusUploading
	errored := record("oc2", parent, "stuck.bin")
	errored.Status = metadata.StatusDownloadError
	done := record("oc3", parent, "done.bin")
	hidden := record("oc4", parent, "hidden.bin")
	hidden.Status = metadata.StatusHide
	require.NoError(t, s.UpsertMetadatas(ctx, []*metadata.Metadata{inFlight, errored, done, hidden}))

	require.NoError(t, s.DeleteTerminalMetadata(ctx, testAccount, parent))

	records, err := s.QueryMetadata(ctx, testAccount, parent)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "stuck.bin", records[0].FileName)
	assert.Equal(t, "uploading.bin", records[1].FileName)
}

func testMoveAndRename(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	from := "https://cloud.example.com/files/a"
	to := "https://cloud.example.com/files/b"

	_, err := s.UpsertMetadata(ctx, record("oc1", from, "doc.txt"))
	require.NoError(t, err)

	require.NoError(t, s.MoveMetadata(ctx, testAccount, "oc1", to))
	moved, err := s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, to, moved.ServerURL)
	assert.Equal(t, "doc.txt", moved.FileName)

	old, err := s.QueryMetadata(ctx, testAccount, from)
	require.NoError(t, err)
	assert.Empty(t, old)

	renamed, err := s.RenameMetadata(ctx, testAccount, "oc1", "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", renamed.FileName)
	assert.Equal(t, "renamed.txt", renamed.FileNameView)

	_, err = s.RenameMetadata(ctx, testAccount, "oc1", "")
	assert.Error(t, err)
	err = s.MoveMetadata(ctx, testAccount, "missing", to)
	assert.True(t, metadata.IsNotFound(err))
}

func testRecordFlags(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	account, err := s.GetAccount(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, "user", account.User)

	_, err = s.UpsertMetadata(ctx, record("oc1", parent, "doc.txt"))
	require.NoError(t, err)

	require.NoError(t, s.SetMetadataFavorite(ctx, testAccount, "oc1", true))
	got, err := s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.True(t, got.Favorite)

	require.NoError(t, s.SetMetadataStatus(ctx, testAccount, "oc1",
		metadata.StatusDownloading, "session-1", ""))
	got, err = s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusDownloading, got.Status)
	assert.Equal(t, "session-1", got.Session)

	require.NoError(t, s.SetMetadataStatus(ctx, testAccount, "oc1",
		metadata.StatusDownloadError, "session-1", "disk full"))
	got, err = s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "disk full", got.SessionError)

	require.NoError(t, s.SetMetadataEtag(ctx, testAccount, "oc1", "fresh-etag"))
	got, err = s.GetMetadata(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-etag", got.Etag)

	require.NoError(t, s.DeleteMetadata(ctx, testAccount, "oc1"))
	_, err = s.GetMetadata(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))

	// Deleting a missing record is a no-op.
	require.NoError(t, s.DeleteMetadata(ctx, testAccount, "oc1"))

	err = s.SetMetadataFavorite(ctx, testAccount, "missing", true)
	assert.True(t, metadata.IsNotFound(err))
}

func testDirectoryReadState(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	path := "https://cloud.example.com/files/photos"

	_, err := s.AddDirectory(ctx, &metadata.Directory{
		OcID: "dir1", Account: testAccount, ServerURL: path, Etag: "e1", Permissions: "RGDNVW",
	})
	require.NoError(t, err)

	readAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetDirectoryDateRead(ctx, testAccount, path, readAt))
	dir, err := s.GetDirectory(ctx, testAccount, path)
	require.NoError(t, err)
	require.NotNil(t, dir.DateRead)
	assert.True(t, dir.DateRead.Equal(readAt))

	// A refresh can re-key the directory when the server reports a new ocId.
	newID := "dir1-rekeyed"
	newEtag := "e2"
	require.NoError(t, s.SetDirectory(ctx, testAccount, path, metadata.DirectoryChange{
		OcID: &newID, Etag: &newEtag,
	}))
	dir, err = s.GetDirectoryByID(ctx, testAccount, newID)
	require.NoError(t, err)
	assert.Equal(t, "e2", dir.Etag)
	_, err = s.GetDirectoryByID(ctx, testAccount, "dir1")
	assert.True(t, metadata.IsNotFound(err))

	require.NoError(t, s.ClearDirectoryDateRead(ctx, testAccount, path))
	dir, err = s.GetDirectory(ctx, testAccount, path)
	require.NoError(t, err)
	assert.Nil(t, dir.DateRead)
	assert.Empty(t, dir.Etag)

	require.NoError(t, s.SetDirectoryLock(ctx, testAccount, path, true))
	dir, err = s.GetDirectory(ctx, testAccount, path)
	require.NoError(t, err)
	assert.True(t, dir.Lock)
}

func testRenameDirectory(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	oldPath := "https://cloud.example.com/files/old"
	newPath := "https://cloud.example.com/files/new"

	_, err := s.AddDirectory(ctx, &metadata.Directory{
		OcID: "dir1", Account: testAccount, ServerURL: oldPath, Etag: "e1",
	})
	require.NoError(t, err)

	require.NoError(t, s.RenameDirectory(ctx, testAccount, "dir1", newPath))

	dir, err := s.GetDirectory(ctx, testAccount, newPath)
	require.NoError(t, err)
	assert.Equal(t, "dir1", dir.OcID)
	assert.Equal(t, "e1", dir.Etag, "renaming repaths the row without touching its state")
	_, err = s.GetDirectory(ctx, testAccount, oldPath)
	assert.True(t, metadata.IsNotFound(err))

	err = s.RenameDirectory(ctx, testAccount, "missing", newPath)
	assert.True(t, metadata.IsNotFound(err))
}

func testSubtreeCascade(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	root := "https://cloud.example.com/files"
	doomed := root + "/photos"
	sibling := root + "/photos-backup"

	dirs := []*metadata.Directory{
		{OcID: "d1", Account: testAccount, ServerURL: doomed},
		{OcID: "d2", Account: testAccount, ServerURL: doomed + "/2024"},
		{OcID: "d3", Account: testAccount, ServerURL: sibling},
	}
	for _, dir := range dirs {
		_, err := s.AddDirectory(ctx, dir)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpsertMetadatas(ctx, []*metadata.Metadata{
		record("oc1", doomed, "a.jpg"),
		record("oc2", doomed+"/2024", "b.jpg"),
		record("oc3", sibling, "keep.jpg"),
	}))
	require.NoError(t, s.SetLocalFile(ctx, &metadata.LocalFile{OcID: "oc2", Account: testAccount, FileName: "b.jpg"}))
	require.NoError(t, s.SetTag(ctx, testAccount, "oc1", []byte("x")))

	require.NoError(t, s.DeleteDirectoryAndSubtree(ctx, testAccount, doomed))

	for _, ocID := range []string{"oc1", "oc2"} {
		_, err := s.GetMetadata(ctx, testAccount, ocID)
		assert.True(t, metadata.IsNotFound(err), ocID)
	}
	_, err := s.GetLocalFile(ctx, testAccount, "oc2")
	assert.True(t, metadata.IsNotFound(err))
	_, err = s.GetTag(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))
	_, err = s.GetDirectory(ctx, testAccount, doomed)
	assert.True(t, metadata.IsNotFound(err))
	_, err = s.GetDirectory(ctx, testAccount, doomed+"/2024")
	assert.True(t, metadata.IsNotFound(err))

	// Sibling paths sharing the prefix must survive.
	keep, err := s.GetMetadata(ctx, testAccount, "oc3")
	require.NoError(t, err)
	assert.Equal(t, "keep.jpg", keep.FileName)
	_, err = s.GetDirectory(ctx, testAccount, sibling)
	require.NoError(t, err)
}

func testLocalFiles(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)

	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLocalFile(ctx, &metadata.LocalFile{
		OcID: "oc1", Account: testAccount, FileName: "a.txt", Etag: "e1", Date: date, Size: 10,
	}))

	got, err := s.GetLocalFile(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.Etag)

	newEtag := "e2"
	newDate := date.Add(time.Hour)
	require.NoError(t, s.UpdateLocalFile(ctx, testAccount, "oc1", metadata.LocalFileChange{
		Etag: &newEtag, Date: &newDate,
	}))
	got, err = s.GetLocalFile(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "e2", got.Etag)
	assert.True(t, got.Date.Equal(newDate))
	assert.Equal(t, "a.txt", got.FileName)

	require.NoError(t, s.DeleteLocalFile(ctx, testAccount, "oc1"))
	_, err = s.GetLocalFile(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))

	// Deleting a missing record is a no-op.
	require.NoError(t, s.DeleteLocalFile(ctx, testAccount, "oc1"))
}

func testTags(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)

	require.NoError(t, s.SetTag(ctx, testAccount, "oc2", []byte("beta")))
	require.NoError(t, s.SetTag(ctx, testAccount, "oc1", []byte("alpha")))

	got, err := s.GetTag(ctx, testAccount, "oc1")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got.Data)

	tags, err := s.ListTags(ctx, testAccount)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "oc1", tags[0].OcID)
	assert.Equal(t, "oc2", tags[1].OcID)

	require.NoError(t, s.SetTag(ctx, testAccount, "oc1", nil))
	_, err = s.GetTag(ctx, testAccount, "oc1")
	assert.True(t, metadata.IsNotFound(err))
}

func testFavoriteRank(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	seedAccount(t, s)
	parent := "https://cloud.example.com/files"

	mkdir := func(ocID, name string, favorite bool) *metadata.Metadata {
		r := record(ocID, parent, name)
		r.Directory = true
		r.Favorite = favorite
		return r
	}
	favFile := record("oc9", parent, "afile.txt")
	favFile.Favorite = true

	require.NoError(t, s.UpsertMetadatas(ctx, []*metadata.Metadata{
		mkdir("oc1", "Work", true),
		mkdir("oc2", "Archive", true),
		mkdir("oc3", "Misc", false),
		favFile,
	}))

	ranks, err := s.FavoriteRank(ctx, testAccount, 10)
	require.NoError(t, err)

	// Only favorite directories rank, ordered by display name, starting
	// above the reserved base.
	require.Len(t, ranks, 2)
	assert.Equal(t, int64(11), ranks["oc2"]) // Archive
	assert.Equal(t, int64(12), ranks["oc1"]) // Work

	ranks, err = s.FavoriteRank(ctx, testAccount, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ranks["oc2"])
}

func testHealthcheck(t *testing.T, s metadata.Store) {
	assert.NoError(t, s.Healthcheck(context.Background()))
}
