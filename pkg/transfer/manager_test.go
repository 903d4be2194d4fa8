package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/remote/remotetest"
	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/store/metadata/memory"
)

const account = "user@cloud.example.com"

func seed(t *testing.T, store metadata.Store, record *metadata.Metadata) {
	t.Helper()
	require.NoError(t, store.AddAccount(context.Background(), &metadata.Account{ID: account, Active: true}))
	_, err := store.UpsertMetadata(context.Background(), record)
	require.NoError(t, err)
}

func fileRecord(ocID, name string) *metadata.Metadata {
	return &metadata.Metadata{
		OcID:      ocID,
		Account:   account,
		ServerURL: "https://cloud.example.com/files",
		FileName:  name, FileNameView: name,
		Status: metadata.StatusNormal,
	}
}

func TestSessionTagSurvivesRestart(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()

	first := NewManager(fake, store, nil, nil)
	tag := first.SessionID()
	first.Close()

	// A fresh manager over the same store recognizes records the old one
	// tagged; a per-process tag would orphan them.
	second := NewManager(fake, store, nil, nil)
	defer second.Close()
	assert.Equal(t, tag, second.SessionID())
}

func TestDownloadSuccess(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("oc1", "doc.txt")
	seed(t, store, record)
	fake.SetFileContent("https://cloud.example.com/files/doc.txt", []byte("payload"))

	manager := NewManager(fake, store, nil, nil)
	defer manager.Close()

	localPath := filepath.Join(t.TempDir(), "oc1", "doc.txt")
	task, started, err := manager.Download(context.Background(), record, localPath)
	require.NoError(t, err)
	assert.True(t, started)
	require.NoError(t, task.Wait(context.Background()))

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	got, err := store.GetMetadata(context.Background(), account, "oc1")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusNormal, got.Status)
	assert.Empty(t, got.Session)

	local, err := store.GetLocalFile(context.Background(), account, "oc1")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", local.FileName)
}

func TestDownloadFailureRecordsError(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("oc1", "doc.txt")
	seed(t, store, record)
	fake.FailUnavailable()

	var notified error
	var wg sync.WaitGroup
	wg.Add(1)
	manager := NewManager(fake, store, nil, func(task *Task, rec *metadata.Metadata, err error) {
		notified = err
		assert.Nil(t, rec)
		wg.Done()
	})
	defer manager.Close()

	task, started, err := manager.Download(context.Background(), record, filepath.Join(t.TempDir(), "doc.txt"))
	require.NoError(t, err)
	assert.True(t, started)
	assert.Error(t, task.Wait(context.Background()))
	wg.Wait()
	assert.Error(t, notified)

	got, err := store.GetMetadata(context.Background(), account, "oc1")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusDownloadError, got.Status)
	assert.Equal(t, manager.SessionID(), got.Session)
	assert.NotEmpty(t, got.SessionError)
}

func TestDownloadCoalescesByRemotePath(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("oc1", "doc.txt")
	seed(t, store, record)
	fake.SetFileContent("https://cloud.example.com/files/doc.txt", []byte("payload"))

	manager := NewManager(fake, store, nil, nil)
	defer manager.Close()

	release := fake.Hold()
	defer release()

	localPath := filepath.Join(t.TempDir(), "doc.txt")
	first, started, err := manager.Download(context.Background(), record, localPath)
	require.NoError(t, err)
	require.True(t, started)

	// The first transfer is parked on the hold gate, so the second request
	// for the same path must join it.
	second, started, err := manager.Download(context.Background(), record, localPath)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Same(t, first, second)

	release()
	require.NoError(t, first.Wait(context.Background()))
	assert.Equal(t, 1, fake.CallCount("Download"))
}

func TestCancelDownloadResetsRecord(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("oc1", "doc.txt")
	seed(t, store, record)
	fake.SetFileContent("https://cloud.example.com/files/doc.txt", []byte("payload"))

	notified := false
	manager := NewManager(fake, store, nil, func(task *Task, rec *metadata.Metadata, err error) {
		notified = true
	})
	defer manager.Close()

	release := fake.Hold()
	defer release()

	task, started, err := manager.Download(context.Background(), record, filepath.Join(t.TempDir(), "doc.txt"))
	require.NoError(t, err)
	require.True(t, started)

	require.True(t, manager.Cancel("https://cloud.example.com/files/doc.txt"))
	require.NoError(t, task.Wait(context.Background()), "cancellation is not an error")
	assert.Equal(t, StateCancelled, task.State())
	assert.False(t, notified, "cancelled transfers must not fire the completion handler")

	// The in-flight entry is gone, so a new request starts fresh.
	assert.Eventually(t, func() bool {
		return !manager.InFlight("https://cloud.example.com/files/doc.txt")
	}, time.Second, 5*time.Millisecond)

	got, err := store.GetMetadata(context.Background(), account, "oc1")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusNormal, got.Status)
	assert.Empty(t, got.Session)
}

func TestCancelUploadKeepsItWaiting(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("oc1", "doc.txt")
	record.Status = metadata.StatusWaitUpload
	seed(t, store, record)

	localPath := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("fresh"), 0o644))

	manager := NewManager(fake, store, nil, nil)
	defer manager.Close()

	release := fake.Hold()
	defer release()

	task, started, err := manager.Upload(context.Background(), record, localPath)
	require.NoError(t, err)
	require.True(t, started)

	task.Cancel()
	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, StateCancelled, task.State())

	// The local change still exists; the record waits for another upload.
	got, err := store.GetMetadata(context.Background(), account, "oc1")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusWaitUpload, got.Status)
	assert.Equal(t, manager.SessionID(), got.Session)
}

func TestCancelUnknownPath(t *testing.T) {
	manager := NewManager(remotetest.NewFake(), memory.New(), nil, nil)
	defer manager.Close()
	assert.False(t, manager.Cancel("https://cloud.example.com/files/nope.txt"))
}

func TestUploadReplacesProvisionalIdentity(t *testing.T) {
	store := memory.New()
	fake := remotetest.NewFake()
	record := fileRecord("provisional-uuid", "new.txt")
	record.Status = metadata.StatusWaitUpload
	seed(t, store, record)

	localPath := filepath.Join(t.TempDir(), "new.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("fresh"), 0o644))

	var final *metadata.Metadata
	var wg sync.WaitGroup
	wg.Add(1)
	manager := NewManager(fake, store, nil, func(task *Task, rec *metadata.Metadata, err error) {
		final = rec
		wg.Done()
	})
	defer manager.Close()

	task, started, err := manager.Upload(context.Background(), record, localPath)
	require.NoError(t, err)
	assert.True(t, started)
	require.NoError(t, task.Wait(context.Background()))
	wg.Wait()

	require.NotNil(t, final)
	assert.NotEqual(t, "provisional-uuid", final.OcID)
	assert.Equal(t, metadata.StatusNormal, final.Status)
	assert.Equal(t, int64(5), final.Size)

	// The provisional record is gone; the server-keyed one replaced it.
	_, err = store.GetMetadata(context.Background(), account, "provisional-uuid")
	assert.True(t, metadata.IsNotFound(err))
	got, err := store.GetMetadata(context.Background(), account, final.OcID)
	require.NoError(t, err)
	assert.Equal(t, "new.txt", got.FileName)
}

func TestTaskWaitHonorsContext(t *testing.T) {
	task := &Task{ID: "t", done: make(chan struct{}), StartedAt: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.Canceled)
}
