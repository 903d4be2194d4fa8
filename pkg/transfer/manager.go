// Package transfer runs file downloads and uploads in the background and
// keeps the metadata store's transfer states in step with reality.
//
// Requests are coalesced by remote path: asking for a transfer that is
// already in flight joins the existing task instead of starting a duplicate.
package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// CompletionHandler is invoked after a task reaches a terminal state and the
// store reflects it. record is the final metadata record on success, nil on
// failure.
type CompletionHandler func(task *Task, record *metadata.Metadata, err error)

// sessionTag marks records this subsystem is transferring. It is a stable
// constant rather than a per-process value: records tagged before a crash or
// restart must still be recognized as ours, or they would be filtered out of
// every enumeration forever.
const sessionTag = "driftfs-provider"

// Manager owns all in-flight transfers for one session.
type Manager struct {
	client  remote.Client
	store   metadata.Store
	observe *metrics.SyncMetrics

	// sessionID tags records this subsystem is transferring, so other
	// clients can recognize and skip foreign in-flight records.
	sessionID string

	onComplete CompletionHandler

	mu       sync.Mutex
	inflight map[string]*Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a Manager. observe and onComplete may be nil.
func NewManager(client remote.Client, store metadata.Store, observe *metrics.SyncMetrics, onComplete CompletionHandler) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:     client,
		store:      store,
		observe:    observe,
		sessionID:  sessionTag,
		onComplete: onComplete,
		inflight:   make(map[string]*Task),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SessionID returns the tag this manager writes into records it transfers.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Download fetches the file described by record into localPath. Returns the
// task and whether this call started it; a false second return means the
// caller joined a transfer already in flight for the same remote path.
func (m *Manager) Download(ctx context.Context, record *metadata.Metadata, localPath string) (*Task, bool, error) {
	remotePath := record.ServerURL + "/" + record.FileName

	m.mu.Lock()
	if task, ok := m.inflight[remotePath]; ok {
		m.mu.Unlock()
		return task, false, nil
	}
	task := m.newTask(KindDownload, record, remotePath, localPath)
	m.inflight[remotePath] = task
	m.mu.Unlock()

	err := m.store.SetMetadataStatus(ctx, record.Account, record.OcID,
		metadata.StatusDownloading, m.sessionID, "")
	if err != nil {
		m.remove(remotePath)
		return nil, false, err
	}

	logger.Debug("starting download %s (task %s)", remotePath, task.ID)
	m.wg.Add(1)
	go m.runDownload(task, *record)
	return task, true, nil
}

// Upload pushes the file at localPath to the record's remote path. Coalesced
// like Download.
func (m *Manager) Upload(ctx context.Context, record *metadata.Metadata, localPath string) (*Task, bool, error) {
	remotePath := record.ServerURL + "/" + record.FileName

	m.mu.Lock()
	if task, ok := m.inflight[remotePath]; ok {
		m.mu.Unlock()
		return task, false, nil
	}
	task := m.newTask(KindUpload, record, remotePath, localPath)
	m.inflight[remotePath] = task
	m.mu.Unlock()

	err := m.store.SetMetadataStatus(ctx, record.Account, record.OcID,
		metadata.StatusUploading, m.sessionID, "")
	if err != nil {
		m.remove(remotePath)
		return nil, false, err
	}

	logger.Debug("starting upload %s (task %s)", remotePath, task.ID)
	m.wg.Add(1)
	go m.runUpload(task, *record)
	return task, true, nil
}

// InFlight reports whether a transfer for the given remote path is running.
func (m *Manager) InFlight(remotePath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[remotePath]
	return ok
}

// Cancel aborts the in-flight transfer for the given remote path, if any.
// Returns whether a transfer was found.
func (m *Manager) Cancel(remotePath string) bool {
	m.mu.Lock()
	task, ok := m.inflight[remotePath]
	m.mu.Unlock()
	if ok {
		task.Cancel()
	}
	return ok
}

// Close cancels all running transfers and waits for their goroutines.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// ============================================================================
// Internals
// ============================================================================

func (m *Manager) newTask(kind Kind, record *metadata.Metadata, remotePath, localPath string) *Task {
	ctx, cancel := context.WithCancel(m.ctx)
	return &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Account:   record.Account,
		OcID:      record.OcID,
		ServerURL: remotePath,
		LocalPath: localPath,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *Manager) runDownload(task *Task, record metadata.Metadata) {
	defer m.wg.Done()
	defer m.remove(task.ServerURL)

	final, err := m.downloadFile(task, &record)
	m.observe.ObserveTransfer(task.Kind.String(), err, time.Since(task.StartedAt), record.Size)

	if err != nil && task.ctx.Err() != nil {
		// Cancelled, not failed. Put the record back to rest; the next
		// StartProvidingItem simply downloads again.
		logger.Debug("download cancelled %s", task.ServerURL)
		if storeErr := m.store.SetMetadataStatus(context.Background(), record.Account, record.OcID,
			metadata.StatusNormal, "", ""); storeErr != nil {
			logger.Error("failed to reset record after cancel for %s: %v", record.OcID, storeErr)
		}
		task.finish(err)
		return
	}
	if err != nil {
		logger.Warn("download failed %s: %v", task.ServerURL, err)
		if storeErr := m.store.SetMetadataStatus(m.ctx, record.Account, record.OcID,
			metadata.StatusDownloadError, m.sessionID, err.Error()); storeErr != nil {
			logger.Error("failed to record download error for %s: %v", record.OcID, storeErr)
		}
		task.finish(err)
		m.notify(task, nil, err)
		return
	}

	logger.Info("download complete %s", task.ServerURL)
	task.finish(nil)
	m.notify(task, final, nil)
}

func (m *Manager) downloadFile(task *Task, record *metadata.Metadata) (*metadata.Metadata, error) {
	if err := os.MkdirAll(filepath.Dir(task.LocalPath), 0o755); err != nil {
		return nil, metadata.WriteFailure("failed to create cache directory: "+err.Error(), task.LocalPath)
	}

	// Download to a temp name first so an interrupted transfer never leaves
	// a truncated file at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(task.LocalPath), ".download-*")
	if err != nil {
		return nil, metadata.WriteFailure("failed to create temp file: "+err.Error(), task.LocalPath)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	entry, err := m.client.Download(task.ctx, task.ServerURL, tmp)
	m.observe.ObserveRemoteCall("download", err)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = metadata.WriteFailure("failed to flush download: "+closeErr.Error(), task.LocalPath)
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmpName, task.LocalPath); err != nil {
		return nil, metadata.WriteFailure("failed to move download into place: "+err.Error(), task.LocalPath)
	}

	etag := record.Etag
	if entry.Etag != "" {
		etag = entry.Etag
	}
	if err := m.store.SetLocalFile(m.ctx, &metadata.LocalFile{
		OcID:     record.OcID,
		Account:  record.Account,
		FileName: record.FileName,
		Etag:     etag,
		Date:     time.Now().UTC(),
		Size:     entry.Size,
	}); err != nil {
		return nil, err
	}
	if err := m.store.SetMetadataStatus(m.ctx, record.Account, record.OcID,
		metadata.StatusNormal, "", ""); err != nil {
		return nil, err
	}
	return m.store.GetMetadata(m.ctx, record.Account, record.OcID)
}

func (m *Manager) runUpload(task *Task, record metadata.Metadata) {
	defer m.wg.Done()
	defer m.remove(task.ServerURL)

	final, err := m.uploadFile(task, &record)
	m.observe.ObserveTransfer(task.Kind.String(), err, time.Since(task.StartedAt), record.Size)

	if err != nil && task.ctx.Err() != nil {
		// Cancelled. The local change still exists, so the record goes back
		// to waiting instead of an error state.
		logger.Debug("upload cancelled %s", task.ServerURL)
		if storeErr := m.store.SetMetadataStatus(context.Background(), record.Account, record.OcID,
			metadata.StatusWaitUpload, m.sessionID, ""); storeErr != nil {
			logger.Error("failed to reset record after cancel for %s: %v", record.OcID, storeErr)
		}
		task.finish(err)
		return
	}
	if err != nil {
		logger.Warn("upload failed %s: %v", task.ServerURL, err)
		if storeErr := m.store.SetMetadataStatus(m.ctx, record.Account, record.OcID,
			metadata.StatusUploadError, m.sessionID, err.Error()); storeErr != nil {
			logger.Error("failed to record upload error for %s: %v", record.OcID, storeErr)
		}
		task.finish(err)
		m.notify(task, nil, err)
		return
	}

	logger.Info("upload complete %s", task.ServerURL)
	task.finish(nil)
	m.notify(task, final, nil)
}

func (m *Manager) uploadFile(task *Task, record *metadata.Metadata) (*metadata.Metadata, error) {
	file, err := os.Open(task.LocalPath)
	if err != nil {
		return nil, metadata.WriteFailure("failed to open local file: "+err.Error(), task.LocalPath)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, metadata.WriteFailure("failed to stat local file: "+err.Error(), task.LocalPath)
	}

	result, err := m.client.Upload(task.ctx, task.ServerURL, file, info.Size())
	m.observe.ObserveRemoteCall("upload", err)
	if err != nil {
		return nil, err
	}

	// A freshly imported file carries a provisional local identifier; the
	// server's identity replaces it once the upload lands.
	final := *record
	final.Size = info.Size()
	final.Status = metadata.StatusNormal
	final.Session = ""
	final.SessionError = ""
	if result.Etag != "" {
		final.Etag = result.Etag
	}
	if !result.Date.IsZero() {
		final.Date = result.Date
	}
	if result.OcID != "" && result.OcID != record.OcID {
		if err := m.store.DeleteMetadata(m.ctx, record.Account, record.OcID); err != nil {
			return nil, err
		}
		if err := m.store.DeleteLocalFile(m.ctx, record.Account, record.OcID); err != nil {
			return nil, err
		}
		final.OcID = result.OcID
	}

	if _, err := m.store.UpsertMetadata(m.ctx, &final); err != nil {
		return nil, err
	}
	if err := m.store.SetLocalFile(m.ctx, &metadata.LocalFile{
		OcID:     final.OcID,
		Account:  final.Account,
		FileName: final.FileName,
		Etag:     final.Etag,
		Date:     time.Now().UTC(),
		Size:     final.Size,
	}); err != nil {
		return nil, err
	}
	return &final, nil
}

func (m *Manager) remove(remotePath string) {
	m.mu.Lock()
	delete(m.inflight, remotePath)
	m.mu.Unlock()
}

func (m *Manager) notify(task *Task, record *metadata.Metadata, err error) {
	if m.onComplete != nil {
		m.onComplete(task, record, err)
	}
}
