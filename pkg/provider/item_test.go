package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

func TestProjectItemStatusMapping(t *testing.T) {
	base := metadata.Metadata{OcID: "oc-1", FileName: "f.txt", FileNameView: "f.txt", Etag: "v1"}

	tests := []struct {
		name          string
		status        metadata.Status
		sessionError  string
		isDownloading bool
		isUploading   bool
		downloadError string
		uploadError   string
	}{
		{name: "normal", status: metadata.StatusNormal},
		{name: "downloading", status: metadata.StatusDownloading, isDownloading: true},
		{name: "in download", status: metadata.StatusInDownload, isDownloading: true},
		{name: "uploading", status: metadata.StatusUploading, isUploading: true},
		{name: "in upload", status: metadata.StatusInUpload, isUploading: true},
		{name: "download failed", status: metadata.StatusDownloadError, sessionError: "boom", downloadError: "boom"},
		{name: "upload failed", status: metadata.StatusUploadError, sessionError: "boom", uploadError: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := base
			record.Status = tt.status
			record.SessionError = tt.sessionError

			item := ProjectItem(&record, Root, Snapshot{})
			assert.Equal(t, tt.isDownloading, item.IsDownloading)
			assert.Equal(t, tt.isUploading, item.IsUploading)
			assert.Equal(t, tt.downloadError, item.DownloadingError)
			assert.Equal(t, tt.uploadError, item.UploadingError)
		})
	}
}

func TestProjectItemCapabilities(t *testing.T) {
	file := &metadata.Metadata{OcID: "f", FileName: "f.txt"}
	dir := &metadata.Metadata{OcID: "d", FileName: "d", Directory: true}

	fileItem := ProjectItem(file, Root, Snapshot{})
	assert.True(t, fileItem.Capabilities.Has(CapWrite|CapReparent))
	assert.False(t, fileItem.Capabilities.Has(CapEnumerate))

	dirItem := ProjectItem(dir, Root, Snapshot{})
	assert.True(t, dirItem.Capabilities.Has(CapEnumerate|CapAddChild))
	assert.False(t, dirItem.Capabilities.Has(CapWrite))
}

func TestProjectItemSnapshot(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	record := &metadata.Metadata{OcID: "oc-1", FileName: "f.txt", Etag: "v3"}
	snapshot := Snapshot{
		Local:    &metadata.LocalFile{OcID: "oc-1", Etag: "v3"},
		Tag:      &metadata.Tag{OcID: "oc-1", Data: []byte("blob")},
		Ranks:    map[string]int64{"oc-1": 11},
		LastUsed: &at,
	}

	item := ProjectItem(record, Root, snapshot)
	assert.True(t, item.IsDownloaded)
	assert.Equal(t, []byte("blob"), item.TagData)
	require.NotNil(t, item.FavoriteRank)
	assert.Equal(t, int64(11), *item.FavoriteRank)
	require.NotNil(t, item.LastUsedDate)
	assert.Equal(t, at, *item.LastUsedDate)
	assert.Equal(t, []byte("v3"), item.VersionIdentifier)

	// FileNameView falls back to FileName when empty.
	assert.Equal(t, "f.txt", item.FileName)
}
