package provider

import (
	"time"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Capability is a bitmask of the operations an item supports.
type Capability uint16

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapRename
	CapDelete
	CapReparent
	CapEnumerate
	CapAddChild
)

// Has reports whether all bits of want are set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// directoryCapabilities and fileCapabilities are the fixed capability sets
// of the two item shapes.
const (
	directoryCapabilities = CapAddChild | CapEnumerate | CapRead | CapDelete | CapRename
	fileCapabilities      = CapWrite | CapRead | CapDelete | CapRename | CapReparent
)

// Item is the externally visible descriptor of one enumerable entry. It is
// a value projected from a metadata record; mutating it has no effect on
// stored state.
type Item struct {
	Identifier       ItemIdentifier
	ParentIdentifier ItemIdentifier

	FileName    string
	Directory   bool
	Size        int64
	Date        time.Time
	ContentType string

	Capabilities Capability

	// VersionIdentifier is the raw bytes of the record's etag. Observers
	// compare it to detect content changes.
	VersionIdentifier []byte

	IsDownloaded  bool
	IsDownloading bool
	IsUploading   bool

	// DownloadingError and UploadingError carry the stored failure message
	// when the record sits in the corresponding error state.
	DownloadingError string
	UploadingError   string

	TagData      []byte
	FavoriteRank *int64
	LastUsedDate *time.Time
}

// Snapshot carries the consistent read-only lookups a projection needs.
// The caller assembles it once; the projection itself performs no store
// access.
type Snapshot struct {
	// Local is the local-file cache record for the ocId, nil when the
	// content has not been materialized.
	Local *metadata.LocalFile

	// Tag is the tag record for the ocId, nil when untagged.
	Tag *metadata.Tag

	// Ranks is the session's favorite rank map.
	Ranks map[string]int64

	// LastUsed is the projection-only last-used date, nil when unset.
	LastUsed *time.Time
}

// ProjectItem maps a metadata record plus its resolved parent identifier to
// an item descriptor. Pure; no side effects.
func ProjectItem(record *metadata.Metadata, parent ItemIdentifier, snapshot Snapshot) *Item {
	item := &Item{
		Identifier:        Entry(record.OcID),
		ParentIdentifier:  parent,
		FileName:          record.FileNameView,
		Directory:         record.Directory,
		Size:              record.Size,
		Date:              record.Date,
		ContentType:       record.ContentType,
		VersionIdentifier: []byte(record.Etag),
		IsDownloaded:      snapshot.Local != nil,
		IsDownloading:     record.Status == metadata.StatusInDownload || record.Status == metadata.StatusDownloading,
		IsUploading:       record.Status == metadata.StatusInUpload || record.Status == metadata.StatusUploading,
		LastUsedDate:      snapshot.LastUsed,
	}
	if item.FileName == "" {
		item.FileName = record.FileName
	}
	if record.Directory {
		item.Capabilities = directoryCapabilities
	} else {
		item.Capabilities = fileCapabilities
	}
	if record.Status == metadata.StatusDownloadError {
		item.DownloadingError = record.SessionError
	}
	if record.Status == metadata.StatusUploadError {
		item.UploadingError = record.SessionError
	}
	if snapshot.Tag != nil {
		item.TagData = snapshot.Tag.Data
	}
	if rank, ok := snapshot.Ranks[record.OcID]; ok {
		r := rank
		item.FavoriteRank = &r
	}
	return item
}

// RootItem synthesizes the root container's descriptor. The root has no
// backing metadata record.
func RootItem() *Item {
	return &Item{
		Identifier:       Root,
		ParentIdentifier: Root,
		FileName:         "",
		Directory:        true,
		Capabilities:     directoryCapabilities,
	}
}
