package metadata

import (
	"sort"
	"time"
)

// Status is the transfer state of a metadata record.
//
// A record is "terminal" (Normal or Hide) when no transfer is pending for it.
// Terminal records are the ones replaced wholesale when a directory listing is
// refreshed from the server; records with an in-flight or errored transfer
// survive the refresh so pending work is never lost.
type Status int

const (
	StatusNormal Status = iota
	StatusHide
	StatusWaitDownload
	StatusInDownload
	StatusDownloading
	StatusDownloadError
	StatusWaitUpload
	StatusInUpload
	StatusUploading
	StatusUploadError
)

// IsTerminal reports whether the record has no pending or errored transfer.
func (s Status) IsTerminal() bool {
	return s == StatusNormal || s == StatusHide
}

// IsDownload reports whether the record is involved in a download
// (waiting, in progress, or failed).
func (s Status) IsDownload() bool {
	switch s {
	case StatusWaitDownload, StatusInDownload, StatusDownloading, StatusDownloadError:
		return true
	}
	return false
}

// IsUpload reports whether the record is involved in an upload
// (waiting, in progress, or failed).
func (s Status) IsUpload() bool {
	switch s {
	case StatusWaitUpload, StatusInUpload, StatusUploading, StatusUploadError:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusHide:
		return "hide"
	case StatusWaitDownload:
		return "wait-download"
	case StatusInDownload:
		return "in-download"
	case StatusDownloading:
		return "downloading"
	case StatusDownloadError:
		return "download-error"
	case StatusWaitUpload:
		return "wait-upload"
	case StatusInUpload:
		return "in-upload"
	case StatusUploading:
		return "uploading"
	case StatusUploadError:
		return "upload-error"
	default:
		return "unknown"
	}
}

// Account is one configured remote endpoint plus credentials.
//
// Exactly one account may be active at a time; sync operations scope to the
// active account unless an item resolves to a different one.
type Account struct {
	// ID is the unique opaque account identifier.
	ID string `json:"id"`

	// User is the display user name.
	User string `json:"user"`

	// UserID is the server-side user identifier used for DAV paths.
	UserID string `json:"user_id"`

	// ServerURL is the base URL of the remote server.
	ServerURL string `json:"server_url"`

	// HomeServerURL is the URL of the account's root container.
	HomeServerURL string `json:"home_server_url"`

	// Password is the account secret. Never logged.
	Password string `json:"password"`

	// Active marks the account all operations implicitly scope to.
	Active bool `json:"active"`
}

// Metadata is one remote filesystem entry (file or directory).
//
// OcID is stable across renames and moves and is the join key for local
// files, tags, and externally visible item identifiers. The (ServerURL,
// FileName) pair is unique within an account at any instant.
type Metadata struct {
	// OcID is the unique persistent identifier assigned by the server.
	OcID string `json:"oc_id"`

	// Account is the owning account ID.
	Account string `json:"account"`

	// ServerURL is the full URL of the parent container.
	ServerURL string `json:"server_url"`

	// FileName is the leaf name on the server.
	FileName string `json:"file_name"`

	// FileNameView is the leaf name shown to the user (normally equal to
	// FileName).
	FileNameView string `json:"file_name_view"`

	// Etag is the remote content/version fingerprint.
	Etag string `json:"etag"`

	// Directory marks container entries.
	Directory bool `json:"directory"`

	// Size in bytes (0 for directories).
	Size int64 `json:"size"`

	// Date is the remote modification time.
	Date time.Time `json:"date"`

	// Favorite mirrors the server-side favorite flag.
	Favorite bool `json:"favorite"`

	// Status is the transfer state.
	Status Status `json:"status"`

	// Session identifies the subsystem owning an in-flight transfer
	// (empty when none).
	Session string `json:"session"`

	// SessionError holds the last transfer error description (empty when none).
	SessionError string `json:"session_error"`

	// E2EEncrypted marks end-to-end encrypted entries. The flag is carried
	// opaquely; encrypted entries are excluded from enumeration.
	E2EEncrypted bool `json:"e2e_encrypted"`

	// Permissions is the server permission string.
	Permissions string `json:"permissions"`

	// HasPreview reports whether the server can render a preview.
	HasPreview bool `json:"has_preview"`

	// ContentType is the MIME type reported by the server.
	ContentType string `json:"content_type"`
}

// Directory is the read-state record of one known container.
//
// Unlike Metadata.ServerURL (the parent path), Directory.ServerURL is the
// directory's own full path.
type Directory struct {
	// OcID equals the directory's own metadata OcID.
	OcID string `json:"oc_id"`

	// Account is the owning account ID.
	Account string `json:"account"`

	// ServerURL is the directory's own full path.
	ServerURL string `json:"server_url"`

	// Etag is the fingerprint of the last fetched child listing.
	Etag string `json:"etag"`

	// Permissions is the server permission string.
	Permissions string `json:"permissions"`

	// Favorite mirrors the server-side favorite flag.
	Favorite bool `json:"favorite"`

	// E2EEncrypted marks an end-to-end encrypted container.
	E2EEncrypted bool `json:"e2e_encrypted"`

	// Lock excludes the directory's contents from media aggregation.
	Lock bool `json:"lock"`

	// DateRead is the time of the last successful remote refresh.
	// nil forces a refresh on the next enumeration.
	DateRead *time.Time `json:"date_read"`
}

// LocalFile records that a metadata record has been materialized on local
// storage. Its presence with a matching Etag means the on-disk content is
// current; absence or a stale Etag means a re-download is required.
type LocalFile struct {
	// OcID joins the record to its Metadata.
	OcID string `json:"oc_id"`

	// Account is the owning account ID.
	Account string `json:"account"`

	// FileName is the cached file's leaf name.
	FileName string `json:"file_name"`

	// Etag of the cached copy.
	Etag string `json:"etag"`

	// Date is the cached copy's modification time.
	Date time.Time `json:"date"`

	// Size in bytes of the cached copy.
	Size int64 `json:"size"`
}

// Tag is an optional platform tag blob attached to one OcID.
type Tag struct {
	// OcID joins the tag to its Metadata.
	OcID string `json:"oc_id"`

	// Account is the owning account ID.
	Account string `json:"account"`

	// Data is the opaque tag payload.
	Data []byte `json:"data"`
}

// SortMetadatas sorts records by FileName ascending, ties broken by OcID.
//
// All backends sort query results this way so pagination offsets stay
// deterministic across calls.
func SortMetadatas(records []*Metadata) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].FileName != records[j].FileName {
			return records[i].FileName < records[j].FileName
		}
		return records[i].OcID < records[j].OcID
	})
}

// ComputeFavoriteRank builds the favorite rank map from directory-type
// records with Favorite set, ordered by FileNameView ascending. Ranks form a
// strictly increasing sequence starting at base+1 so they never collide with
// externally pinned ranks in the reserved low range [0, base].
func ComputeFavoriteRank(records []*Metadata, base int64) map[string]int64 {
	favorites := make([]*Metadata, 0, len(records))
	for _, record := range records {
		if record.Directory && record.Favorite {
			favorites = append(favorites, record)
		}
	}

	sort.SliceStable(favorites, func(i, j int) bool {
		if favorites[i].FileNameView != favorites[j].FileNameView {
			return favorites[i].FileNameView < favorites[j].FileNameView
		}
		return favorites[i].OcID < favorites[j].OcID
	})

	ranks := make(map[string]int64, len(favorites))
	counter := base
	for _, record := range favorites {
		counter++
		ranks[record.OcID] = counter
	}

	return ranks
}
