// Package remote defines the client interface to the file server.
//
// The sync core talks to the server exclusively through this interface, so
// enumeration and action logic can be tested against a scripted fake and the
// wire protocol stays confined to one implementation package.
package remote

import (
	"context"
	"io"
	"time"
)

// Entry is one server-side file or folder as reported by a listing.
type Entry struct {
	// OcID is the server's stable identifier for the entry. It survives
	// renames and moves.
	OcID string

	// Path is the full server URL of the entry, without a trailing slash.
	Path string

	// FileName is the last path component.
	FileName string

	Etag         string
	Directory    bool
	Size         int64
	Date         time.Time
	Favorite     bool
	E2EEncrypted bool
	HasPreview   bool
	Permissions  string
	ContentType  string
}

// UploadResult reports the server-assigned identity of an uploaded file.
type UploadResult struct {
	OcID string
	Etag string
	Date time.Time
}

// Client performs remote operations against one account's server.
//
// Every call honors ctx cancellation. Failures are reported as *Error so
// callers can distinguish a missing resource from an unreachable server.
type Client interface {
	// Stat fetches the entry at path without listing children (depth 0).
	// Used for the cheap etag check before a full listing.
	Stat(ctx context.Context, path string) (*Entry, error)

	// ReadFolder lists the folder at path (depth 1). The first return value
	// is the folder itself, the second its direct children.
	ReadFolder(ctx context.Context, path string) (*Entry, []*Entry, error)

	// CreateFolder creates a folder at path and returns its entry.
	CreateFolder(ctx context.Context, path string) (*Entry, error)

	// Delete removes the file or folder at path. Folders are removed
	// recursively by the server.
	Delete(ctx context.Context, path string) error

	// Move renames or reparents the resource at from so it lives at to.
	Move(ctx context.Context, from, to string) error

	// SetFavorite flags or unflags the resource at path as a favorite.
	SetFavorite(ctx context.Context, path string, favorite bool) error

	// Download streams the file at path into w and returns its entry as
	// reported by the server.
	Download(ctx context.Context, path string, w io.Writer) (*Entry, error)

	// Upload streams r to path and returns the server-assigned identity.
	Upload(ctx context.Context, path string, r io.Reader, size int64) (*UploadResult, error)
}
