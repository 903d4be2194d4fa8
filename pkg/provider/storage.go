package provider

import (
	"os"
	"path/filepath"
	"strings"
)

// Storage maps ocIds to the on-disk content cache.
//
// Layout: materialized content lives at <root>/<ocId>/<filename>, preview
// icons in a parallel tree at <root>/ico/<ocId>/<filename>. The per-ocId
// directory means a rename only moves a file within its directory and the
// identifier/path mapping stays a pure string operation.
type Storage struct {
	root string
}

// NewStorage builds a Storage rooted at root.
func NewStorage(root string) Storage {
	return Storage{root: filepath.Clean(root)}
}

// Root returns the storage root directory.
func (s Storage) Root() string {
	return s.root
}

// ItemDir returns the content directory of ocID.
func (s Storage) ItemDir(ocID string) string {
	return filepath.Join(s.root, ocID)
}

// ItemPath returns the content path of the named file under ocID.
func (s Storage) ItemPath(ocID, fileName string) string {
	return filepath.Join(s.root, ocID, fileName)
}

// PreviewPath returns the preview-icon path of the named file under ocID.
func (s Storage) PreviewPath(ocID, fileName string) string {
	return filepath.Join(s.root, "ico", ocID, fileName)
}

// EnsureItemDir creates the content directory of ocID if missing.
func (s Storage) EnsureItemDir(ocID string) error {
	return os.MkdirAll(s.ItemDir(ocID), 0o755)
}

// HasContent reports whether a materialized file exists for ocID/fileName.
func (s Storage) HasContent(ocID, fileName string) bool {
	info, err := os.Stat(s.ItemPath(ocID, fileName))
	return err == nil && !info.IsDir()
}

// RenameContent moves a cached file and its preview to a new name within
// the same ocId directory. Missing files are skipped silently.
func (s Storage) RenameContent(ocID, oldName, newName string) error {
	oldPath := s.ItemPath(ocID, oldName)
	if _, err := os.Stat(oldPath); err == nil {
		if err := os.Rename(oldPath, s.ItemPath(ocID, newName)); err != nil {
			return err
		}
	}
	oldPreview := s.PreviewPath(ocID, oldName)
	if _, err := os.Stat(oldPreview); err == nil {
		if err := os.Rename(oldPreview, s.PreviewPath(ocID, newName)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveContent deletes the content and preview directories of ocID.
func (s Storage) RemoveContent(ocID string) error {
	if err := os.RemoveAll(s.ItemDir(ocID)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, "ico", ocID))
}

// RemovePreview deletes only the preview of ocID/fileName. Used when
// changed content invalidates the cached icon.
func (s Storage) RemovePreview(ocID, fileName string) {
	os.Remove(s.PreviewPath(ocID, fileName))
}

// IdentifierForPath reverses the <root>/<ocId>/<filename> convention. The
// second return value is false when path is not under the content cache.
func (s Storage) IdentifierForPath(path string) (ItemIdentifier, bool) {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return ItemIdentifier{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == "" || parts[0] == "ico" {
		return ItemIdentifier{}, false
	}
	return Entry(parts[0]), true
}
