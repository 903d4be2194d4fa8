// Package remotetest provides a scripted in-memory remote.Client for tests.
//
// The fake serves folder listings from a map, records per-operation call
// counts, and can be told to fail so tests can verify offline degradation
// and short-circuit behavior.
package remotetest

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/driftfs/driftfs/pkg/remote"
)

// Folder is one scripted folder listing.
type Folder struct {
	Self     *remote.Entry
	Children []*remote.Entry
}

// Fake implements remote.Client against scripted state.
type Fake struct {
	mu sync.Mutex

	folders map[string]*Folder
	files   map[string][]byte

	// Err, when set, is returned by every operation. Simulates an
	// unreachable server.
	Err error

	// Calls counts invocations per operation name ("Stat", "ReadFolder",
	// "Delete", "Move", "SetFavorite", "CreateFolder", "Download",
	// "Upload").
	Calls map[string]int

	hold     chan struct{}
	nextOcID int
}

// NewFake builds an empty fake.
func NewFake() *Fake {
	return &Fake{
		folders: make(map[string]*Folder),
		files:   make(map[string][]byte),
		Calls:   make(map[string]int),
	}
}

// SetFolder scripts the listing served for self.Path.
func (f *Fake) SetFolder(self *remote.Entry, children ...*remote.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[self.Path] = &Folder{Self: self, Children: children}
}

// SetFileContent scripts the bytes served by Download for path.
func (f *Fake) SetFileContent(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
}

// Fail makes every subsequent operation return err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// FailUnavailable makes every subsequent operation fail as unreachable.
func (f *Fake) FailUnavailable() {
	f.Fail(remote.Unavailable("server unreachable", ""))
}

// Recover clears a previously injected failure.
func (f *Fake) Recover() {
	f.Fail(nil)
}

// Hold makes subsequent Download and Upload calls block until the returned
// release func runs or the caller's context is cancelled. Lets tests observe
// transfers mid-flight.
func (f *Fake) Hold() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// waitHold blocks on the current hold gate, if any.
func (f *Fake) waitHold(ctx context.Context, path string) error {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return remote.Unavailable("request cancelled: "+ctx.Err().Error(), path)
	}
}

// CallCount returns how often the named operation ran.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) Stat(ctx context.Context, path string) (*remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Stat"]++
	if f.Err != nil {
		return nil, f.Err
	}
	if folder, ok := f.folders[path]; ok {
		clone := *folder.Self
		return &clone, nil
	}
	if entry := f.findChildLocked(path); entry != nil {
		return entry, nil
	}
	return nil, remote.NotFound("resource not found", path)
}

func (f *Fake) ReadFolder(ctx context.Context, path string) (*remote.Entry, []*remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["ReadFolder"]++
	if f.Err != nil {
		return nil, nil, f.Err
	}
	folder, ok := f.folders[path]
	if !ok {
		return nil, nil, remote.NotFound("folder not found", path)
	}
	self := *folder.Self
	children := make([]*remote.Entry, len(folder.Children))
	for i, child := range folder.Children {
		clone := *child
		children[i] = &clone
	}
	return &self, children, nil
}

func (f *Fake) CreateFolder(ctx context.Context, path string) (*remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateFolder"]++
	if f.Err != nil {
		return nil, f.Err
	}
	f.nextOcID++
	entry := &remote.Entry{
		OcID:      "fake-dir-" + strconv.Itoa(f.nextOcID),
		Path:      path,
		FileName:  lastSegment(path),
		Etag:      "fake-etag-" + strconv.Itoa(f.nextOcID),
		Directory: true,
	}
	f.folders[path] = &Folder{Self: entry}
	clone := *entry
	return &clone, nil
}

func (f *Fake) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Delete"]++
	if f.Err != nil {
		return f.Err
	}
	delete(f.folders, path)
	delete(f.files, path)
	return nil
}

func (f *Fake) Move(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Move"]++
	if f.Err != nil {
		return f.Err
	}
	if folder, ok := f.folders[from]; ok {
		delete(f.folders, from)
		folder.Self.Path = to
		folder.Self.FileName = lastSegment(to)
		f.folders[to] = folder
	}
	if data, ok := f.files[from]; ok {
		delete(f.files, from)
		f.files[to] = data
	}
	return nil
}

func (f *Fake) SetFavorite(ctx context.Context, path string, favorite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["SetFavorite"]++
	if f.Err != nil {
		return f.Err
	}
	if entry := f.findChildLocked(path); entry == nil {
		if _, ok := f.folders[path]; !ok {
			return remote.NotFound("resource not found", path)
		}
	}
	return nil
}

func (f *Fake) Download(ctx context.Context, path string, w io.Writer) (*remote.Entry, error) {
	if err := f.waitHold(ctx, path); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Download"]++
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.files[path]
	if !ok {
		return nil, remote.NotFound("file not found", path)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return nil, remote.Unavailable("download interrupted: "+err.Error(), path)
	}
	entry := f.findChildLocked(path)
	if entry == nil {
		entry = &remote.Entry{Path: path, FileName: lastSegment(path), Size: int64(len(data))}
	}
	return entry, nil
}

func (f *Fake) Upload(ctx context.Context, path string, r io.Reader, size int64) (*remote.UploadResult, error) {
	if err := f.waitHold(ctx, path); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Upload"]++
	if f.Err != nil {
		return nil, f.Err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, remote.Unavailable("upload interrupted: "+err.Error(), path)
	}
	f.files[path] = data
	f.nextOcID++
	return &remote.UploadResult{
		OcID: "fake-file-" + strconv.Itoa(f.nextOcID),
		Etag: "fake-etag-" + strconv.Itoa(f.nextOcID),
	}, nil
}

// findChildLocked looks path up among every scripted folder's children.
func (f *Fake) findChildLocked(path string) *remote.Entry {
	for _, folder := range f.folders {
		for _, child := range folder.Children {
			if child.Path == path {
				clone := *child
				return &clone
			}
		}
	}
	return nil
}

func lastSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
