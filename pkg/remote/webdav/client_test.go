package webdav

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/remote"
)

const sampleMultistatus = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
  <d:response>
    <d:href>/remote.php/dav/files/user/Documents/</d:href>
    <d:propstat>
      <d:status>HTTP/1.1 200 OK</d:status>
      <d:prop>
        <oc:fileid>dir-42</oc:fileid>
        <d:getetag>"etag-dir"</d:getetag>
        <d:resourcetype><d:collection/></d:resourcetype>
        <oc:favorite>1</oc:favorite>
        <oc:permissions>RGDNVCK</oc:permissions>
        <oc:size>2048</oc:size>
      </d:prop>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/user/Documents/report.pdf</d:href>
    <d:propstat>
      <d:status>HTTP/1.1 200 OK</d:status>
      <d:prop>
        <oc:fileid>file-7</oc:fileid>
        <d:getetag>"etag-file"</d:getetag>
        <d:getlastmodified>Wed, 01 May 2024 12:00:00 GMT</d:getlastmodified>
        <d:getcontentlength>1024</d:getcontentlength>
        <d:getcontenttype>application/pdf</d:getcontenttype>
        <d:resourcetype/>
        <oc:favorite>0</oc:favorite>
        <nc:has-preview>true</nc:has-preview>
      </d:prop>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestReadFolder(t *testing.T) {
	var gotDepth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		gotDepth = r.Header.Get("Depth")
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, sampleMultistatus)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	self, children, err := client.ReadFolder(context.Background(),
		server.URL+"/remote.php/dav/files/user/Documents")
	require.NoError(t, err)

	assert.Equal(t, "1", gotDepth)
	assert.Equal(t, "dir-42", self.OcID)
	assert.True(t, self.Directory)
	assert.True(t, self.Favorite)
	assert.Equal(t, "etag-dir", self.Etag, "etag quotes must be stripped")

	require.Len(t, children, 1)
	child := children[0]
	assert.Equal(t, "file-7", child.OcID)
	assert.Equal(t, "report.pdf", child.FileName)
	assert.Equal(t, int64(1024), child.Size)
	assert.Equal(t, "application/pdf", child.ContentType)
	assert.True(t, child.HasPreview)
	assert.False(t, child.Directory)
}

func TestStatDepthZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0", r.Header.Get("Depth"))
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, sampleMultistatus)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	entry, err := client.Stat(context.Background(), server.URL+"/remote.php/dav/files/user/Documents")
	require.NoError(t, err)
	assert.Equal(t, "dir-42", entry.OcID)
}

func TestErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})

	_, err := client.Stat(context.Background(), server.URL+"/missing")
	assert.True(t, remote.IsNotFound(err))

	status = http.StatusUnauthorized
	_, err = client.Stat(context.Background(), server.URL+"/missing")
	assert.True(t, remote.IsUnauthorized(err))

	status = http.StatusInternalServerError
	_, err = client.Stat(context.Background(), server.URL+"/missing")
	assert.True(t, remote.IsUnavailable(err))

	server.Close()
	_, err = client.Stat(context.Background(), server.URL+"/gone")
	assert.True(t, remote.IsUnavailable(err), "connection failures map to unavailable")
}

func TestSetFavorite(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPPATCH", r.Method)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	err := client.SetFavorite(context.Background(), server.URL+"/file.txt", true)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<oc:favorite>1</oc:favorite>")

	err = client.SetFavorite(context.Background(), server.URL+"/file.txt", false)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<oc:favorite>0</oc:favorite>")
}

func TestMoveSendsDestination(t *testing.T) {
	var destination, overwrite string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "MOVE", r.Method)
		destination = r.Header.Get("Destination")
		overwrite = r.Header.Get("Overwrite")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	err := client.Move(context.Background(), server.URL+"/a.txt", server.URL+"/b.txt")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/b.txt", destination)
	assert.Equal(t, "F", overwrite)
}

func TestUploadIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("OC-FileId", "oc-new")
		w.Header().Set("OC-Etag", `"etag-new"`)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	result, err := client.Upload(context.Background(), server.URL+"/new.txt",
		bytes.NewReader([]byte("hello")), 5)
	require.NoError(t, err)
	assert.Equal(t, "oc-new", result.OcID)
	assert.Equal(t, "etag-new", result.Etag)
}

func TestThrottleBlocksSecondRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, sampleMultistatus)
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret", RequestsPerSecond: 1, Burst: 1})

	_, err := client.Stat(context.Background(), server.URL+"/remote.php/dav/files/user/Documents")
	require.NoError(t, err)

	// The single token is spent; a second request cannot get one before the
	// context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Stat(ctx, server.URL+"/remote.php/dav/files/user/Documents")
	assert.True(t, remote.IsUnavailable(err))
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"etag-dl"`)
		w.Header().Set("Last-Modified", "Wed, 01 May 2024 12:00:00 GMT")
		io.WriteString(w, "content")
	}))
	defer server.Close()

	client := New(Config{Username: "user", Password: "secret"})
	var buf bytes.Buffer
	entry, err := client.Download(context.Background(), server.URL+"/file.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "content", buf.String())
	assert.Equal(t, "etag-dl", entry.Etag)
	assert.Equal(t, int64(7), entry.Size)
	assert.Equal(t, 2024, entry.Date.Year())
}
