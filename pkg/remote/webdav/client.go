// Package webdav implements the remote client over the WebDAV protocol with
// the ownCloud/Nextcloud property extensions.
package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/ratelimiter"
	"github.com/driftfs/driftfs/pkg/remote"
)

// Client talks WebDAV to one account's server.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimiter.RateLimiter
	username   string
	password   string
	userAgent  string
}

// Config holds the knobs for building a Client.
type Config struct {
	Username string
	Password string

	// UserAgent identifies the client to the server. Defaults to "driftfs".
	UserAgent string

	// Timeout bounds each request end to end. Zero means 30 seconds.
	Timeout time.Duration

	// RequestsPerSecond caps the sustained request rate against the server.
	// Zero disables throttling.
	RequestsPerSecond uint

	// Burst is the token bucket capacity when throttling is on.
	// Zero falls back to twice RequestsPerSecond.
	Burst uint

	// Transport overrides the HTTP transport. Used by tests.
	Transport http.RoundTripper
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "driftfs"
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.RequestsPerSecond * 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		limiter:    ratelimiter.New(cfg.RequestsPerSecond, burst),
		username:   cfg.Username,
		password:   cfg.Password,
		userAgent:  userAgent,
	}
}

func (c *Client) Stat(ctx context.Context, path string) (*remote.Entry, error) {
	entries, err := c.propfind(ctx, path, "0")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, remote.NotFound("resource not found", path)
	}
	return entries[0], nil
}

func (c *Client) ReadFolder(ctx context.Context, path string) (*remote.Entry, []*remote.Entry, error) {
	entries, err := c.propfind(ctx, path, "1")
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, remote.NotFound("folder not found", path)
	}
	// The first response is the folder itself; the server is not required
	// to order the rest, so match by path to be safe.
	var self *remote.Entry
	children := make([]*remote.Entry, 0, len(entries)-1)
	for _, entry := range entries {
		if self == nil && entry.Path == strings.TrimSuffix(path, "/") {
			self = entry
			continue
		}
		children = append(children, entry)
	}
	if self == nil {
		self = entries[0]
		children = entries[1:]
	}
	return self, children, nil
}

func (c *Client) CreateFolder(ctx context.Context, path string) (*remote.Entry, error) {
	resp, err := c.do(ctx, "MKCOL", path, nil, nil)
	if err != nil {
		return nil, err
	}
	drain(resp)
	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}
	// MKCOL returns no body; fetch the identity the server assigned.
	return c.Stat(ctx, path)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return checkStatus(resp, path)
}

func (c *Client) Move(ctx context.Context, from, to string) error {
	headers := map[string]string{
		"Destination": to,
		"Overwrite":   "F",
	}
	resp, err := c.do(ctx, "MOVE", from, nil, headers)
	if err != nil {
		return err
	}
	drain(resp)
	return checkStatus(resp, from)
}

func (c *Client) SetFavorite(ctx context.Context, path string, favorite bool) error {
	flag := "0"
	if favorite {
		flag = "1"
	}
	body := fmt.Sprintf(`<?xml version="1.0"?>
<d:propertyupdate xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:set><d:prop><oc:favorite>%s</oc:favorite></d:prop></d:set>
</d:propertyupdate>`, flag)

	resp, err := c.do(ctx, "PROPPATCH", path, strings.NewReader(body), nil)
	if err != nil {
		return err
	}
	drain(resp)
	return checkStatus(resp, path)
}

func (c *Client) Download(ctx context.Context, path string, w io.Writer) (*remote.Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}

	size, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, remote.Unavailable("download interrupted: "+err.Error(), path)
	}

	entry := &remote.Entry{
		Path:     strings.TrimSuffix(path, "/"),
		FileName: lastSegment(path),
		Etag:     strings.Trim(resp.Header.Get("Etag"), `"`),
		OcID:     resp.Header.Get("OC-FileId"),
		Size:     size,
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		if t, err := time.Parse(time.RFC1123, modified); err == nil {
			entry.Date = t.UTC()
		}
	}
	return entry, nil
}

func (c *Client) Upload(ctx context.Context, path string, r io.Reader, size int64) (*remote.UploadResult, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, r)
	if err != nil {
		return nil, err
	}
	if size >= 0 {
		req.ContentLength = size
		req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, remote.Unavailable("request failed: "+err.Error(), path)
	}
	drain(resp)
	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}

	result := &remote.UploadResult{
		OcID: resp.Header.Get("OC-FileId"),
		Etag: strings.Trim(resp.Header.Get("OC-Etag"), `"`),
	}
	if result.Etag == "" {
		result.Etag = strings.Trim(resp.Header.Get("Etag"), `"`)
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		if t, err := time.Parse(time.RFC1123, modified); err == nil {
			result.Date = t.UTC()
		}
	} else {
		result.Date = time.Now().UTC()
	}
	return result, nil
}

// ============================================================================
// Internals
// ============================================================================

func (c *Client) propfind(ctx context.Context, path, depth string) ([]*remote.Entry, error) {
	headers := map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml",
	}
	resp, err := c.do(ctx, "PROPFIND", path, strings.NewReader(propfindBody), headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.Unavailable("failed to read server response: "+err.Error(), path)
	}

	u, err := url.Parse(path)
	if err != nil {
		return nil, remote.Unavailable("invalid path: "+err.Error(), path)
	}
	origin := u.Scheme + "://" + u.Host
	return parseMultistatus(data, origin)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, remote.Unavailable("request failed: "+err.Error(), path)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, remote.Unavailable("throttled request cancelled: "+err.Error(), path)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, body)
	if err != nil {
		return nil, remote.Unavailable("invalid request: "+err.Error(), path)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("OCS-APIRequest", "true")
	return req, nil
}

func checkStatus(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusMultiStatus:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return remote.NotFound("resource not found", path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return remote.Unauthorized("credentials rejected", path)
	default:
		return &remote.Error{
			Code:       remote.ErrUnavailable,
			Message:    "unexpected server status " + resp.Status,
			Path:       path,
			StatusCode: resp.StatusCode,
		}
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func lastSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
