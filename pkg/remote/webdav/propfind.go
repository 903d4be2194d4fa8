package webdav

import (
	"encoding/xml"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/driftfs/driftfs/pkg/remote"
)

// propfindBody requests the properties the sync core projects into metadata
// records. oc:/nc: are the ownCloud and Nextcloud namespaces.
const propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
  <d:prop>
    <oc:fileid/>
    <d:getetag/>
    <d:getlastmodified/>
    <d:getcontentlength/>
    <d:getcontenttype/>
    <d:resourcetype/>
    <oc:favorite/>
    <oc:permissions/>
    <oc:size/>
    <nc:is-encrypted/>
    <nc:has-preview/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string     `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	FileID        string       `xml:"fileid"`
	Etag          string       `xml:"getetag"`
	LastModified  string       `xml:"getlastmodified"`
	ContentLength string       `xml:"getcontentlength"`
	ContentType   string       `xml:"getcontenttype"`
	ResourceType  resourceType `xml:"resourcetype"`
	Favorite      string       `xml:"favorite"`
	Permissions   string       `xml:"permissions"`
	Size          string       `xml:"size"`
	IsEncrypted   string       `xml:"is-encrypted"`
	HasPreview    string       `xml:"has-preview"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// parseMultistatus decodes a 207 body into entries. origin is the
// scheme://host of the request, used to rebuild full server URLs from the
// response hrefs.
func parseMultistatus(data []byte, origin string) ([]*remote.Entry, error) {
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, remote.Unavailable("failed to parse server response: "+err.Error(), origin)
	}

	entries := make([]*remote.Entry, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		entry, err := toEntry(resp, origin)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func toEntry(resp response, origin string) (*remote.Entry, error) {
	var found *prop
	for i := range resp.Propstat {
		if strings.Contains(resp.Propstat[i].Status, "200") {
			found = &resp.Propstat[i].Prop
			break
		}
	}
	if found == nil {
		return nil, nil
	}

	href, err := url.PathUnescape(resp.Href)
	if err != nil {
		href = resp.Href
	}
	full := origin + strings.TrimSuffix(href, "/")

	entry := &remote.Entry{
		OcID:         found.FileID,
		Path:         full,
		FileName:     path.Base(full),
		Etag:         strings.Trim(found.Etag, `"`),
		Directory:    found.ResourceType.Collection != nil,
		Favorite:     found.Favorite == "1",
		E2EEncrypted: found.IsEncrypted == "1",
		HasPreview:   found.HasPreview == "1" || strings.EqualFold(found.HasPreview, "true"),
		Permissions:  found.Permissions,
		ContentType:  found.ContentType,
	}
	if found.ContentLength != "" {
		entry.Size, _ = strconv.ParseInt(found.ContentLength, 10, 64)
	} else if found.Size != "" {
		entry.Size, _ = strconv.ParseInt(found.Size, 10, 64)
	}
	if found.LastModified != "" {
		if t, err := time.Parse(time.RFC1123, found.LastModified); err == nil {
			entry.Date = t.UTC()
		}
	}
	return entry, nil
}
