package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/remote"
	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Reserved initial page tokens. Observers may start an enumeration with
// either sort hint; both mean "page zero, refresh from the server first".
// Every subsequent token is a decimal page number minted by the previous
// page.
const (
	PageInitialSortedByDate = "initial_sorted_by_date"
	PageInitialSortedByName = "initial_sorted_by_name"
)

// Page is one delivered window of an enumeration. NextPage is empty when
// the enumeration is complete.
type Page struct {
	Items    []*Item
	NextPage string
}

// Changes is the drained delta of one change enumeration. Anchor is the
// counter value the observer should store and present next time.
type Changes struct {
	Deleted []ItemIdentifier
	Updated []*Item
	Anchor  string
}

// Enumerator lists one container (or the working set) page by page and
// reports deltas against the session anchor.
//
// Enumerators are cheap and stateless; all shared state lives in the
// session and the store, so any number may run concurrently.
type Enumerator struct {
	provider *Provider
	target   ItemIdentifier
}

// Enumerator returns an enumerator for the given container identifier.
func (p *Provider) Enumerator(id ItemIdentifier) *Enumerator {
	return &Enumerator{provider: p, target: id}
}

// EnumerateItems delivers one page of the target's contents.
//
// The working set is delivered whole in a single page. Containers are
// paginated; a first-page request additionally refreshes the listing from
// the server unless the directory's cached etag still matches. Remote
// failures during that refresh are logged and the enumeration degrades to
// whatever the store holds.
func (e *Enumerator) EnumerateItems(ctx context.Context, pageToken string) (*Page, error) {
	p := e.provider
	session, err := p.Session()
	if err != nil {
		return nil, err
	}
	start := time.Now()

	if e.target.IsWorkingSet() {
		page, err := e.workingSetPage(ctx, session)
		p.observe.ObserveEnumeration("working-set", outcomeOf(err), time.Since(start))
		return page, err
	}

	pageNumber, initial, err := parsePageToken(pageToken)
	if err != nil {
		p.observe.ObserveEnumeration("container", "error", time.Since(start))
		return nil, err
	}

	containerURL, resolved := e.resolveTarget(ctx, session)
	if !resolved {
		// An unresolvable container is an empty one, not an error; the
		// observer simply sees nothing to show.
		p.observe.ObserveEnumeration("container", "ok", time.Since(start))
		return &Page{}, nil
	}

	outcome := "ok"
	if initial {
		if refreshErr := e.refreshIfStale(ctx, session, containerURL); refreshErr != nil {
			logger.Warn("listing refresh for %s degraded to cache: %v", containerURL, refreshErr)
			outcome = "cache-only"
		}
		e.signalFavoriteDiff(ctx, session)
	}

	page, err := e.containerPage(ctx, session, containerURL, pageNumber)
	if err != nil {
		outcome = "error"
	}
	p.observe.ObserveEnumeration("container", outcome, time.Since(start))
	return page, err
}

// EnumerateChanges drains the delete and update queues scoped to the
// target (working set or not) and returns the current anchor. The drain
// and the anchor read are one atomic step; signals raised afterwards get a
// later anchor.
func (e *Enumerator) EnumerateChanges(ctx context.Context, sinceAnchor string) (*Changes, error) {
	session, err := e.provider.Session()
	if err != nil {
		return nil, err
	}
	if sinceAnchor != "" {
		if _, parseErr := strconv.ParseUint(sinceAnchor, 10, 64); parseErr != nil {
			return nil, invalidArgument("malformed anchor token", sinceAnchor)
		}
	}

	deleted, updated, anchor := session.Drain(e.target.IsWorkingSet())
	return &Changes{
		Deleted: deleted,
		Updated: updated,
		Anchor:  strconv.FormatUint(anchor, 10),
	}, nil
}

// CurrentAnchor returns the session's anchor without blocking on any
// enumeration in progress.
func (e *Enumerator) CurrentAnchor() (string, error) {
	session, err := e.provider.Session()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(session.Anchor(), 10), nil
}

// ============================================================================
// Working set
// ============================================================================

// workingSetPage delivers every tagged and every favorite-ranked record as
// one unpaginated page, deduplicated by ocId.
func (e *Enumerator) workingSetPage(ctx context.Context, session *Session) (*Page, error) {
	p := e.provider
	account := session.Account().ID

	seen := make(map[string]bool)
	var ocIDs []string

	tags, err := p.store.ListTags(ctx, account)
	if err != nil {
		return nil, storeWriteFailure("failed to list tags: "+err.Error(), account)
	}
	for _, tag := range tags {
		if !seen[tag.OcID] {
			seen[tag.OcID] = true
			ocIDs = append(ocIDs, tag.OcID)
		}
	}
	for ocID := range session.Ranks() {
		if !seen[ocID] {
			seen[ocID] = true
			ocIDs = append(ocIDs, ocID)
		}
	}

	items := make([]*Item, 0, len(ocIDs))
	for _, ocID := range ocIDs {
		record, err := p.store.GetMetadata(ctx, account, ocID)
		if err != nil {
			// A dangling tag or rank just drops out of the set.
			continue
		}
		parent, err := p.parentIdentifier(ctx, session, record)
		if err != nil {
			continue
		}
		items = append(items, ProjectItem(record, parent, p.snapshotFor(ctx, session, record)))
	}
	return &Page{Items: items}, nil
}

// ============================================================================
// Container listing
// ============================================================================

// resolveTarget maps the target identifier to the container's own full
// server path. The second return value is false when the identifier does
// not resolve to a known directory.
func (e *Enumerator) resolveTarget(ctx context.Context, session *Session) (string, bool) {
	if e.target.IsRoot() {
		return session.Account().HomeServerURL, true
	}
	record, err := e.provider.store.GetMetadata(ctx, session.Account().ID, e.target.OcID())
	if err != nil || !record.Directory {
		return "", false
	}
	return record.ServerURL + "/" + record.FileName, true
}

// refreshIfStale performs the depth-0 etag check and, on mismatch, the
// full one-level refresh of the container's cached listing. A nil return
// means the cache is current (whether or not anything was fetched).
func (e *Enumerator) refreshIfStale(ctx context.Context, session *Session, containerURL string) error {
	p := e.provider
	account := session.Account().ID

	cached, cachedErr := p.store.GetDirectory(ctx, account, containerURL)
	if cachedErr != nil && !metadata.IsNotFound(cachedErr) {
		return storeWriteFailure("failed to read directory state: "+cachedErr.Error(), containerURL)
	}

	remoteEntry, statErr := p.client.Stat(ctx, containerURL)
	p.observe.ObserveRemoteCall("stat", statErr)
	if statErr != nil {
		return serverUnreachable("directory check failed: "+statErr.Error(), containerURL)
	}

	if cachedErr == nil && cached.Etag != "" && cached.Etag == remoteEntry.Etag {
		return nil
	}

	self, children, listErr := p.client.ReadFolder(ctx, containerURL)
	p.observe.ObserveRemoteCall("read-folder", listErr)
	if listErr != nil {
		return serverUnreachable("directory listing failed: "+listErr.Error(), containerURL)
	}

	return e.applyListing(ctx, session, containerURL, cachedErr == nil, self, children)
}

// applyListing replaces the cached listing of containerURL with the fresh
// one. Records with a pending or errored transfer survive; everything in a
// terminal state is replaced wholesale.
func (e *Enumerator) applyListing(ctx context.Context, session *Session, containerURL string, haveDirectory bool, self *remote.Entry, children []*remote.Entry) error {
	p := e.provider
	account := session.Account().ID

	if haveDirectory {
		change := metadata.DirectoryChange{
			Etag:         &self.Etag,
			OcID:         &self.OcID,
			Permissions:  &self.Permissions,
			Favorite:     &self.Favorite,
			E2EEncrypted: &self.E2EEncrypted,
		}
		if err := p.store.SetDirectory(ctx, account, containerURL, change); err != nil {
			return storeWriteFailure("failed to update directory state: "+err.Error(), containerURL)
		}
	} else {
		record := &metadata.Directory{
			OcID:         self.OcID,
			Account:      account,
			ServerURL:    containerURL,
			Etag:         self.Etag,
			Permissions:  self.Permissions,
			Favorite:     self.Favorite,
			E2EEncrypted: self.E2EEncrypted,
		}
		if _, err := p.store.AddDirectory(ctx, record); err != nil {
			return storeWriteFailure("failed to record directory: "+err.Error(), containerURL)
		}
	}

	existing, err := p.store.QueryMetadata(ctx, account, containerURL)
	if err != nil {
		return storeWriteFailure("failed to read cached listing: "+err.Error(), containerURL)
	}
	preserved := make(map[string]bool)
	for _, record := range existing {
		if !record.Status.IsTerminal() {
			preserved[record.OcID] = true
		}
	}

	if err := p.store.DeleteTerminalMetadata(ctx, account, containerURL); err != nil {
		return storeWriteFailure("failed to clear stale listing: "+err.Error(), containerURL)
	}

	var fresh []*metadata.Metadata
	for _, child := range children {
		if child.OcID == self.OcID {
			continue
		}
		if !p.opts.ShowHidden && strings.HasPrefix(child.FileName, ".") {
			continue
		}
		if preserved[child.OcID] {
			// A transfer already owns this record; the refresh must not
			// clobber its status.
			continue
		}
		fresh = append(fresh, recordFromEntry(account, containerURL, child))

		if child.Directory {
			if _, dirErr := p.store.GetDirectory(ctx, account, child.Path); metadata.IsNotFound(dirErr) {
				paired := &metadata.Directory{
					OcID:         child.OcID,
					Account:      account,
					ServerURL:    child.Path,
					Permissions:  child.Permissions,
					Favorite:     child.Favorite,
					E2EEncrypted: child.E2EEncrypted,
				}
				if _, addErr := p.store.AddDirectory(ctx, paired); addErr != nil {
					return storeWriteFailure("failed to record child directory: "+addErr.Error(), child.Path)
				}
			}
		}
	}
	if err := p.store.UpsertMetadatas(ctx, fresh); err != nil {
		return storeWriteFailure("failed to store listing: "+err.Error(), containerURL)
	}

	if err := p.store.SetDirectoryDateRead(ctx, account, containerURL, time.Now().UTC()); err != nil {
		return storeWriteFailure("failed to stamp read date: "+err.Error(), containerURL)
	}
	return nil
}

// containerPage queries, filters, and windows the cached listing.
//
// Windows are computed over the filtered order, so excluding a row shifts
// everything after it; tokens from a previous enumeration stay valid only
// while the filtered set is unchanged.
func (e *Enumerator) containerPage(ctx context.Context, session *Session, containerURL string, pageNumber int) (*Page, error) {
	p := e.provider
	account := session.Account().ID

	records, err := p.store.QueryMetadata(ctx, account, containerURL)
	if err != nil {
		return nil, storeWriteFailure("failed to query listing: "+err.Error(), containerURL)
	}

	ownSession := p.transfers.SessionID()
	filtered := records[:0]
	for _, record := range records {
		if record.E2EEncrypted || record.Status == metadata.StatusHide {
			continue
		}
		if record.Session != "" && record.Session != ownSession {
			continue
		}
		filtered = append(filtered, record)
	}

	start := pageNumber * p.opts.PageSize
	if start >= len(filtered) {
		return &Page{}, nil
	}
	end := start + p.opts.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}

	items := make([]*Item, 0, end-start)
	for _, record := range filtered[start:end] {
		items = append(items, ProjectItem(record, e.target, p.snapshotFor(ctx, session, record)))
	}

	page := &Page{Items: items}
	if len(items) == p.opts.PageSize {
		page.NextPage = strconv.Itoa(pageNumber + 1)
	}
	return page, nil
}

// signalFavoriteDiff recomputes the favorite rank map and, when it moved,
// raises one working-set signal covering every added and removed entry.
func (e *Enumerator) signalFavoriteDiff(ctx context.Context, session *Session) {
	p := e.provider
	account := session.Account().ID

	ranks, err := p.store.FavoriteRank(ctx, account, p.opts.RankBase)
	if err != nil {
		logger.Warn("favorite rank recompute failed for %s: %v", account, err)
		return
	}
	added, removed := session.ReplaceRanks(ranks)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	for _, ocID := range removed {
		session.QueueDelete(true, Entry(ocID))
	}
	for _, ocID := range added {
		record, err := p.store.GetMetadata(ctx, account, ocID)
		if err != nil {
			continue
		}
		parent, err := p.parentIdentifier(ctx, session, record)
		if err != nil {
			continue
		}
		session.QueueUpdate(true, ProjectItem(record, parent, p.snapshotFor(ctx, session, record)))
	}
	p.raiseSignal(session, "working-set")
}

// ============================================================================
// Helpers
// ============================================================================

// parsePageToken maps a token to a zero-based page number. The reserved
// initial tokens (and the empty token) mean page zero with a refresh.
func parsePageToken(token string) (page int, initial bool, err error) {
	switch token {
	case "", PageInitialSortedByDate, PageInitialSortedByName:
		return 0, true, nil
	}
	page, parseErr := strconv.Atoi(token)
	if parseErr != nil || page < 0 {
		return 0, false, invalidArgument("malformed page token", token)
	}
	return page, false, nil
}

// recordFromEntry converts a listing entry into a metadata record parented
// at containerURL.
func recordFromEntry(account, containerURL string, entry *remote.Entry) *metadata.Metadata {
	return &metadata.Metadata{
		OcID:         entry.OcID,
		Account:      account,
		ServerURL:    containerURL,
		FileName:     entry.FileName,
		FileNameView: entry.FileName,
		Etag:         entry.Etag,
		Directory:    entry.Directory,
		Size:         entry.Size,
		Date:         entry.Date,
		Favorite:     entry.Favorite,
		Status:       metadata.StatusNormal,
		E2EEncrypted: entry.E2EEncrypted,
		Permissions:  entry.Permissions,
		HasPreview:   entry.HasPreview,
		ContentType:  entry.ContentType,
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
