package provider

import (
	"sync"
	"time"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

// Session carries the mutable per-account state the sync core used to keep
// in process-wide globals: the change anchor, the favorite rank map, the
// pending signal queues, and transient last-used dates.
//
// A Session belongs to exactly one account. Switching the active account
// replaces the Session wholesale, so pending signals from the previous
// account can never leak into the next one's enumerations.
type Session struct {
	account metadata.Account

	mu sync.Mutex

	// anchor is the change tracking counter. It increments by exactly one
	// per Signal call, no matter how many changes that call batched.
	anchor uint64

	// ranks is the favorite rank snapshot, ocId -> rank.
	ranks map[string]int64

	// Pending change queues, split working-set vs container scope.
	wsDeletes        []ItemIdentifier
	wsUpdates        []*Item
	containerDeletes []ItemIdentifier
	containerUpdates []*Item

	// lastUsed holds projection-only last-used dates per ocId. Never
	// persisted.
	lastUsed map[string]time.Time
}

// NewSession builds the state object for one account.
func NewSession(account metadata.Account) *Session {
	return &Session{
		account:  account,
		ranks:    make(map[string]int64),
		lastUsed: make(map[string]time.Time),
	}
}

// Account returns the account this session is bound to.
func (s *Session) Account() metadata.Account {
	return s.account
}

// Anchor returns the current change counter. Never blocks on I/O.
func (s *Session) Anchor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

// Signal marks that a batch of queued changes is ready for observers,
// advancing the anchor by exactly one.
func (s *Session) Signal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor++
	return s.anchor
}

// QueueDelete appends a pending-delete identifier to the working-set or
// container queue.
func (s *Session) QueueDelete(workingSet bool, id ItemIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workingSet {
		s.wsDeletes = append(s.wsDeletes, id)
	} else {
		s.containerDeletes = append(s.containerDeletes, id)
	}
}

// QueueUpdate appends a pending-update item to the working-set or container
// queue.
func (s *Session) QueueUpdate(workingSet bool, item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workingSet {
		s.wsUpdates = append(s.wsUpdates, item)
	} else {
		s.containerUpdates = append(s.containerUpdates, item)
	}
}

// Drain atomically removes and returns the pending changes of one scope
// together with the current anchor. Producers appending concurrently either
// land in this drain or the next; nothing is lost.
func (s *Session) Drain(workingSet bool) (deletes []ItemIdentifier, updates []*Item, anchor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workingSet {
		deletes, updates = s.wsDeletes, s.wsUpdates
		s.wsDeletes, s.wsUpdates = nil, nil
	} else {
		deletes, updates = s.containerDeletes, s.containerUpdates
		s.containerDeletes, s.containerUpdates = nil, nil
	}
	return deletes, updates, s.anchor
}

// ============================================================================
// Favorite rank map
// ============================================================================

// Ranks returns a snapshot copy of the favorite rank map.
func (s *Session) Ranks() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.ranks))
	for ocID, rank := range s.ranks {
		out[ocID] = rank
	}
	return out
}

// Rank returns the rank of ocID, if present.
func (s *Session) Rank(ocID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rank, ok := s.ranks[ocID]
	return rank, ok
}

// SetRank stages a rank for ocID and returns the previous value for
// rollback.
func (s *Session) SetRank(ocID string, rank int64) (previous int64, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed = s.ranks[ocID]
	s.ranks[ocID] = rank
	return previous, existed
}

// RemoveRank stages removal of ocID's rank and returns the previous value
// for rollback.
func (s *Session) RemoveRank(ocID string) (previous int64, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed = s.ranks[ocID]
	delete(s.ranks, ocID)
	return previous, existed
}

// RestoreRank reverts a staged rank mutation.
func (s *Session) RestoreRank(ocID string, previous int64, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existed {
		s.ranks[ocID] = previous
	} else {
		delete(s.ranks, ocID)
	}
}

// ReplaceRanks swaps in a freshly computed rank map and reports which ocIds
// entered and left the favorite set compared to the previous snapshot.
func (s *Session) ReplaceRanks(next map[string]int64) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ocID := range next {
		if _, ok := s.ranks[ocID]; !ok {
			added = append(added, ocID)
		}
	}
	for ocID := range s.ranks {
		if _, ok := next[ocID]; !ok {
			removed = append(removed, ocID)
		}
	}
	s.ranks = make(map[string]int64, len(next))
	for ocID, rank := range next {
		s.ranks[ocID] = rank
	}
	return added, removed
}

// ============================================================================
// Last-used dates
// ============================================================================

// SetLastUsed records a projection-only last-used date for ocID. A zero time
// clears it.
func (s *Session) SetLastUsed(ocID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.IsZero() {
		delete(s.lastUsed, ocID)
		return
	}
	s.lastUsed[ocID] = at
}

// LastUsed returns the last-used date of ocID, if set.
func (s *Session) LastUsed(ocID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastUsed[ocID]
	return at, ok
}
