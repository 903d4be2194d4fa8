package provider

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/store/metadata"
)

func newTestSession() *Session {
	return NewSession(metadata.Account{ID: testAccount, HomeServerURL: testHomeURL})
}

func TestSessionSignalBatchesUnderOneAnchor(t *testing.T) {
	s := newTestSession()

	s.QueueDelete(false, Entry("a"))
	s.QueueDelete(false, Entry("b"))
	s.QueueUpdate(false, &Item{Identifier: Entry("c")})
	assert.Equal(t, uint64(1), s.Signal())

	deletes, updates, anchor := s.Drain(false)
	assert.Len(t, deletes, 2)
	assert.Len(t, updates, 1)
	assert.Equal(t, uint64(1), anchor)

	// The drain cleared the queues; the anchor stays put.
	deletes, updates, anchor = s.Drain(false)
	assert.Empty(t, deletes)
	assert.Empty(t, updates)
	assert.Equal(t, uint64(1), anchor)
}

func TestSessionQueueScoping(t *testing.T) {
	s := newTestSession()

	s.QueueDelete(true, Entry("ws"))
	s.QueueDelete(false, Entry("container"))

	deletes, _, _ := s.Drain(true)
	require.Len(t, deletes, 1)
	assert.Equal(t, Entry("ws"), deletes[0])

	deletes, _, _ = s.Drain(false)
	require.Len(t, deletes, 1)
	assert.Equal(t, Entry("container"), deletes[0])
}

func TestSessionConcurrentProducersLoseNothing(t *testing.T) {
	s := newTestSession()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				s.QueueDelete(false, Entry("x"))
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	for {
		deletes, _, _ := s.Drain(false)
		total += len(deletes)
		select {
		case <-done:
			deletes, _, _ = s.Drain(false)
			total += len(deletes)
			assert.Equal(t, producers*perProducer, total)
			return
		default:
		}
	}
}

func TestSessionRankStaging(t *testing.T) {
	s := newTestSession()

	previous, existed := s.SetRank("a", 11)
	assert.False(t, existed)
	assert.Zero(t, previous)

	previous, existed = s.SetRank("a", 12)
	assert.True(t, existed)
	assert.Equal(t, int64(11), previous)

	s.RestoreRank("a", previous, existed)
	rank, ok := s.Rank("a")
	require.True(t, ok)
	assert.Equal(t, int64(11), rank)

	previous, existed = s.RemoveRank("a")
	assert.True(t, existed)
	assert.Equal(t, int64(11), previous)
	s.RestoreRank("a", previous, false)
	_, ok = s.Rank("a")
	assert.False(t, ok)
}

func TestSessionReplaceRanksDiff(t *testing.T) {
	s := newTestSession()
	s.SetRank("stays", 11)
	s.SetRank("leaves", 12)

	added, removed := s.ReplaceRanks(map[string]int64{"stays": 11, "joins": 13})
	assert.ElementsMatch(t, []string{"joins"}, added)
	assert.ElementsMatch(t, []string{"leaves"}, removed)

	added, removed = s.ReplaceRanks(map[string]int64{"stays": 11, "joins": 13})
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestSessionLastUsed(t *testing.T) {
	s := newTestSession()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s.SetLastUsed("a", at)
	got, ok := s.LastUsed("a")
	require.True(t, ok)
	assert.Equal(t, at, got)

	s.SetLastUsed("a", time.Time{})
	_, ok = s.LastUsed("a")
	assert.False(t, ok)
}
