package engine

import (
	"sync"

	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// ValidatorStats holds in-memory liveness statistics for a single validator.
// Stats reset on node restart (no persistence).
type ValidatorStats struct {
	ID            types.ValidatorID
	LastSeenRound uint64 // highest round with any message from this validator
	Proposed      uint64 // proposals observed since tracker started
	Voted         uint64 // votes observed since tracker started
	Missed        uint64 // completed rounds where this validator cast no vote
}

// Tracker tracks validator liveness from round traffic.
// All data is in-memory only, no consensus impact.
type Tracker struct {
	mu    sync.RWMutex
	stats map[types.ValidatorID]*ValidatorStats
}

// NewTracker creates an empty liveness tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[types.ValidatorID]*ValidatorStats)}
}

// RecordProposal records a proposal observed from the given validator.
func (t *Tracker) RecordProposal(id types.ValidatorID, round uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(id)
	s.Proposed++
	if round > s.LastSeenRound {
		s.LastSeenRound = round
	}
}

// RecordVote records a vote observed from the given validator.
func (t *Tracker) RecordVote(id types.ValidatorID, round uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(id)
	s.Voted++
	if round > s.LastSeenRound {
		s.LastSeenRound = round
	}
}

// RecordMiss records a completed round in which the validator cast no vote.
func (t *Tracker) RecordMiss(id types.ValidatorID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.getOrCreate(id).Missed++
}

// Stats returns a copy of one validator's stats, or false if never seen.
func (t *Tracker) Stats(id types.ValidatorID) (ValidatorStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[id]
	if !ok {
		return ValidatorStats{}, false
	}
	return *s, true
}

// AllStats returns copies of all tracked validator stats.
func (t *Tracker) AllStats() []ValidatorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ValidatorStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	return out
}

func (t *Tracker) getOrCreate(id types.ValidatorID) *ValidatorStats {
	s, ok := t.stats[id]
	if !ok {
		s = &ValidatorStats{ID: id}
		t.stats[id] = s
	}
	return s
}
