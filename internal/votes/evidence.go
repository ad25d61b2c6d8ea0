package votes

import (
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Equivocation is evidence that a validator cast two conflicting votes in
// the same round. Both signed votes are kept so the offence can be proven to
// the slashing mechanism (external to this core).
type Equivocation struct {
	Offender   types.ValidatorID `json:"offender"`
	Round      uint64            `json:"round"`
	First      Vote              `json:"first"`
	Second     Vote              `json:"second"`
	DetectedAt time.Time         `json:"detected_at"`
}

// Offence is reported by the pool when a validator crosses a misbehavior
// threshold.
type Offence struct {
	Offender     types.ValidatorID
	MissedRounds uint64
}

// EvidencePool accumulates misbehavior evidence across rounds: vote
// equivocations and missed-leadership counts. Recording never blocks
// consensus progress; the pool exists for external slashing and reporting.
type EvidencePool struct {
	mu        sync.Mutex
	evidence  []Equivocation
	missed    map[types.ValidatorID]uint64
	maxMissed uint64
}

// NewEvidencePool creates a pool. maxMissed is the consecutive missed-round
// count at which an offline offence is reported (0 disables miss tracking).
func NewEvidencePool(maxMissed uint64) *EvidencePool {
	return &EvidencePool{
		missed:    make(map[types.ValidatorID]uint64),
		maxMissed: maxMissed,
	}
}

// Record stores one equivocation. The detection timestamp is filled in if
// the caller left it zero.
func (p *EvidencePool) Record(e Equivocation) {
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now()
	}
	p.mu.Lock()
	p.evidence = append(p.evidence, e)
	p.mu.Unlock()

	log.Votes.Warn().
		Str("offender", e.Offender.String()).
		Uint64("round", e.Round).
		Msg("equivocation evidence recorded")
}

// RecordMiss notes that a selected validator failed to act in time. When the
// consecutive miss count reaches the configured threshold an offline Offence
// is returned.
func (p *EvidencePool) RecordMiss(id types.ValidatorID) (Offence, bool) {
	if p.maxMissed == 0 {
		return Offence{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.missed[id]++
	if p.missed[id] >= p.maxMissed {
		return Offence{Offender: id, MissedRounds: p.missed[id]}, true
	}
	return Offence{}, false
}

// ResetMisses clears the miss counter for a validator that acted.
func (p *EvidencePool) ResetMisses(id types.ValidatorID) {
	p.mu.Lock()
	delete(p.missed, id)
	p.mu.Unlock()
}

// Misses returns the current consecutive miss count for a validator.
func (p *EvidencePool) Misses(id types.ValidatorID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missed[id]
}

// Evidence returns a copy of all recorded equivocations.
func (p *EvidencePool) Evidence() []Equivocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Equivocation, len(p.evidence))
	copy(out, p.evidence)
	return out
}

// Prune drops equivocation records older than the given round so the pool
// does not grow without bound.
func (p *EvidencePool) Prune(beforeRound uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.evidence[:0]
	for _, e := range p.evidence {
		if e.Round >= beforeRound {
			kept = append(kept, e)
		}
	}
	p.evidence = kept
}
