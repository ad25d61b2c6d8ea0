package stake

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Klingon-tech/klingnet-bft/internal/log"
)

// Registry errors.
var (
	ErrStaleEpoch    = errors.New("rollover epoch not newer than current")
	ErrEpochMismatch = errors.New("source returned snapshot for wrong epoch")
)

// Source provides stake snapshots from the execution layer's finalized state.
// It is read at epoch boundaries only.
type Source interface {
	CurrentSnapshot(epoch uint64) (*Snapshot, error)
}

// Registry holds the active stake snapshot for the current epoch.
// The snapshot is shared read-only across all consensus tasks; rollover
// installs a replacement atomically.
type Registry struct {
	source  Source
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry seeded with the genesis snapshot.
func NewRegistry(source Source, genesis *Snapshot) *Registry {
	r := &Registry{source: source}
	r.current.Store(genesis)
	return r
}

// Current returns the active snapshot. Never nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Rollover pulls the snapshot for the given epoch from the source and
// installs it. The epoch must be strictly newer than the active one.
func (r *Registry) Rollover(epoch uint64) error {
	cur := r.current.Load()
	if epoch <= cur.Epoch() {
		return fmt.Errorf("%w: have %d, got %d", ErrStaleEpoch, cur.Epoch(), epoch)
	}

	next, err := r.source.CurrentSnapshot(epoch)
	if err != nil {
		return fmt.Errorf("fetch snapshot for epoch %d: %w", epoch, err)
	}
	if next.Epoch() != epoch {
		return fmt.Errorf("%w: want %d, got %d", ErrEpochMismatch, epoch, next.Epoch())
	}

	r.current.Store(next)
	log.Stake.Info().
		Uint64("epoch", epoch).
		Int("validators", next.Len()).
		Uint64("total_weight", next.TotalWeight()).
		Msg("stake snapshot rolled over")
	return nil
}
