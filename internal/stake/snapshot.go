// Package stake maintains the epoch-scoped validator stake table.
//
// A Snapshot is immutable for the whole epoch it covers. At epoch rollover a
// fresh snapshot is pulled from the stake source and installed atomically, so
// readers never observe a partially updated table.
package stake

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Stake errors.
var (
	ErrNoValidators       = errors.New("snapshot has no validators")
	ErrDuplicateValidator = errors.New("duplicate validator in snapshot")
	ErrZeroWeight         = errors.New("validator has zero stake weight")
)

// Validator is one entry in a stake snapshot.
type Validator struct {
	ID     types.ValidatorID `json:"id"`
	Weight uint64            `json:"weight"`
	VRFPub []byte            `json:"vrf_pub"`
	SigPub []byte            `json:"sig_pub"`
}

// Snapshot is an immutable mapping of validator identity to stake weight and
// public keys, versioned by epoch number. It is created at an epoch boundary
// and never mutated; the next epoch installs a new snapshot.
type Snapshot struct {
	epoch      uint64
	validators map[types.ValidatorID]Validator
	ordered    []types.ValidatorID
	total      uint64
}

// NewSnapshot builds a snapshot for the given epoch. Validators are
// deduplicated by error, ordered deterministically by ID, and must all carry
// non-zero weight.
func NewSnapshot(epoch uint64, validators []Validator) (*Snapshot, error) {
	if len(validators) == 0 {
		return nil, ErrNoValidators
	}

	byID := make(map[types.ValidatorID]Validator, len(validators))
	ordered := make([]types.ValidatorID, 0, len(validators))
	var total uint64

	for _, v := range validators {
		if v.Weight == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroWeight, v.ID)
		}
		if _, ok := byID[v.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateValidator, v.ID)
		}
		byID[v.ID] = v
		ordered = append(ordered, v.ID)
		total += v.Weight
	}

	sort.Slice(ordered, func(i, j int) bool {
		return idLess(ordered[i], ordered[j])
	})

	return &Snapshot{
		epoch:      epoch,
		validators: byID,
		ordered:    ordered,
		total:      total,
	}, nil
}

// idLess reports whether a sorts before b in byte order.
func idLess(a, b types.ValidatorID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Epoch returns the epoch number this snapshot covers.
func (s *Snapshot) Epoch() uint64 {
	return s.epoch
}

// Lookup returns the validator entry for the given ID.
func (s *Snapshot) Lookup(id types.ValidatorID) (Validator, bool) {
	v, ok := s.validators[id]
	return v, ok
}

// Weight returns the stake weight of the given validator, or 0 if unknown.
func (s *Snapshot) Weight(id types.ValidatorID) uint64 {
	return s.validators[id].Weight
}

// Contains reports whether the validator is part of this snapshot.
func (s *Snapshot) Contains(id types.ValidatorID) bool {
	_, ok := s.validators[id]
	return ok
}

// TotalWeight returns the summed stake weight of all validators.
func (s *Snapshot) TotalWeight() uint64 {
	return s.total
}

// Len returns the number of validators in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// Ordered returns the validator IDs in deterministic byte order.
// The returned slice is a copy; the snapshot itself stays immutable.
func (s *Snapshot) Ordered() []types.ValidatorID {
	out := make([]types.ValidatorID, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Validators returns a copy of all validator entries in deterministic order.
func (s *Snapshot) Validators() []Validator {
	out := make([]Validator, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.validators[id])
	}
	return out
}
