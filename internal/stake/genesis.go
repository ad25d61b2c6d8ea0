package stake

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-bft/config"
)

// SnapshotFromGenesis builds the epoch-0 snapshot from the genesis
// validator set.
func SnapshotFromGenesis(g *config.Genesis) (*Snapshot, error) {
	validators := make([]Validator, 0, len(g.Validators))
	for i, gv := range g.Validators {
		id, err := gv.DecodeID()
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		vrfPub, sigPub, err := gv.DecodeKeys()
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		validators = append(validators, Validator{
			ID:     id,
			Weight: gv.Weight,
			VRFPub: vrfPub,
			SigPub: sigPub,
		})
	}
	return NewSnapshot(0, validators)
}

// StaticSource serves the same validator set for every epoch. It backs
// nodes whose stake distribution is fixed at genesis.
type StaticSource struct {
	validators []Validator
}

// NewStaticSource creates a source that re-issues the given validators
// at each epoch rollover.
func NewStaticSource(validators []Validator) *StaticSource {
	return &StaticSource{validators: validators}
}

func (s *StaticSource) CurrentSnapshot(epoch uint64) (*Snapshot, error) {
	return NewSnapshot(epoch, s.validators)
}
