package votes

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// QC errors.
var (
	ErrQCRoundMismatch  = errors.New("qc contains vote for wrong round")
	ErrQCHashMismatch   = errors.New("qc contains vote for wrong block hash")
	ErrQCDuplicateVoter = errors.New("qc contains duplicate voter")
	ErrQCBadSignature   = errors.New("qc contains invalid vote signature")
	ErrQCUnknownVoter   = errors.New("qc contains voter not in snapshot")
	ErrQCBelowQuorum    = errors.New("qc stake weight below quorum")
)

// QC is a quorum certificate: proof that voters holding at least 2/3 of the
// round's committee stake endorsed the same block hash. Immutable once formed.
type QC struct {
	Round     uint64     `json:"round"`
	BlockHash types.Hash `json:"block_hash"`
	Votes     []Vote     `json:"votes"`
}

// quorumReached reports whether accumulated stake meets the supermajority
// threshold. Exact-integer comparison 3*accumulated >= 2*total, widened to
// 128 bits so large stake weights cannot overflow a safety decision.
func quorumReached(accumulated, total uint64) bool {
	accHi, accLo := bits.Mul64(3, accumulated)
	totHi, totLo := bits.Mul64(2, total)
	if accHi != totHi {
		return accHi > totHi
	}
	return accLo >= totLo
}

// Validate checks a QC received from a remote peer: every vote must be for
// the QC's round and block hash, voters must be distinct members of the
// snapshot with valid signatures, and their summed stake must reach quorum
// against totalStake.
func (qc *QC) Validate(snap *stake.Snapshot, totalStake uint64) error {
	seen := make(map[types.ValidatorID]struct{}, len(qc.Votes))
	var accumulated uint64

	for i := range qc.Votes {
		v := &qc.Votes[i]
		if v.Round != qc.Round {
			return fmt.Errorf("%w: vote round %d, qc round %d", ErrQCRoundMismatch, v.Round, qc.Round)
		}
		if v.BlockHash != qc.BlockHash {
			return fmt.Errorf("%w: voter %s", ErrQCHashMismatch, v.Validator)
		}
		if _, dup := seen[v.Validator]; dup {
			return fmt.Errorf("%w: %s", ErrQCDuplicateVoter, v.Validator)
		}
		seen[v.Validator] = struct{}{}

		val, ok := snap.Lookup(v.Validator)
		if !ok {
			return fmt.Errorf("%w: %s", ErrQCUnknownVoter, v.Validator)
		}
		if !v.VerifySignature(val.SigPub) {
			return fmt.Errorf("%w: voter %s", ErrQCBadSignature, v.Validator)
		}
		accumulated += val.Weight
	}

	if !quorumReached(accumulated, totalStake) {
		return fmt.Errorf("%w: %d of %d", ErrQCBelowQuorum, accumulated, totalStake)
	}
	return nil
}

// StakeWeight returns the summed stake of the QC's voters per the snapshot.
func (qc *QC) StakeWeight(snap *stake.Snapshot) uint64 {
	var total uint64
	for i := range qc.Votes {
		total += snap.Weight(qc.Votes[i].Validator)
	}
	return total
}
