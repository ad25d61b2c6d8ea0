// Package sortition implements stake-weighted, VRF-based selection of the
// round leader and voting committee.
//
// Selection is local and non-interactive: every validator evaluates its own
// VRF for the round and checks the output against a stake-proportional
// threshold. Winners reveal their proof; everyone else can verify it against
// the stake snapshot without further communication.
package sortition

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// Sortition errors.
var (
	ErrUnknownValidator = errors.New("validator not in stake snapshot")
	ErrInvalidProof     = errors.New("vrf proof does not verify")
	ErrBelowThreshold   = errors.New("vrf output does not clear sortition threshold")
)

// maxOutput is 2^256, the exclusive upper bound of a 32-byte VRF output.
var maxOutput = new(big.Int).Lsh(big.NewInt(1), 256)

// LeaderTicket proves that a validator won leadership for a round.
// It is valid only if the proof verifies against the validator's VRF public
// key and the output falls within the stake-proportional threshold.
type LeaderTicket struct {
	Validator types.ValidatorID `json:"validator"`
	Round     uint64            `json:"round"`
	Proof     vrf.Proof         `json:"proof"`
}

// meetsThreshold reports whether a VRF output clears the sortition
// threshold: output / 2^256 <= weight / totalWeight * expected.
//
// The comparison is exact integer arithmetic:
// output * totalWeight <= 2^256 * weight * expected.
func meetsThreshold(output types.Hash, weight, totalWeight, expected uint64) bool {
	if weight == 0 || totalWeight == 0 || expected == 0 {
		return false
	}

	lhs := new(big.Int).SetBytes(output[:])
	lhs.Mul(lhs, new(big.Int).SetUint64(totalWeight))

	rhs := new(big.Int).SetUint64(weight)
	rhs.Mul(rhs, new(big.Int).SetUint64(expected))
	rhs.Mul(rhs, maxOutput)

	return lhs.Cmp(rhs) <= 0
}

// SelectLeader runs the local leadership check for a round. It returns the
// ticket and true when this validator's VRF output wins leadership.
//
// Multiple validators may validly win the same round; ties are broken
// deterministically by lowest VRF output (see Better). A round where nobody
// wins simply times out.
func SelectLeader(kp *vrf.Keypair, self types.ValidatorID, seed types.Hash, round uint64,
	snap *stake.Snapshot, expectedLeaders uint64) (*LeaderTicket, bool, error) {

	weight := snap.Weight(self)
	if weight == 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownValidator, self)
	}

	proof, err := kp.Prove(seed, round, vrf.PurposeLeader)
	if err != nil {
		return nil, false, fmt.Errorf("prove leadership: %w", err)
	}

	if !meetsThreshold(proof.Output, weight, snap.TotalWeight(), expectedLeaders) {
		return nil, false, nil
	}
	return &LeaderTicket{Validator: self, Round: round, Proof: *proof}, true, nil
}

// VerifyLeaderTicket validates a remote validator's claim to round
// leadership: the validator must be in the snapshot, the proof must verify
// against its VRF public key, and the output must clear the threshold.
func VerifyLeaderTicket(t *LeaderTicket, seed types.Hash, snap *stake.Snapshot, expectedLeaders uint64) error {
	val, ok := snap.Lookup(t.Validator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, t.Validator)
	}

	ok, err := vrf.VerifyBytes(val.VRFPub, seed, t.Round, vrf.PurposeLeader, &t.Proof)
	if err != nil {
		return fmt.Errorf("decode vrf key for %s: %w", t.Validator, err)
	}
	if !ok {
		return fmt.Errorf("%w: validator %s round %d", ErrInvalidProof, t.Validator, t.Round)
	}

	if !meetsThreshold(t.Proof.Output, val.Weight, snap.TotalWeight(), expectedLeaders) {
		return fmt.Errorf("%w: validator %s round %d", ErrBelowThreshold, t.Validator, t.Round)
	}
	return nil
}

// Better returns the winning ticket of two valid tickets for the same round:
// the one with the lowest VRF output bytes. Either argument may be nil.
func Better(a, b *LeaderTicket) *LeaderTicket {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Proof.Output.Less(a.Proof.Output):
		return b
	default:
		return a
	}
}

// ProveMembership runs the local committee-membership check for a round.
// The same threshold test as leadership, under a distinct purpose tag so
// leader proofs cannot be replayed as membership proofs. The expected
// committee size equals targetSize; the actual size varies probabilistically
// and callers must tolerate smaller or larger committees.
func ProveMembership(kp *vrf.Keypair, self types.ValidatorID, seed types.Hash, round uint64,
	snap *stake.Snapshot, targetSize uint64) (*vrf.Proof, bool, error) {

	weight := snap.Weight(self)
	if weight == 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownValidator, self)
	}

	proof, err := kp.Prove(seed, round, vrf.PurposeCommittee)
	if err != nil {
		return nil, false, fmt.Errorf("prove membership: %w", err)
	}

	if !meetsThreshold(proof.Output, weight, snap.TotalWeight(), targetSize) {
		return nil, false, nil
	}
	return proof, true, nil
}

// VerifyMembership validates a remote validator's committee-membership proof
// for a round.
func VerifyMembership(id types.ValidatorID, proof *vrf.Proof, seed types.Hash, round uint64,
	snap *stake.Snapshot, targetSize uint64) error {

	val, ok := snap.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}

	ok, err := vrf.VerifyBytes(val.VRFPub, seed, round, vrf.PurposeCommittee, proof)
	if err != nil {
		return fmt.Errorf("decode vrf key for %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: validator %s round %d", ErrInvalidProof, id, round)
	}

	if !meetsThreshold(proof.Output, val.Weight, snap.TotalWeight(), targetSize) {
		return fmt.Errorf("%w: validator %s round %d", ErrBelowThreshold, id, round)
	}
	return nil
}
