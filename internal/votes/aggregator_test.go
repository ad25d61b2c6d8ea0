package votes

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// testVoters builds n equal-stake validators with real signing keys.
func testVoters(t *testing.T, n int) ([]*crypto.PrivateKey, []types.ValidatorID, *stake.Snapshot) {
	t.Helper()

	keys := make([]*crypto.PrivateKey, n)
	ids := make([]types.ValidatorID, n)
	vals := make([]stake.Validator, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error: %v", err)
		}
		keys[i] = key
		ids[i] = crypto.ValidatorIDFromPubKey(key.PublicKey())
		vals[i] = stake.Validator{ID: ids[i], Weight: 100, SigPub: key.PublicKey()}
	}
	snap, err := stake.NewSnapshot(0, vals)
	if err != nil {
		t.Fatalf("NewSnapshot() error: %v", err)
	}
	return keys, ids, snap
}

func mustVote(t *testing.T, key *crypto.PrivateKey, id types.ValidatorID, round uint64, blockHash types.Hash) *Vote {
	t.Helper()
	v, err := NewVote(key, id, round, blockHash)
	if err != nil {
		t.Fatalf("NewVote() error: %v", err)
	}
	return v
}

func TestQuorumReached_ExactInteger(t *testing.T) {
	// 3*accumulated >= 2*total, no rounding.
	cases := []struct {
		acc, total uint64
		want       bool
	}{
		{200, 300, true},  // exactly 2/3
		{199, 300, false}, // just below
		{201, 300, true},
		{300, 300, true},
		{0, 300, false},
		{2, 3, true},
		{1, 3, false},
	}
	for _, c := range cases {
		if got := quorumReached(c.acc, c.total); got != c.want {
			t.Errorf("quorumReached(%d, %d) = %v, want %v", c.acc, c.total, got, c.want)
		}
	}
}

func TestQuorumReached_NoOverflow(t *testing.T) {
	// Weights near the uint64 limit must not wrap around.
	const huge = ^uint64(0) / 2
	if !quorumReached(huge, huge) {
		t.Error("full weight should always reach quorum")
	}
	if quorumReached(huge/2, huge) {
		t.Error("half weight should not reach a 2/3 quorum")
	}
}

func TestAdd_QuorumEmittedExactlyOnce(t *testing.T) {
	keys, ids, snap := testVoters(t, 4)
	agg := NewAggregator(1, snap, snap.TotalWeight(), nil)
	blockA := crypto.Hash([]byte("block a"))

	// Votes from validators 0 and 1: 200 of 400, below 2/3.
	for i := 0; i < 2; i++ {
		outcome, err := agg.Add(mustVote(t, keys[i], ids[i], 1, blockA))
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		if outcome != OutcomeAdded {
			t.Fatalf("Add() outcome = %v, want added", outcome)
		}
	}
	if _, ok := agg.QC(); ok {
		t.Fatal("QC formed below quorum")
	}

	// Third vote: 300 of 400 = 75% >= 2/3.
	outcome, err := agg.Add(mustVote(t, keys[2], ids[2], 1, blockA))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if outcome != OutcomeQuorum {
		t.Fatalf("Add() outcome = %v, want quorum", outcome)
	}

	qc, ok := agg.QC()
	if !ok {
		t.Fatal("QC missing after quorum")
	}
	if qc.Round != 1 || qc.BlockHash != blockA {
		t.Errorf("QC = round %d hash %s, want round 1 hash %s", qc.Round, qc.BlockHash, blockA)
	}
	if len(qc.Votes) != 3 {
		t.Errorf("QC votes = %d, want 3", len(qc.Votes))
	}

	// Fourth vote is accepted for audit only.
	outcome, err = agg.Add(mustVote(t, keys[3], ids[3], 1, blockA))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if outcome != OutcomeLate {
		t.Errorf("post-quorum outcome = %v, want late", outcome)
	}
}

func TestAdd_DuplicateHasNoEffect(t *testing.T) {
	keys, ids, snap := testVoters(t, 4)
	agg := NewAggregator(1, snap, snap.TotalWeight(), nil)
	blockA := crypto.Hash([]byte("block a"))

	v := mustVote(t, keys[0], ids[0], 1, blockA)
	if _, err := agg.Add(v); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	before := agg.AccumulatedWeight(blockA)

	outcome, err := agg.Add(v)
	if err != nil {
		t.Fatalf("Add() duplicate error: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("duplicate outcome = %v, want duplicate", outcome)
	}
	if got := agg.AccumulatedWeight(blockA); got != before {
		t.Errorf("weight changed on duplicate: %d -> %d", before, got)
	}
}

func TestAdd_EquivocationStillReachesQuorum(t *testing.T) {
	keys, ids, snap := testVoters(t, 4)
	pool := NewEvidencePool(0)
	agg := NewAggregator(3, snap, snap.TotalWeight(), pool)
	blockA := crypto.Hash([]byte("block a"))
	blockB := crypto.Hash([]byte("block b"))

	// Validator 1 votes for two different hashes in round 3.
	if _, err := agg.Add(mustVote(t, keys[1], ids[1], 3, blockA)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	outcome, err := agg.Add(mustVote(t, keys[1], ids[1], 3, blockB))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if outcome != OutcomeEquivocation {
		t.Fatalf("conflicting vote outcome = %v, want equivocation", outcome)
	}

	equivocators := agg.Equivocators()
	if len(equivocators) != 1 || equivocators[0] != ids[1] {
		t.Errorf("equivocators = %v, want [%s]", equivocators, ids[1])
	}
	if ev := pool.Evidence(); len(ev) != 1 || ev[0].Offender != ids[1] {
		t.Errorf("evidence pool = %+v, want one entry for %s", ev, ids[1])
	}

	// Remaining honest validators still reach quorum on blockA:
	// 0, 2 join 1's first vote for 300 of 400.
	if _, err := agg.Add(mustVote(t, keys[0], ids[0], 3, blockA)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	outcome, err = agg.Add(mustVote(t, keys[2], ids[2], 3, blockA))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if outcome != OutcomeQuorum {
		t.Errorf("outcome = %v, want quorum despite equivocator", outcome)
	}
	qc, ok := agg.QC()
	if !ok || qc.BlockHash != blockA {
		t.Errorf("QC on %v, want %s", qc, blockA)
	}
}

func TestAdd_RejectsBadInput(t *testing.T) {
	keys, ids, snap := testVoters(t, 2)
	agg := NewAggregator(1, snap, snap.TotalWeight(), nil)
	blockA := crypto.Hash([]byte("block a"))

	// Wrong round.
	v := mustVote(t, keys[0], ids[0], 2, blockA)
	if outcome, err := agg.Add(v); !errors.Is(err, ErrWrongRound) || outcome != OutcomeRejected {
		t.Errorf("wrong round: outcome %v err %v", outcome, err)
	}

	// Unknown voter.
	strangerKey, _ := crypto.GenerateKey()
	strangerID := crypto.ValidatorIDFromPubKey(strangerKey.PublicKey())
	v = mustVote(t, strangerKey, strangerID, 1, blockA)
	if _, err := agg.Add(v); !errors.Is(err, ErrUnknownVoter) {
		t.Errorf("unknown voter: err %v", err)
	}

	// Tampered signature.
	v = mustVote(t, keys[0], ids[0], 1, blockA)
	v.Signature[0] ^= 0x01
	if _, err := agg.Add(v); !errors.Is(err, ErrBadSignature) {
		t.Errorf("bad signature: err %v", err)
	}

	// Vote signed by the wrong key for the claimed identity.
	v = mustVote(t, keys[1], ids[0], 1, blockA)
	if _, err := agg.Add(v); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong key: err %v", err)
	}
}

func TestQCValidate(t *testing.T) {
	keys, ids, snap := testVoters(t, 4)
	agg := NewAggregator(1, snap, snap.TotalWeight(), nil)
	blockA := crypto.Hash([]byte("block a"))

	for i := 0; i < 3; i++ {
		if _, err := agg.Add(mustVote(t, keys[i], ids[i], 1, blockA)); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	qc, ok := agg.QC()
	if !ok {
		t.Fatal("no QC")
	}

	if err := qc.Validate(snap, snap.TotalWeight()); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	// Dropping one vote pushes it below quorum.
	short := &QC{Round: qc.Round, BlockHash: qc.BlockHash, Votes: qc.Votes[:2]}
	if err := short.Validate(snap, snap.TotalWeight()); !errors.Is(err, ErrQCBelowQuorum) {
		t.Errorf("expected ErrQCBelowQuorum, got: %v", err)
	}

	// Duplicating a vote must not count twice.
	padded := &QC{Round: qc.Round, BlockHash: qc.BlockHash, Votes: append(append([]Vote(nil), qc.Votes[:2]...), qc.Votes[0])}
	if err := padded.Validate(snap, snap.TotalWeight()); !errors.Is(err, ErrQCDuplicateVoter) {
		t.Errorf("expected ErrQCDuplicateVoter, got: %v", err)
	}

	// Tampered signature.
	bad := &QC{Round: qc.Round, BlockHash: qc.BlockHash, Votes: append([]Vote(nil), qc.Votes...)}
	bad.Votes[0].Signature = append([]byte(nil), bad.Votes[0].Signature...)
	bad.Votes[0].Signature[0] ^= 0x01
	if err := bad.Validate(snap, snap.TotalWeight()); !errors.Is(err, ErrQCBadSignature) {
		t.Errorf("expected ErrQCBadSignature, got: %v", err)
	}
}

// Any two quorums on the same round share at least 1/3 of total stake.
// Pigeonhole on the 2/3 thresholds; checked here over all 3-voter subsets
// of a 4-validator set.
func TestQuorumIntersection(t *testing.T) {
	_, ids, snap := testVoters(t, 4)
	total := snap.TotalWeight()

	subsets := [][]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	for _, a := range subsets {
		for _, b := range subsets {
			var overlap uint64
			inA := make(map[int]bool)
			for _, i := range a {
				inA[i] = true
			}
			for _, i := range b {
				if inA[i] {
					overlap += snap.Weight(ids[i])
				}
			}
			// overlap * 3 >= total means overlap >= 1/3 of total.
			if 3*overlap < total {
				t.Errorf("subsets %v and %v overlap %d, below 1/3 of %d", a, b, overlap, total)
			}
		}
	}
}
