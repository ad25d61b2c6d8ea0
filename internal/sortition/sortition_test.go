package sortition

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// testSet builds n equal-stake validators with real VRF keys.
func testSet(t *testing.T, n int) ([]*vrf.Keypair, []types.ValidatorID, *stake.Snapshot) {
	t.Helper()

	keys := make([]*vrf.Keypair, n)
	ids := make([]types.ValidatorID, n)
	vals := make([]stake.Validator, n)
	for i := 0; i < n; i++ {
		keys[i] = vrf.GenerateKeypair()
		ids[i] = crypto.ValidatorIDFromPubKey(keys[i].PublicKey())
		vals[i] = stake.Validator{ID: ids[i], Weight: 100, VRFPub: keys[i].PublicKey()}
	}
	snap, err := stake.NewSnapshot(0, vals)
	if err != nil {
		t.Fatalf("NewSnapshot() error: %v", err)
	}
	return keys, ids, snap
}

func TestMeetsThreshold_Bounds(t *testing.T) {
	var zero, max types.Hash
	for i := range max {
		max[i] = 0xff
	}

	// Zero output always clears any non-degenerate threshold.
	if !meetsThreshold(zero, 1, 1000, 1) {
		t.Error("zero output should clear threshold")
	}
	// Max output only clears when weight/total * expected >= 1.
	if meetsThreshold(max, 1, 1000, 1) {
		t.Error("max output should not clear a 1/1000 threshold")
	}
	if !meetsThreshold(max, 1000, 1000, 1) {
		t.Error("max output should clear a full-weight threshold")
	}
	// Degenerate parameters never select.
	if meetsThreshold(zero, 0, 1000, 1) {
		t.Error("zero weight should never be selected")
	}
	if meetsThreshold(zero, 1, 1000, 0) {
		t.Error("zero expected leaders should never select")
	}
}

func TestSelectLeader_AlwaysWinsAtFullExpectation(t *testing.T) {
	keys, ids, snap := testSet(t, 4)
	seed := crypto.Hash([]byte("round seed"))

	// expectedLeaders = validator count with equal stake makes the
	// per-validator threshold weight/total*expected = 1: everyone wins.
	for i := range keys {
		ticket, won, err := SelectLeader(keys[i], ids[i], seed, 1, snap, 4)
		if err != nil {
			t.Fatalf("SelectLeader() error: %v", err)
		}
		if !won {
			t.Fatalf("validator %d should win at full expectation", i)
		}
		if err := VerifyLeaderTicket(ticket, seed, snap, 4); err != nil {
			t.Errorf("VerifyLeaderTicket() error: %v", err)
		}
	}
}

func TestSelectLeader_UnknownValidator(t *testing.T) {
	keys, _, snap := testSet(t, 2)
	stranger := vrf.GenerateKeypair()
	strangerID := crypto.ValidatorIDFromPubKey(stranger.PublicKey())

	_, _, err := SelectLeader(keys[0], strangerID, crypto.Hash([]byte("s")), 1, snap, 2)
	if !errors.Is(err, ErrUnknownValidator) {
		t.Errorf("expected ErrUnknownValidator, got: %v", err)
	}
}

func TestVerifyLeaderTicket_TamperedProof(t *testing.T) {
	keys, ids, snap := testSet(t, 2)
	seed := crypto.Hash([]byte("round seed"))

	ticket, won, err := SelectLeader(keys[0], ids[0], seed, 1, snap, 2)
	if err != nil || !won {
		t.Fatalf("SelectLeader() = won %v, err %v", won, err)
	}

	ticket.Proof.Proof[0] ^= 0x01
	if err := VerifyLeaderTicket(ticket, seed, snap, 2); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got: %v", err)
	}
}

func TestVerifyLeaderTicket_WrongSeed(t *testing.T) {
	keys, ids, snap := testSet(t, 2)
	seed := crypto.Hash([]byte("round seed"))

	ticket, won, err := SelectLeader(keys[0], ids[0], seed, 1, snap, 2)
	if err != nil || !won {
		t.Fatalf("SelectLeader() = won %v, err %v", won, err)
	}

	other := crypto.Hash([]byte("other seed"))
	if err := VerifyLeaderTicket(ticket, other, snap, 2); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for wrong seed, got: %v", err)
	}
}

func TestBetter_LowestOutputWins(t *testing.T) {
	a := &LeaderTicket{Proof: vrf.Proof{Output: crypto.Hash([]byte("a"))}}
	b := &LeaderTicket{Proof: vrf.Proof{Output: crypto.Hash([]byte("b"))}}

	want := a
	if b.Proof.Output.Less(a.Proof.Output) {
		want = b
	}
	if got := Better(a, b); got != want {
		t.Errorf("Better() picked the higher output")
	}
	if got := Better(b, a); got != want {
		t.Errorf("Better() is not symmetric")
	}
	if got := Better(nil, a); got != a {
		t.Errorf("Better(nil, a) = %v, want a", got)
	}
	if got := Better(a, nil); got != a {
		t.Errorf("Better(a, nil) = %v, want a", got)
	}
}

func TestMembership_RoundTrip(t *testing.T) {
	keys, ids, snap := testSet(t, 4)
	seed := crypto.Hash([]byte("round seed"))

	proof, member, err := ProveMembership(keys[1], ids[1], seed, 2, snap, 4)
	if err != nil {
		t.Fatalf("ProveMembership() error: %v", err)
	}
	if !member {
		t.Fatal("should be a member at full target size")
	}
	if err := VerifyMembership(ids[1], proof, seed, 2, snap, 4); err != nil {
		t.Errorf("VerifyMembership() error: %v", err)
	}
}

func TestMembership_PurposeSeparation(t *testing.T) {
	keys, ids, snap := testSet(t, 2)
	seed := crypto.Hash([]byte("round seed"))

	// A leadership proof must not be accepted as a membership proof.
	ticket, won, err := SelectLeader(keys[0], ids[0], seed, 1, snap, 2)
	if err != nil || !won {
		t.Fatalf("SelectLeader() = won %v, err %v", won, err)
	}
	if err := VerifyMembership(ids[0], &ticket.Proof, seed, 1, snap, 2); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for cross-purpose proof, got: %v", err)
	}
}
