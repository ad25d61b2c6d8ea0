package store

import (
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-bft/internal/forkchoice"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

func newTestStore(t *testing.T) *ConsensusStore {
	t.Helper()
	cs, err := NewConsensusStore(NewMemory(), "test-chain")
	if err != nil {
		t.Fatalf("NewConsensusStore() error: %v", err)
	}
	return cs
}

func TestBlockRoundTrip(t *testing.T) {
	cs := newTestStore(t)

	bn := forkchoice.BlockNode{
		Hash:    crypto.Hash([]byte("block")),
		Parent:  crypto.Hash([]byte("parent")),
		Round:   7,
		Payload: crypto.Hash([]byte("payload")),
		ParentQC: &votes.QC{
			Round:     6,
			BlockHash: crypto.Hash([]byte("parent")),
		},
	}
	if err := cs.PutBlock(bn); err != nil {
		t.Fatalf("PutBlock() error: %v", err)
	}

	got, ok, err := cs.GetBlock(bn.Hash)
	if err != nil || !ok {
		t.Fatalf("GetBlock() = %v, %v", ok, err)
	}
	if got.Hash != bn.Hash || got.Parent != bn.Parent || got.Round != 7 {
		t.Errorf("GetBlock() = %+v", got)
	}
	if got.ParentQC == nil || got.ParentQC.Round != 6 {
		t.Errorf("parent QC lost: %+v", got.ParentQC)
	}

	// A second read comes from the cache.
	cached, ok, err := cs.GetBlock(bn.Hash)
	if err != nil || !ok || cached.Hash != bn.Hash {
		t.Errorf("cached GetBlock() = %+v, %v, %v", cached, ok, err)
	}

	_, ok, err = cs.GetBlock(crypto.Hash([]byte("unknown")))
	if err != nil {
		t.Fatalf("GetBlock(unknown) error: %v", err)
	}
	if ok {
		t.Error("unknown block reported present")
	}
}

func TestQCRoundTrip(t *testing.T) {
	cs := newTestStore(t)

	qc := &votes.QC{
		Round:     3,
		BlockHash: crypto.Hash([]byte("b3")),
		Votes: []votes.Vote{
			{Validator: types.ValidatorID{1}, Round: 3, BlockHash: crypto.Hash([]byte("b3")), Signature: []byte{0xaa}},
		},
	}
	if err := cs.PersistQC(qc); err != nil {
		t.Fatalf("PersistQC() error: %v", err)
	}

	got, ok, err := cs.GetQC(3)
	if err != nil || !ok {
		t.Fatalf("GetQC() = %v, %v", ok, err)
	}
	if got.BlockHash != qc.BlockHash || len(got.Votes) != 1 {
		t.Errorf("GetQC() = %+v", got)
	}

	if _, ok, _ := cs.GetQC(99); ok {
		t.Error("missing QC reported present")
	}
}

func TestFinalityPointer(t *testing.T) {
	cs := newTestStore(t)

	hash, round, err := cs.Finalized()
	if err != nil {
		t.Fatalf("Finalized() error: %v", err)
	}
	if !hash.IsZero() || round != 0 {
		t.Errorf("fresh store finality = %s round %d", hash, round)
	}

	want := crypto.Hash([]byte("final"))
	if err := cs.SetFinalized(want, 12); err != nil {
		t.Fatalf("SetFinalized() error: %v", err)
	}

	hash, round, err = cs.Finalized()
	if err != nil {
		t.Fatalf("Finalized() error: %v", err)
	}
	if hash != want || round != 12 {
		t.Errorf("finality = %s round %d, want %s round 12", hash, round, want)
	}

	height, err := cs.FinalizedHeight()
	if err != nil || height != 12 {
		t.Errorf("FinalizedHeight() = %d, %v", height, err)
	}
}

func TestEvidencePersistence(t *testing.T) {
	cs := newTestStore(t)

	e := &votes.Equivocation{
		Offender:   types.ValidatorID{9},
		Round:      4,
		First:      votes.Vote{Validator: types.ValidatorID{9}, Round: 4, BlockHash: crypto.Hash([]byte("a"))},
		Second:     votes.Vote{Validator: types.ValidatorID{9}, Round: 4, BlockHash: crypto.Hash([]byte("b"))},
		DetectedAt: time.Now().UTC(),
	}
	if err := cs.PersistEvidence(e); err != nil {
		t.Fatalf("PersistEvidence() error: %v", err)
	}

	all, err := cs.Evidence()
	if err != nil {
		t.Fatalf("Evidence() error: %v", err)
	}
	if len(all) != 1 || all[0].Offender != e.Offender || all[0].Round != 4 {
		t.Errorf("Evidence() = %+v", all)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	db := NewMemory()
	a, _ := NewConsensusStore(db, "chain-a")
	b, _ := NewConsensusStore(db, "chain-b")

	if err := a.SetFinalized(crypto.Hash([]byte("x")), 5); err != nil {
		t.Fatal(err)
	}
	_, round, err := b.Finalized()
	if err != nil {
		t.Fatal(err)
	}
	if round != 0 {
		t.Errorf("chain-b sees chain-a finality round %d", round)
	}
}
