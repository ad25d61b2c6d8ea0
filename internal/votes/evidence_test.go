package votes

import (
	"testing"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

func TestEvidencePool_RecordAndPrune(t *testing.T) {
	pool := NewEvidencePool(0)
	var offender types.ValidatorID
	offender[0] = 7

	pool.Record(Equivocation{Offender: offender, Round: 3})
	pool.Record(Equivocation{Offender: offender, Round: 8})

	if got := len(pool.Evidence()); got != 2 {
		t.Fatalf("evidence count = %d, want 2", got)
	}

	pool.Prune(5)
	ev := pool.Evidence()
	if len(ev) != 1 || ev[0].Round != 8 {
		t.Errorf("after prune: %+v, want single round-8 entry", ev)
	}
	if ev[0].DetectedAt.IsZero() {
		t.Error("DetectedAt not filled in")
	}
}

func TestEvidencePool_MissThreshold(t *testing.T) {
	pool := NewEvidencePool(3)
	id := crypto.ValidatorIDFromPubKey([]byte("some key"))

	for i := 0; i < 2; i++ {
		if _, offline := pool.RecordMiss(id); offline {
			t.Fatalf("offline after %d misses, threshold is 3", i+1)
		}
	}
	offence, offline := pool.RecordMiss(id)
	if !offline {
		t.Fatal("expected offline offence at third miss")
	}
	if offence.Offender != id || offence.MissedRounds != 3 {
		t.Errorf("offence = %+v", offence)
	}

	pool.ResetMisses(id)
	if got := pool.Misses(id); got != 0 {
		t.Errorf("misses after reset = %d, want 0", got)
	}
}

func TestEvidencePool_MissTrackingDisabled(t *testing.T) {
	pool := NewEvidencePool(0)
	id := crypto.ValidatorIDFromPubKey([]byte("some key"))
	for i := 0; i < 10; i++ {
		if _, offline := pool.RecordMiss(id); offline {
			t.Fatal("miss tracking should be disabled at threshold 0")
		}
	}
}
