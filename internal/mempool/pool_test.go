package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

func TestAdd_Basic(t *testing.T) {
	p := New(10)

	data := []byte("item one")
	hash, err := p.Add(data)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if hash != crypto.Hash(data) {
		t.Error("returned hash should be the item hash")
	}
	if !p.Has(hash) {
		t.Error("pool should contain the item")
	}
	if got := p.Get(hash); !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}
	if p.Count() != 1 {
		t.Errorf("Count = %d, want 1", p.Count())
	}
}

func TestAdd_Duplicate(t *testing.T) {
	p := New(10)
	if _, err := p.Add([]byte("dup")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Add([]byte("dup")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAdd_Validation(t *testing.T) {
	p := New(10)

	if _, err := p.Add(nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty item: expected ErrValidation, got %v", err)
	}

	p.SetPolicy(&Policy{MaxItemSize: 4})
	if _, err := p.Add([]byte("too big")); !errors.Is(err, ErrValidation) {
		t.Errorf("oversize item: expected ErrValidation, got %v", err)
	}
	if _, err := p.Add([]byte("ok")); err != nil {
		t.Errorf("small item should pass: %v", err)
	}
}

func TestAdd_EvictsOldestWhenFull(t *testing.T) {
	p := New(2)

	h1, _ := p.Add([]byte("first"))
	h2, _ := p.Add([]byte("second"))
	h3, err := p.Add([]byte("third"))
	if err != nil {
		t.Fatalf("Add at capacity: %v", err)
	}

	if p.Has(h1) {
		t.Error("oldest item should have been evicted")
	}
	if !p.Has(h2) || !p.Has(h3) {
		t.Error("newer items should survive eviction")
	}
	if p.Count() != 2 {
		t.Errorf("Count = %d, want 2", p.Count())
	}
}

func TestGet_Copy(t *testing.T) {
	p := New(10)
	hash, _ := p.Add([]byte("immutable"))

	got := p.Get(hash)
	got[0] = 'X'

	if again := p.Get(hash); again[0] != 'i' {
		t.Error("Get should return a copy, not the stored slice")
	}
	if p.Get(crypto.Hash([]byte("missing"))) != nil {
		t.Error("Get of missing item should return nil")
	}
}

func TestSelectForPayload_ArrivalOrder(t *testing.T) {
	p := New(10)
	var want []string
	for i := 0; i < 5; i++ {
		item := fmt.Sprintf("item-%d", i)
		want = append(want, item)
		if _, err := p.Add([]byte(item)); err != nil {
			t.Fatal(err)
		}
	}

	selected := p.SelectForPayload(3)
	if len(selected) != 3 {
		t.Fatalf("expected 3 hashes, got %d", len(selected))
	}
	for i, h := range selected {
		if h != crypto.Hash([]byte(want[i])) {
			t.Errorf("position %d: wrong item", i)
		}
	}

	// Unlimited select returns everything.
	if all := p.SelectForPayload(0); len(all) != 5 {
		t.Errorf("expected 5 hashes, got %d", len(all))
	}
}

func TestRemoveBatch(t *testing.T) {
	p := New(10)
	h1, _ := p.Add([]byte("a"))
	h2, _ := p.Add([]byte("b"))
	h3, _ := p.Add([]byte("c"))

	p.RemoveBatch([]types.Hash{h1, h3})

	if p.Has(h1) || p.Has(h3) {
		t.Error("batch-removed items should be gone")
	}
	if !p.Has(h2) {
		t.Error("untouched item should remain")
	}
}

func TestEvict_Empty(t *testing.T) {
	p := New(10)
	if n := p.Evict(); n != 0 {
		t.Errorf("Evict on empty pool = %d, want 0", n)
	}
}
