// Package mempool holds opaque payload items waiting for block inclusion.
//
// The consensus core treats block payloads as opaque hashes. The pool
// collects the items behind those hashes (submitted over RPC or gossip)
// so a leader can commit to them when it proposes.
package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Pool errors.
var (
	ErrAlreadyExists = errors.New("item already in pool")
	ErrPoolFull      = errors.New("pool is full")
	ErrValidation    = errors.New("item failed validation")
)

// entry wraps a payload item with arrival metadata.
type entry struct {
	data  []byte
	hash  types.Hash
	seq   uint64
	added time.Time
}

// Pool holds pending payload items, deduplicated by hash.
type Pool struct {
	mu      sync.RWMutex
	items   map[types.Hash]*entry
	maxSize int
	nextSeq uint64
	policy  *Policy
}

// New creates a pool with the given max item count.
func New(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		items:   make(map[types.Hash]*entry),
		maxSize: maxSize,
		policy:  DefaultPolicy(),
	}
}

// SetPolicy replaces the admission policy.
func (p *Pool) SetPolicy(policy *Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Add validates an item and inserts it. Returns the item hash.
// When the pool is full the oldest item is evicted to make room.
func (p *Pool) Add(data []byte) (types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.policy.Check(data); err != nil {
		return types.Hash{}, err
	}

	hash := crypto.Hash(data)
	if _, exists := p.items[hash]; exists {
		return types.Hash{}, ErrAlreadyExists
	}

	if len(p.items) >= p.maxSize {
		if !p.evictOldestLocked() {
			return types.Hash{}, ErrPoolFull
		}
	}

	item := make([]byte, len(data))
	copy(item, data)
	p.items[hash] = &entry{
		data:  item,
		hash:  hash,
		seq:   p.nextSeq,
		added: time.Now(),
	}
	p.nextSeq++
	return hash, nil
}

// Remove deletes an item by hash. Missing hashes are a no-op.
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, hash)
}

// RemoveBatch deletes the items included in a finalized block.
func (p *Pool) RemoveBatch(hashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.items, h)
	}
}

// Has reports whether an item is pending.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.items[hash]
	return ok
}

// Get returns a copy of an item's bytes, or nil if absent.
func (p *Pool) Get(hash types.Hash) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.items[hash]
	if !ok {
		return nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

// Count returns the number of pending items.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Hashes returns all pending item hashes in arrival order.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := p.sortedLocked()
	out := make([]types.Hash, len(entries))
	for i, e := range entries {
		out[i] = e.hash
	}
	return out
}

// SelectForPayload returns up to limit item hashes in arrival order.
// The items stay in the pool until RemoveBatch confirms inclusion.
func (p *Pool) SelectForPayload(limit int) []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := p.sortedLocked()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]types.Hash, len(entries))
	for i, e := range entries {
		out[i] = e.hash
	}
	return out
}

// sortedLocked returns entries ordered by arrival sequence.
func (p *Pool) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(p.items))
	for _, e := range p.items {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}
