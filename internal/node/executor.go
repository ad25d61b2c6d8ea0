package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-bft/internal/mempool"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// payloadItemLimit caps how many pool items one block commits to.
const payloadItemLimit = 1000

// poolExecutor builds block payloads from the pending item pool.
// The payload hash commits to the ordered item hashes; item bodies
// replicate over gossip independently of consensus.
type poolExecutor struct {
	pool *mempool.Pool

	mu    sync.Mutex
	built map[types.Hash][]types.Hash // payload hash -> included items
}

func newPoolExecutor(pool *mempool.Pool) *poolExecutor {
	return &poolExecutor{
		pool:  pool,
		built: make(map[types.Hash][]types.Hash),
	}
}

// BuildPayload commits to the pending items in arrival order. An empty
// pool still produces a valid payload so empty rounds can finalize.
func (x *poolExecutor) BuildPayload(ctx context.Context, parent types.Hash, round uint64) (types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return types.Hash{}, err
	}

	items := x.pool.SelectForPayload(payloadItemLimit)
	if len(items) == 0 {
		return crypto.HashWithRound(parent, round), nil
	}

	buf := make([]byte, 0, len(items)*types.HashSize)
	for _, h := range items {
		buf = append(buf, h[:]...)
	}
	payload := crypto.Hash(buf)

	x.mu.Lock()
	x.built[payload] = items
	x.mu.Unlock()

	return payload, nil
}

// ValidatePayload checks a payload received from another leader. Item
// bodies arrive out of band, so only structural checks apply here.
func (x *poolExecutor) ValidatePayload(ctx context.Context, parent, payload types.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if payload.IsZero() {
		return fmt.Errorf("zero payload hash")
	}
	return nil
}

// Finalized removes the items included in a finalized payload from the
// pool. Payloads built by other validators are unknown here and skip.
func (x *poolExecutor) Finalized(payload types.Hash) {
	x.mu.Lock()
	items, ok := x.built[payload]
	if ok {
		delete(x.built, payload)
	}
	x.mu.Unlock()

	if ok {
		x.pool.RemoveBatch(items)
	}
}
