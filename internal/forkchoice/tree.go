// Package forkchoice maintains the tree of pending blocks rooted at the last
// finalized block, picks the current head, and advances finality.
//
// The tree is an arena of nodes indexed by block hash with a secondary
// child index, with no parent/child back-pointers. The fork-choice engine owns
// the tree exclusively; other components refer to blocks by hash only.
package forkchoice

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Fork-choice errors.
var (
	ErrOrphan       = errors.New("parent block unknown")
	ErrUnknownBlock = errors.New("block not in tree")
	ErrQCMismatch   = errors.New("qc does not certify the named block")
	ErrStaleBlock   = errors.New("block round at or below finalized round")
)

// BlockNode is a pending block awaiting finality: the block hash, its
// parent link, the round it was proposed in, the QC certifying its parent,
// and an opaque reference to the stored payload.
type BlockNode struct {
	Hash     types.Hash `json:"hash"`
	Parent   types.Hash `json:"parent"`
	Round    uint64     `json:"round"`
	ParentQC *votes.QC  `json:"parent_qc,omitempty"`
	Payload  types.Hash `json:"payload"`
}

// node is the arena entry: the block plus the QC certifying it (once seen)
// and an insertion sequence number for earliest-seen tie-breaking.
type node struct {
	BlockNode
	qc  *votes.QC
	seq uint64
}

// Tree is the pending-block tree. Not safe for concurrent use; the engine
// drives it from a single goroutine.
type Tree struct {
	nodes    map[types.Hash]*node
	children map[types.Hash][]types.Hash

	root      types.Hash // last finalized block, tree root
	rootRound uint64
	nextSeq   uint64
}

// NewTree creates a tree rooted at the last finalized block.
func NewTree(finalizedHash types.Hash, finalizedRound uint64) *Tree {
	t := &Tree{
		nodes:     make(map[types.Hash]*node),
		children:  make(map[types.Hash][]types.Hash),
		root:      finalizedHash,
		rootRound: finalizedRound,
	}
	t.nodes[finalizedHash] = &node{
		BlockNode: BlockNode{Hash: finalizedHash, Round: finalizedRound},
	}
	return t
}

// Insert attaches a block under its parent. Re-inserting a known block has
// no observable effect. Returns ErrOrphan when the parent is unknown; the
// caller must fetch ancestors first.
//
// When the block carries its parent's QC, that QC is attached to the parent
// node, which may unlock finalization.
func (t *Tree) Insert(bn BlockNode) error {
	if _, known := t.nodes[bn.Hash]; known {
		return nil
	}
	if bn.Round <= t.rootRound {
		return fmt.Errorf("%w: round %d, finalized %d", ErrStaleBlock, bn.Round, t.rootRound)
	}

	parent, ok := t.nodes[bn.Parent]
	if !ok {
		return fmt.Errorf("%w: %s (child %s)", ErrOrphan, bn.Parent.Short(), bn.Hash.Short())
	}

	if bn.ParentQC != nil {
		if bn.ParentQC.BlockHash != bn.Parent || bn.ParentQC.Round != parent.Round {
			return fmt.Errorf("%w: qc for %s round %d, parent %s round %d",
				ErrQCMismatch, bn.ParentQC.BlockHash.Short(), bn.ParentQC.Round,
				bn.Parent.Short(), parent.Round)
		}
		if parent.qc == nil {
			parent.qc = bn.ParentQC
		}
	}

	t.nextSeq++
	t.nodes[bn.Hash] = &node{BlockNode: bn, seq: t.nextSeq}
	t.children[bn.Parent] = append(t.children[bn.Parent], bn.Hash)

	log.ForkChoice.Debug().
		Str("block", bn.Hash.Short()).
		Str("parent", bn.Parent.Short()).
		Uint64("round", bn.Round).
		Msg("block inserted")
	return nil
}

// SetQC attaches a quorum certificate to a block already in the tree.
func (t *Tree) SetQC(blockHash types.Hash, qc *votes.QC) error {
	n, ok := t.nodes[blockHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, blockHash.Short())
	}
	if qc.BlockHash != blockHash || qc.Round != n.Round {
		return fmt.Errorf("%w: qc for %s round %d, block %s round %d",
			ErrQCMismatch, qc.BlockHash.Short(), qc.Round, blockHash.Short(), n.Round)
	}
	if n.qc == nil {
		n.qc = qc
	}
	return nil
}

// Contains reports whether the block is in the tree.
func (t *Tree) Contains(blockHash types.Hash) bool {
	_, ok := t.nodes[blockHash]
	return ok
}

// Node returns the block node for a hash.
func (t *Tree) Node(blockHash types.Hash) (BlockNode, bool) {
	n, ok := t.nodes[blockHash]
	if !ok {
		return BlockNode{}, false
	}
	return n.BlockNode, true
}

// Len returns the number of blocks in the tree, including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// QC returns the certificate attached to a block, if one has been seen.
func (t *Tree) QC(blockHash types.Hash) (*votes.QC, bool) {
	n, ok := t.nodes[blockHash]
	if !ok || n.qc == nil {
		return nil, false
	}
	return n.qc, true
}

// CertifiedHead returns the deepest QC-certified block on the current head
// path, falling back to the finalized root. Proposers extend this block so
// every proposal can carry its parent's certificate.
func (t *Tree) CertifiedHead() (types.Hash, uint64) {
	cur := t.Head()
	for cur != t.root {
		n := t.nodes[cur]
		if n.qc != nil {
			return cur, n.Round
		}
		cur = n.Parent
	}
	return t.root, t.rootRound
}

// Finalized returns the finality pointer: the highest block known to be
// irreversibly committed. Monotonically non-decreasing, and only ever
// advances along the ancestor chain of the head.
func (t *Tree) Finalized() (types.Hash, uint64) {
	return t.root, t.rootRound
}

// Head selects the current chain head: the leaf whose path from the root
// carries the greatest number of QC-certified blocks, ties broken by
// earliest-seen. Deterministic given identical local views.
func (t *Tree) Head() types.Hash {
	head, _ := t.bestLeaf(t.root)
	return head
}

// bestLeaf returns the best leaf under from, and the count of QC-certified
// blocks on the path from (exclusive of the root's own certification, which
// is common to every path).
func (t *Tree) bestLeaf(from types.Hash) (types.Hash, int) {
	kids := t.children[from]
	if len(kids) == 0 {
		return from, 0
	}

	var (
		bestHash   types.Hash
		bestWeight = -1
		bestSeq    uint64
	)
	for _, kid := range kids {
		leaf, weight := t.bestLeaf(kid)
		if t.nodes[kid].qc != nil {
			weight++
		}
		leafSeq := t.nodes[leaf].seq
		if weight > bestWeight || (weight == bestWeight && leafSeq < bestSeq) {
			bestHash, bestWeight, bestSeq = leaf, weight, leafSeq
		}
	}
	return bestHash, bestWeight
}

// TryFinalize applies the 2-chain commit rule: a block becomes final when it
// and its direct child both carry QCs for consecutive rounds. On success the
// finality pointer advances to the deepest such block, sibling branches and
// their descendants are pruned, and the newly finalized hash is returned.
func (t *Tree) TryFinalize() (types.Hash, bool) {
	target, found := t.findCommit(t.root)
	if !found {
		return types.Hash{}, false
	}

	t.pruneTo(target)

	n := t.nodes[target]
	log.ForkChoice.Info().
		Str("block", target.Short()).
		Uint64("round", n.Round).
		Int("pending", len(t.nodes)-1).
		Msg("block finalized")
	return target, true
}

// findCommit walks down from the root looking for the deepest block
// satisfying the 2-chain rule.
func (t *Tree) findCommit(from types.Hash) (types.Hash, bool) {
	var (
		best  types.Hash
		found bool
	)
	for _, kid := range t.children[from] {
		kn := t.nodes[kid]
		if kn.qc != nil {
			for _, grand := range t.children[kid] {
				gn := t.nodes[grand]
				if gn.qc != nil && gn.Round == kn.Round+1 {
					best, found = kid, true
					break
				}
			}
		}
		if deeper, ok := t.findCommit(kid); ok {
			if !found || t.nodes[deeper].Round > t.nodes[best].Round {
				best, found = deeper, true
			}
		}
	}
	return best, found
}

// pruneTo makes target the new root, discarding everything that is neither
// target nor one of its descendants. Pruned branches are freed, not retried.
func (t *Tree) pruneTo(target types.Hash) {
	keep := make(map[types.Hash]bool)
	t.markSubtree(target, keep)

	pruned := 0
	for hash := range t.nodes {
		if !keep[hash] {
			delete(t.nodes, hash)
			delete(t.children, hash)
			pruned++
		}
	}
	// Drop child links pointing at pruned nodes.
	for parent, kids := range t.children {
		kept := kids[:0]
		for _, kid := range kids {
			if keep[kid] {
				kept = append(kept, kid)
			}
		}
		t.children[parent] = kept
	}

	n := t.nodes[target]
	n.Parent = types.Hash{}
	n.ParentQC = nil
	t.root = target
	t.rootRound = n.Round

	if pruned > 0 {
		log.ForkChoice.Debug().Int("pruned", pruned).Msg("sibling branches pruned")
	}
}

func (t *Tree) markSubtree(from types.Hash, keep map[types.Hash]bool) {
	keep[from] = true
	for _, kid := range t.children[from] {
		t.markSubtree(kid, keep)
	}
}
