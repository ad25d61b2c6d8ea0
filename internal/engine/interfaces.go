package engine

import (
	"context"
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-bft/internal/forkchoice"
	"github.com/Klingon-tech/klingnet-bft/internal/sortition"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// Proposal is a leader's block announcement for a round: the block itself
// plus the VRF ticket proving the sender won the proposer lottery.
type Proposal struct {
	Block  forkchoice.BlockNode   `json:"block"`
	Ticket sortition.LeaderTicket `json:"ticket"`
}

// VoteMsg wraps a vote with the sender's committee-membership proof.
// The proof is omitted when the committee target covers the whole
// validator set.
type VoteMsg struct {
	Vote       votes.Vote `json:"vote"`
	Membership *vrf.Proof `json:"membership,omitempty"`
}

// BlockHash computes the canonical hash of a proposed block:
// BLAKE3(parent || payload || round || proposer).
func BlockHash(parent, payload types.Hash, round uint64, proposer types.ValidatorID) types.Hash {
	buf := make([]byte, 0, 2*types.HashSize+8+types.ValidatorIDSize)
	buf = append(buf, parent[:]...)
	buf = append(buf, payload[:]...)
	buf = binary.BigEndian.AppendUint64(buf, round)
	buf = append(buf, proposer[:]...)
	return crypto.Hash(buf)
}

// Network is the gossip collaborator. Delivery is best-effort and
// unordered; the engine tolerates duplicates and stale messages.
type Network interface {
	BroadcastProposal(ctx context.Context, p *Proposal) error
	BroadcastVote(ctx context.Context, v *VoteMsg) error

	// Proposals and Votes deliver inbound messages. The channels stay
	// open for the lifetime of the network.
	Proposals() <-chan *Proposal
	Votes() <-chan *VoteMsg
}

// Store is the durable-state collaborator. Failures are fatal for the
// affected round: the engine sits the round out and resumes at the next.
type Store interface {
	GetBlock(hash types.Hash) (forkchoice.BlockNode, bool, error)
	PutBlock(bn forkchoice.BlockNode) error
	FinalizedHeight() (uint64, error)
	SetFinalized(hash types.Hash, round uint64) error
	PersistQC(qc *votes.QC) error
}

// Executor is the VM collaborator: it builds the payload for a block this
// node proposes and validates payloads received from other leaders. Both
// calls carry a deadline tied to the round timer.
type Executor interface {
	BuildPayload(ctx context.Context, parent types.Hash, round uint64) (types.Hash, error)
	ValidatePayload(ctx context.Context, parent, payload types.Hash) error
}
