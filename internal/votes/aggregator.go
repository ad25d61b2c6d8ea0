package votes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Aggregation errors.
var (
	ErrWrongRound   = errors.New("vote is for a different round")
	ErrUnknownVoter = errors.New("voter not in stake snapshot")
	ErrBadSignature = errors.New("invalid vote signature")
)

// Outcome describes what adding a vote did to the aggregation state.
type Outcome int

const (
	// OutcomeRejected means the vote failed validation and was dropped.
	OutcomeRejected Outcome = iota
	// OutcomeAdded means the vote was accepted and counted.
	OutcomeAdded
	// OutcomeDuplicate means the voter already cast this exact vote;
	// re-processing has no observable effect.
	OutcomeDuplicate
	// OutcomeEquivocation means the voter cast a conflicting vote in this
	// round. The vote is recorded as evidence, not counted.
	OutcomeEquivocation
	// OutcomeQuorum means this vote pushed one block hash over the 2/3
	// stake threshold: the QC is now available. Emitted at most once.
	OutcomeQuorum
	// OutcomeLate means quorum was already reached; the vote is kept for
	// audit but no longer changes the outcome.
	OutcomeLate
)

// String returns a short label for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeAdded:
		return "added"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeEquivocation:
		return "equivocation"
	case OutcomeQuorum:
		return "quorum"
	case OutcomeLate:
		return "late"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Aggregator accumulates votes for a single round, stake-weighted per
// candidate block hash, and emits a quorum certificate exactly once when a
// hash crosses the 2/3 threshold. It owns its state exclusively; the engine
// drives it from a single goroutine.
type Aggregator struct {
	round      uint64
	snap       *stake.Snapshot
	totalStake uint64

	first   map[types.ValidatorID]types.Hash // first block hash seen per voter
	byBlock map[types.Hash][]Vote
	weight  map[types.Hash]uint64
	flagged map[types.ValidatorID]bool

	evidence *EvidencePool // nil disables evidence recording
	qc       *QC
}

// NewAggregator creates an aggregator for one round. totalStake is the
// committee stake the 2/3 quorum is measured against; evidence may be nil.
func NewAggregator(round uint64, snap *stake.Snapshot, totalStake uint64, evidence *EvidencePool) *Aggregator {
	return &Aggregator{
		round:      round,
		snap:       snap,
		totalStake: totalStake,
		first:      make(map[types.ValidatorID]types.Hash),
		byBlock:    make(map[types.Hash][]Vote),
		weight:     make(map[types.Hash]uint64),
		flagged:    make(map[types.ValidatorID]bool),
		evidence:   evidence,
	}
}

// Round returns the round this aggregator covers.
func (a *Aggregator) Round() uint64 {
	return a.round
}

// Add validates and accumulates one vote. Equivocating votes are flagged and
// recorded, never silently dropped, and do not block progress: the quorum
// only needs 2/3 honest-weight agreement on one block hash.
func (a *Aggregator) Add(v *Vote) (Outcome, error) {
	if v.Round != a.round {
		return OutcomeRejected, fmt.Errorf("%w: vote round %d, aggregator round %d", ErrWrongRound, v.Round, a.round)
	}

	val, ok := a.snap.Lookup(v.Validator)
	if !ok {
		return OutcomeRejected, fmt.Errorf("%w: %s", ErrUnknownVoter, v.Validator)
	}
	if !v.VerifySignature(val.SigPub) {
		return OutcomeRejected, fmt.Errorf("%w: voter %s round %d", ErrBadSignature, v.Validator, a.round)
	}

	if firstHash, seen := a.first[v.Validator]; seen {
		if firstHash == v.BlockHash {
			return OutcomeDuplicate, nil
		}
		// Conflicting vote in the same round: equivocation. The first
		// vote stays counted; the conflict becomes evidence.
		if !a.flagged[v.Validator] {
			a.flagged[v.Validator] = true
			if a.evidence != nil {
				first := a.findVote(firstHash, v.Validator)
				a.evidence.Record(Equivocation{
					Offender: v.Validator,
					Round:    a.round,
					First:    first,
					Second:   *v,
				})
			}
			log.Votes.Warn().
				Str("validator", v.Validator.String()).
				Uint64("round", a.round).
				Str("first", firstHash.Short()).
				Str("second", v.BlockHash.Short()).
				Msg("equivocation detected")
		}
		return OutcomeEquivocation, nil
	}

	a.first[v.Validator] = v.BlockHash
	a.byBlock[v.BlockHash] = append(a.byBlock[v.BlockHash], *v)
	a.weight[v.BlockHash] += val.Weight

	if a.qc != nil {
		return OutcomeLate, nil
	}
	if quorumReached(a.weight[v.BlockHash], a.totalStake) {
		a.qc = a.buildQC(v.BlockHash)
		log.Votes.Info().
			Uint64("round", a.round).
			Str("block", v.BlockHash.Short()).
			Uint64("weight", a.weight[v.BlockHash]).
			Uint64("total", a.totalStake).
			Msg("quorum reached")
		return OutcomeQuorum, nil
	}
	return OutcomeAdded, nil
}

// QC returns the quorum certificate once formed.
func (a *Aggregator) QC() (*QC, bool) {
	return a.qc, a.qc != nil
}

// AccumulatedWeight returns the stake currently counted for a block hash.
func (a *Aggregator) AccumulatedWeight(blockHash types.Hash) uint64 {
	return a.weight[blockHash]
}

// Voted reports whether the validator has cast a vote this round.
func (a *Aggregator) Voted(id types.ValidatorID) bool {
	_, ok := a.first[id]
	return ok
}

// Equivocators returns the validators flagged for conflicting votes.
func (a *Aggregator) Equivocators() []types.ValidatorID {
	out := make([]types.ValidatorID, 0, len(a.flagged))
	for id := range a.flagged {
		out = append(out, id)
	}
	return out
}

// buildQC snapshots the votes for the winning hash into an immutable QC,
// ordered by validator ID so two honest nodes build identical certificates.
func (a *Aggregator) buildQC(blockHash types.Hash) *QC {
	collected := a.byBlock[blockHash]
	qcVotes := make([]Vote, len(collected))
	copy(qcVotes, collected)
	sort.Slice(qcVotes, func(i, j int) bool {
		for k := range qcVotes[i].Validator {
			if qcVotes[i].Validator[k] != qcVotes[j].Validator[k] {
				return qcVotes[i].Validator[k] < qcVotes[j].Validator[k]
			}
		}
		return false
	})
	return &QC{
		Round:     a.round,
		BlockHash: blockHash,
		Votes:     qcVotes,
	}
}

func (a *Aggregator) findVote(blockHash types.Hash, voter types.ValidatorID) Vote {
	for _, v := range a.byBlock[blockHash] {
		if v.Validator == voter {
			return v
		}
	}
	return Vote{}
}
