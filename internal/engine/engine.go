// Package engine drives the round state machine: it asks the sortition
// package who leads each round, moves proposals and votes between the
// network and the aggregator, hands quorum certificates to fork-choice,
// and advances the sortition seed from round to round.
//
// The engine owns all round state from a single goroutine. Collaborators
// deliver events over channels; the per-round timer is the only timeout.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/forkchoice"
	"github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/sortition"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// Phase is the state of the current round.
type Phase uint8

const (
	PhasePropose Phase = iota
	PhaseVoting
	PhaseCommitting
	PhaseFinalized
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhasePropose:
		return "propose"
	case PhaseVoting:
		return "voting"
	case PhaseCommitting:
		return "committing"
	case PhaseFinalized:
		return "finalized"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// futureBuffer caps how many early messages are held for upcoming rounds.
const futureBuffer = 64

var errConfig = errors.New("engine misconfigured")

// Options collects the collaborators and parameters for a consensus engine.
type Options struct {
	Config config.ConsensusConfig
	Rules  config.ProtocolConfig

	Self   types.ValidatorID
	Signer crypto.Signer
	VRFKey *vrf.Keypair

	Registry *stake.Registry
	Store    Store
	Network  Network
	Executor Executor
	Evidence *votes.EvidencePool

	// GenesisSeed is the round-0 sortition seed from the genesis file.
	GenesisSeed types.Hash

	// FinalizedHash and FinalizedRound root the block tree; zero values
	// start from genesis.
	FinalizedHash  types.Hash
	FinalizedRound uint64
}

// Engine is the round state machine. Run drives it; all other exported
// methods are safe to call concurrently with Run.
type Engine struct {
	cfg   config.ConsensusConfig
	rules config.ProtocolConfig

	self   types.ValidatorID
	signer crypto.Signer
	vrfKey *vrf.Keypair

	registry *stake.Registry
	tree     *forkchoice.Tree
	store    Store
	net      Network
	exec     Executor
	evidence *votes.EvidencePool
	tracker  *Tracker
	logger   zerolog.Logger

	// Round state, owned by the Run goroutine.
	round           uint64
	seed            types.Hash
	phase           Phase
	snap            *stake.Snapshot
	agg             *votes.Aggregator
	quorumStake     uint64
	member          bool
	membershipProof *vrf.Proof
	best            *Proposal
	proposals       map[types.Hash]*Proposal
	voted           bool

	futureProposals []*Proposal
	futureVotes     []*VoteMsg

	status chan statusReq
}

type statusReq struct {
	reply chan Status
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	Round          uint64
	Phase          Phase
	Epoch          uint64
	Head           types.Hash
	FinalizedHash  types.Hash
	FinalizedRound uint64
}

// New creates an engine. It does not start the round loop; call Run.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Signer == nil:
		return nil, fmt.Errorf("%w: no signer", errConfig)
	case opts.VRFKey == nil:
		return nil, fmt.Errorf("%w: no vrf key", errConfig)
	case opts.Registry == nil:
		return nil, fmt.Errorf("%w: no stake registry", errConfig)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: no store", errConfig)
	case opts.Network == nil:
		return nil, fmt.Errorf("%w: no network", errConfig)
	case opts.Executor == nil:
		return nil, fmt.Errorf("%w: no executor", errConfig)
	case opts.Rules.EpochLength == 0:
		return nil, fmt.Errorf("%w: zero epoch length", errConfig)
	}
	evidence := opts.Evidence
	if evidence == nil {
		evidence = votes.NewEvidencePool(uint64(opts.Config.MissedRoundThreshold))
	}
	return &Engine{
		cfg:      opts.Config,
		rules:    opts.Rules,
		self:     opts.Self,
		signer:   opts.Signer,
		vrfKey:   opts.VRFKey,
		registry: opts.Registry,
		tree:     forkchoice.NewTree(opts.FinalizedHash, opts.FinalizedRound),
		store:    opts.Store,
		net:      opts.Network,
		exec:     opts.Executor,
		evidence: evidence,
		tracker:  NewTracker(),
		logger:   log.Engine.With().Str("validator", opts.Self.String()).Logger(),
		round:    opts.FinalizedRound + 1,
		seed:     opts.GenesisSeed,
		status:   make(chan statusReq),
	}, nil
}

// Tracker returns the liveness tracker.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Evidence returns the equivocation evidence pool.
func (e *Engine) Evidence() *votes.EvidencePool { return e.evidence }

// Status reports the engine's current round, phase, and finality pointer.
// Blocks until the Run goroutine answers or the context expires.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	req := statusReq{reply: make(chan Status, 1)}
	select {
	case e.status <- req:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run executes rounds until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Uint64("round", e.round).
		Str("seed", e.seed.Short()).
		Msg("consensus engine starting")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.startRound(ctx)

		// Replayed future messages may already have completed the round.
		success := e.roundDone()
		if !success {
			var err error
			success, err = e.runRound(ctx)
			if err != nil {
				return err
			}
		}
		e.advanceRound(success)
	}
}

// startRound resets per-round state: a fresh aggregator over the current
// snapshot, the local sortition checks, and a proposal if this node leads.
func (e *Engine) startRound(ctx context.Context) {
	e.snap = e.registry.Current()
	e.quorumStake = e.committeeStake()
	e.agg = votes.NewAggregator(e.round, e.snap, e.quorumStake, e.evidence)
	e.best = nil
	e.proposals = make(map[types.Hash]*Proposal)
	e.voted = false
	e.phase = PhasePropose
	e.member = true
	e.membershipProof = nil

	e.logger.Debug().
		Uint64("round", e.round).
		Uint64("epoch", e.snap.Epoch()).
		Str("seed", e.seed.Short()).
		Msg("round started")

	if e.sampledCommittee() {
		proof, ok, err := sortition.ProveMembership(e.vrfKey, e.self, e.seed, e.round, e.snap, e.rules.CommitteeTarget)
		if err != nil {
			e.logger.Error().Err(err).Uint64("round", e.round).Msg("membership proof failed")
			e.member = false
		} else {
			e.member = ok
			e.membershipProof = proof
		}
	}

	ticket, won, err := sortition.SelectLeader(e.vrfKey, e.self, e.seed, e.round, e.snap, e.rules.ExpectedLeaders)
	if err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("leader check failed")
	} else if won {
		e.propose(ctx, ticket)
	}

	e.drainFuture(ctx)
}

// runRound processes events until the round completes or times out.
// Returns whether a quorum certificate was committed this round.
func (e *Engine) runRound(ctx context.Context) (bool, error) {
	proposeTimer := time.NewTimer(e.cfg.ProposeTimeout)
	defer proposeTimer.Stop()
	roundTimer := time.NewTimer(e.cfg.RoundTimeout)
	defer roundTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case req := <-e.status:
			req.reply <- e.snapshotStatus()

		case p := <-e.net.Proposals():
			e.onProposal(ctx, p)

		case vm := <-e.net.Votes():
			e.onVote(vm)

		case <-proposeTimer.C:
			e.closePropose(ctx)

		case <-roundTimer.C:
			e.phase = PhaseTimedOut
			e.logger.Info().
				Uint64("round", e.round).
				Uint64("accumulated", e.accumulated()).
				Uint64("quorum_stake", e.quorumStake).
				Msg("round timed out")
			return false, nil
		}

		if e.roundDone() {
			return true, nil
		}
	}
}

func (e *Engine) roundDone() bool {
	return e.phase == PhaseCommitting || e.phase == PhaseFinalized
}

// propose builds and broadcasts this node's block for the round.
func (e *Engine) propose(ctx context.Context, ticket *sortition.LeaderTicket) {
	parent, _ := e.tree.CertifiedHead()
	parentQC, _ := e.tree.QC(parent)

	buildCtx, cancel := context.WithTimeout(ctx, e.cfg.ProposeTimeout)
	defer cancel()
	payload, err := e.exec.BuildPayload(buildCtx, parent, e.round)
	if err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("payload build failed, sitting round out")
		return
	}

	bn := forkchoice.BlockNode{
		Hash:     BlockHash(parent, payload, e.round, e.self),
		Parent:   parent,
		Round:    e.round,
		ParentQC: parentQC,
		Payload:  payload,
	}
	if err := e.store.PutBlock(bn); err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("block persist failed, sitting round out")
		return
	}
	if err := e.tree.Insert(bn); err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("own block rejected by fork-choice")
		return
	}

	p := &Proposal{Block: bn, Ticket: *ticket}
	e.adoptProposal(p)
	if err := e.net.BroadcastProposal(ctx, p); err != nil {
		e.logger.Warn().Err(err).Uint64("round", e.round).Msg("proposal broadcast failed")
	}
	e.logger.Info().
		Uint64("round", e.round).
		Str("block", bn.Hash.Short()).
		Str("parent", parent.Short()).
		Msg("proposed block")
}

// onProposal validates a remote proposal and adopts it if it wins the
// deterministic tie-break.
func (e *Engine) onProposal(ctx context.Context, p *Proposal) {
	switch {
	case p.Block.Round < e.round:
		e.logger.Debug().Uint64("round", p.Block.Round).Msg("stale proposal dropped")
		return
	case p.Block.Round > e.round:
		e.bufferProposal(p)
		return
	}

	if p.Ticket.Round != e.round ||
		p.Block.Hash != BlockHash(p.Block.Parent, p.Block.Payload, p.Block.Round, p.Ticket.Validator) {
		e.logger.Warn().
			Str("proposer", p.Ticket.Validator.String()).
			Uint64("round", e.round).
			Msg("malformed proposal dropped")
		return
	}
	if err := sortition.VerifyLeaderTicket(&p.Ticket, e.seed, e.snap, e.rules.ExpectedLeaders); err != nil {
		e.logger.Warn().Err(err).
			Str("proposer", p.Ticket.Validator.String()).
			Uint64("round", e.round).
			Msg("invalid leader ticket dropped")
		return
	}

	if err := e.verifyParentQC(&p.Block); err != nil {
		e.logger.Warn().Err(err).
			Str("proposer", p.Ticket.Validator.String()).
			Str("block", p.Block.Hash.Short()).
			Msg("proposal with invalid parent certificate dropped")
		return
	}

	if !e.resolveAncestors(p.Block.Parent) {
		e.logger.Warn().
			Str("block", p.Block.Hash.Short()).
			Str("parent", p.Block.Parent.Short()).
			Msg("orphan proposal dropped")
		return
	}

	validateCtx, cancel := context.WithTimeout(ctx, e.cfg.RoundTimeout)
	defer cancel()
	if err := e.exec.ValidatePayload(validateCtx, p.Block.Parent, p.Block.Payload); err != nil {
		e.logger.Warn().Err(err).
			Str("block", p.Block.Hash.Short()).
			Msg("proposal payload rejected")
		return
	}

	if err := e.tree.Insert(p.Block); err != nil {
		e.logger.Warn().Err(err).Str("block", p.Block.Hash.Short()).Msg("proposal rejected by fork-choice")
		return
	}
	if err := e.store.PutBlock(p.Block); err != nil {
		e.logger.Error().Err(err).Str("block", p.Block.Hash.Short()).Msg("block persist failed, sitting round out")
		return
	}

	e.adoptProposal(p)

	// The propose window already closed: vote for the adopted proposal now.
	if e.phase == PhaseVoting {
		e.castVote(ctx)
	}
}

// adoptProposal keeps the proposal with the lowest VRF output for the round.
func (e *Engine) adoptProposal(p *Proposal) {
	e.tracker.RecordProposal(p.Ticket.Validator, p.Block.Round)
	e.proposals[p.Block.Hash] = p
	if e.best == nil {
		e.best = p
		return
	}
	if sortition.Better(&e.best.Ticket, &p.Ticket) == &p.Ticket {
		e.best = p
	}
}

// closePropose ends the proposal-collection window and casts this node's
// vote for the adopted proposal, if any.
func (e *Engine) closePropose(ctx context.Context) {
	if e.phase != PhasePropose {
		return
	}
	e.phase = PhaseVoting
	e.castVote(ctx)
}

func (e *Engine) castVote(ctx context.Context) {
	if e.voted || e.best == nil || !e.member {
		return
	}
	v, err := votes.NewVote(e.signer, e.self, e.round, e.best.Block.Hash)
	if err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("vote signing failed")
		return
	}
	e.voted = true
	vm := &VoteMsg{Vote: *v, Membership: e.membershipProof}
	if err := e.net.BroadcastVote(ctx, vm); err != nil {
		e.logger.Warn().Err(err).Uint64("round", e.round).Msg("vote broadcast failed")
	}
	// Count the own vote locally; the network may or may not echo it back.
	e.onVote(vm)
}

// onVote feeds a vote into the aggregator and commits on quorum.
func (e *Engine) onVote(vm *VoteMsg) {
	switch {
	case vm.Vote.Round < e.round:
		e.logger.Debug().Uint64("round", vm.Vote.Round).Msg("stale vote dropped")
		return
	case vm.Vote.Round > e.round:
		e.bufferVote(vm)
		return
	}

	if e.sampledCommittee() {
		if vm.Membership == nil {
			e.logger.Warn().
				Str("voter", vm.Vote.Validator.String()).
				Msg("vote without membership proof dropped")
			return
		}
		if err := sortition.VerifyMembership(vm.Vote.Validator, vm.Membership, e.seed, e.round, e.snap, e.rules.CommitteeTarget); err != nil {
			e.logger.Warn().Err(err).
				Str("voter", vm.Vote.Validator.String()).
				Msg("invalid membership proof dropped")
			return
		}
	}

	outcome, err := e.agg.Add(&vm.Vote)
	if err != nil {
		e.logger.Debug().Err(err).
			Str("voter", vm.Vote.Validator.String()).
			Msg("vote rejected")
		return
	}

	switch outcome {
	case votes.OutcomeDuplicate:
		return
	case votes.OutcomeEquivocation:
		e.logger.Warn().
			Str("voter", vm.Vote.Validator.String()).
			Uint64("round", e.round).
			Msg("equivocating vote recorded")
	case votes.OutcomeQuorum:
		e.tracker.RecordVote(vm.Vote.Validator, vm.Vote.Round)
		e.commit()
		return
	}
	e.tracker.RecordVote(vm.Vote.Validator, vm.Vote.Round)
}

// commit persists the freshly formed QC, hands it to fork-choice, and
// advances finality if the 2-chain rule fires.
func (e *Engine) commit() {
	qc, ok := e.agg.QC()
	if !ok {
		return
	}
	e.phase = PhaseCommitting
	e.logger.Info().
		Uint64("round", e.round).
		Str("block", qc.BlockHash.Short()).
		Int("votes", len(qc.Votes)).
		Msg("quorum certificate formed")

	if err := e.store.PersistQC(qc); err != nil {
		e.logger.Error().Err(err).Uint64("round", e.round).Msg("qc persist failed")
	}
	if err := e.tree.SetQC(qc.BlockHash, qc); err != nil {
		e.logger.Error().Err(err).Str("block", qc.BlockHash.Short()).Msg("qc rejected by fork-choice")
		return
	}

	if final, ok := e.tree.TryFinalize(); ok {
		e.phase = PhaseFinalized
		_, round := e.tree.Finalized()
		if err := e.store.SetFinalized(final, round); err != nil {
			e.logger.Error().Err(err).Str("block", final.Short()).Msg("finality persist failed")
		}
	}
}

// advanceRound chains the sortition seed and moves to the next round.
// A committed round seeds from the winning leader's VRF output so the next
// leader is unpredictable until the proof is revealed; a timed-out round
// stirs the round number into the stale seed instead.
func (e *Engine) advanceRound(success bool) {
	var next types.Hash
	advanced := false
	if success {
		if qc, ok := e.agg.QC(); ok {
			if p, seen := e.proposals[qc.BlockHash]; seen {
				next = crypto.Hash(p.Ticket.Proof.Output[:])
				advanced = true
			}
			e.recordParticipation()
		}
	}
	if advanced {
		e.seed = next
	} else {
		e.seed = crypto.HashWithRound(e.seed, e.round)
	}

	e.round++

	epoch := e.round / e.rules.EpochLength
	if epoch > e.snap.Epoch() {
		if err := e.registry.Rollover(epoch); err != nil {
			e.logger.Error().Err(err).Uint64("epoch", epoch).Msg("epoch rollover failed, keeping current snapshot")
		}
	}
}

// recordParticipation updates miss counters after a committed round.
func (e *Engine) recordParticipation() {
	for _, id := range e.snap.Ordered() {
		if e.agg.Voted(id) {
			e.evidence.ResetMisses(id)
			continue
		}
		e.tracker.RecordMiss(id)
		if offence, flagged := e.evidence.RecordMiss(id); flagged {
			e.logger.Warn().
				Str("validator", id.String()).
				Uint64("missed", offence.MissedRounds).
				Msg("offline offence recorded")
		}
	}
}

// resolveAncestors makes sure parent is in the tree, pulling up to
// MaxAncestorFetch missing ancestors from the store. Returns false when
// the chain cannot be connected.
func (e *Engine) resolveAncestors(parent types.Hash) bool {
	if e.tree.Contains(parent) {
		return true
	}

	// Walk up through the store until a known block is found.
	missing := make([]forkchoice.BlockNode, 0, e.cfg.MaxAncestorFetch)
	cur := parent
	for range e.cfg.MaxAncestorFetch {
		bn, ok, err := e.store.GetBlock(cur)
		if err != nil {
			e.logger.Error().Err(err).Str("block", cur.Short()).Msg("ancestor fetch failed")
			return false
		}
		if !ok {
			return false
		}
		missing = append(missing, bn)
		if e.tree.Contains(bn.Parent) {
			// Insert oldest first.
			for i := len(missing) - 1; i >= 0; i-- {
				if err := e.verifyParentQC(&missing[i]); err != nil {
					e.logger.Warn().Err(err).
						Str("block", missing[i].Hash.Short()).
						Msg("stored ancestor carries invalid certificate")
					return false
				}
				if err := e.tree.Insert(missing[i]); err != nil {
					e.logger.Warn().Err(err).
						Str("block", missing[i].Hash.Short()).
						Msg("ancestor rejected by fork-choice")
					return false
				}
			}
			return true
		}
		cur = bn.Parent
	}
	return false
}

// verifyParentQC checks the certificate a block carries for its parent
// against the stake snapshot. The fork-choice tree only matches the QC's
// hash and round fields, so the cryptographic check has to happen before
// insertion or a leader could certify its parent with fabricated votes.
func (e *Engine) verifyParentQC(bn *forkchoice.BlockNode) error {
	if bn.ParentQC == nil {
		return nil
	}
	return bn.ParentQC.Validate(e.snap, e.quorumStake)
}

// sampledCommittee reports whether the committee is a strict subset of the
// validator set. At or above the validator count every validator votes and
// no membership proofs are exchanged.
func (e *Engine) sampledCommittee() bool {
	return e.rules.CommitteeTarget < uint64(e.snap.Len())
}

// committeeStake returns the quorum denominator for the round: the full
// snapshot weight when everyone votes, otherwise the expected committee
// stake under sortition.
func (e *Engine) committeeStake() uint64 {
	total := e.snap.TotalWeight()
	n := uint64(e.snap.Len())
	if e.rules.CommitteeTarget >= n {
		return total
	}
	return total / n * e.rules.CommitteeTarget
}

func (e *Engine) bufferProposal(p *Proposal) {
	if len(e.futureProposals) >= futureBuffer {
		return
	}
	e.futureProposals = append(e.futureProposals, p)
}

func (e *Engine) bufferVote(vm *VoteMsg) {
	if len(e.futureVotes) >= futureBuffer {
		return
	}
	e.futureVotes = append(e.futureVotes, vm)
}

// drainFuture replays buffered messages that have become current.
func (e *Engine) drainFuture(ctx context.Context) {
	proposals := e.futureProposals
	e.futureProposals = nil
	for _, p := range proposals {
		if p.Block.Round >= e.round {
			e.onProposal(ctx, p)
		}
	}

	vs := e.futureVotes
	e.futureVotes = nil
	for _, vm := range vs {
		if vm.Vote.Round >= e.round {
			e.onVote(vm)
		}
	}
}

func (e *Engine) accumulated() uint64 {
	if e.best == nil {
		return 0
	}
	return e.agg.AccumulatedWeight(e.best.Block.Hash)
}

func (e *Engine) snapshotStatus() Status {
	head := e.tree.Head()
	finalHash, finalRound := e.tree.Finalized()
	return Status{
		Round:          e.round,
		Phase:          e.phase,
		Epoch:          e.snap.Epoch(),
		Head:           head,
		FinalizedHash:  finalHash,
		FinalizedRound: finalRound,
	}
}
