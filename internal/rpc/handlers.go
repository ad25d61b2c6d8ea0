package rpc

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// handleNodeGetStatus returns the engine's current round, phase, and
// finality pointer plus pool and peer counts.
func (s *Server) handleNodeGetStatus(req *Request) (interface{}, *Error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("engine status: %v", err)}
	}

	peers := 0
	if s.gossipNode != nil {
		peers = s.gossipNode.PeerCount()
	}

	return StatusResult{
		ChainID:        s.genesis.ChainID,
		Validator:      s.self.String(),
		Round:          st.Round,
		Phase:          st.Phase.String(),
		Epoch:          st.Epoch,
		Head:           st.Head.String(),
		FinalizedHash:  st.FinalizedHash.String(),
		FinalizedRound: st.FinalizedRound,
		PoolCount:      s.pool.Count(),
		PeerCount:      peers,
	}, nil
}

// handleChainGetBlock returns a persisted block by hash, with its
// certifying QC when one has been stored.
func (s *Server) handleChainGetBlock(req *Request) (interface{}, *Error) {
	var params HashParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	hash, err := types.HexToHash(params.Hash)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid hash: %v", err)}
	}

	bn, found, err := s.cstore.GetBlock(hash)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if !found {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block %s not found", params.Hash)}
	}

	result := BlockResult{Block: bn}
	if qc, ok, err := s.cstore.GetQC(bn.Round); err == nil && ok && qc.BlockHash == bn.Hash {
		result.QC = qc
	}
	return result, nil
}

// handleChainGetQC returns the stored quorum certificate for a round.
func (s *Server) handleChainGetQC(req *Request) (interface{}, *Error) {
	var params RoundParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	qc, found, err := s.cstore.GetQC(params.Round)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if !found {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no QC for round %d", params.Round)}
	}
	return qc, nil
}

// handleChainGetFinalized returns the durable finality pointer.
func (s *Server) handleChainGetFinalized(req *Request) (interface{}, *Error) {
	hash, round, err := s.cstore.Finalized()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return FinalizedResult{Hash: hash.String(), Round: round}, nil
}

// handleStakeGetValidators returns the active epoch snapshot.
func (s *Server) handleStakeGetValidators(req *Request) (interface{}, *Error) {
	snap := s.registry.Current()

	validators := make([]ValidatorResult, 0, snap.Len())
	for _, v := range snap.Validators() {
		validators = append(validators, ValidatorResult{
			ID:     v.ID.String(),
			Weight: v.Weight,
		})
	}

	return ValidatorSetResult{
		Epoch:       snap.Epoch(),
		TotalWeight: snap.TotalWeight(),
		Validators:  validators,
	}, nil
}

// handleStakeGetValidator returns one validator's stake weight and
// in-memory liveness statistics.
func (s *Server) handleStakeGetValidator(req *Request) (interface{}, *Error) {
	var params ValidatorParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	id, err := types.ParseValidatorID(params.ID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	snap := s.registry.Current()
	v, ok := snap.Lookup(id)
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("validator %s not in epoch %d", params.ID, snap.Epoch())}
	}

	result := ValidatorResult{
		ID:     v.ID.String(),
		Weight: v.Weight,
	}
	if stats, ok := s.engine.Tracker().Stats(id); ok {
		result.LastSeenRound = stats.LastSeenRound
		result.Proposed = stats.Proposed
		result.Voted = stats.Voted
		result.Missed = stats.Missed
	}
	return result, nil
}

// handlePoolSubmit accepts a hex-encoded payload item into the local pool.
func (s *Server) handlePoolSubmit(req *Request) (interface{}, *Error) {
	var params SubmitParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	data, err := hex.DecodeString(params.Data)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid data hex: %v", err)}
	}

	hash, err := s.pool.Add(data)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("pool rejected item: %v", err)}
	}

	s.logger.Debug().Str("hash", hash.Short()).Int("size", len(data)).Msg("Item accepted via RPC")
	return SubmitResult{Hash: hash.String()}, nil
}

// handlePoolGetInfo reports the pending item count.
func (s *Server) handlePoolGetInfo(req *Request) (interface{}, *Error) {
	return PoolInfoResult{Count: s.pool.Count()}, nil
}

// handleEvidenceList returns all equivocation evidence recorded since start.
func (s *Server) handleEvidenceList(req *Request) (interface{}, *Error) {
	ev := s.engine.Evidence().Evidence()
	return EvidenceListResult{Count: len(ev), Evidence: ev}, nil
}

// handleNetGetPeerInfo reports gossip connectivity.
func (s *Server) handleNetGetPeerInfo(req *Request) (interface{}, *Error) {
	if s.gossipNode == nil {
		return PeerInfoResult{PeerCount: 0, Addrs: nil}, nil
	}
	return PeerInfoResult{
		PeerCount: s.gossipNode.PeerCount(),
		Addrs:     s.gossipNode.Addrs(),
	}, nil
}
