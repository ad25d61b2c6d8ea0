package rpc

import (
	"github.com/Klingon-tech/klingnet-bft/internal/forkchoice"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single block hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// RoundParam is used by endpoints that take a round number.
type RoundParam struct {
	Round uint64 `json:"round"`
}

// ValidatorParam is used by stake_getValidator.
type ValidatorParam struct {
	ID string `json:"id"`
}

// SubmitParam is used by pool_submit. Data is hex-encoded.
type SubmitParam struct {
	Data string `json:"data"`
}

// ── Result types ────────────────────────────────────────────────────────

// StatusResult reports the engine's round state and finality pointer.
type StatusResult struct {
	ChainID        string `json:"chain_id"`
	Validator      string `json:"validator"`
	Round          uint64 `json:"round"`
	Phase          string `json:"phase"`
	Epoch          uint64 `json:"epoch"`
	Head           string `json:"head"`
	FinalizedHash  string `json:"finalized_hash"`
	FinalizedRound uint64 `json:"finalized_round"`
	PoolCount      int    `json:"pool_count"`
	PeerCount      int    `json:"peer_count"`
}

// BlockResult wraps a stored block for RPC responses.
type BlockResult struct {
	Block forkchoice.BlockNode `json:"block"`
	QC    *votes.QC            `json:"qc,omitempty"`
}

// FinalizedResult is the durable finality pointer.
type FinalizedResult struct {
	Hash  string `json:"hash"`
	Round uint64 `json:"round"`
}

// ValidatorResult is one entry of the active stake snapshot.
type ValidatorResult struct {
	ID     string `json:"id"`
	Weight uint64 `json:"weight"`

	// Liveness stats, present on stake_getValidator only.
	LastSeenRound uint64 `json:"last_seen_round,omitempty"`
	Proposed      uint64 `json:"proposed,omitempty"`
	Voted         uint64 `json:"voted,omitempty"`
	Missed        uint64 `json:"missed,omitempty"`
}

// ValidatorSetResult is the active snapshot with totals.
type ValidatorSetResult struct {
	Epoch       uint64            `json:"epoch"`
	TotalWeight uint64            `json:"total_weight"`
	Validators  []ValidatorResult `json:"validators"`
}

// SubmitResult is the hash a submitted payload item is tracked under.
type SubmitResult struct {
	Hash string `json:"hash"`
}

// PoolInfoResult reports pending item counts.
type PoolInfoResult struct {
	Count int `json:"count"`
}

// EvidenceListResult holds recorded equivocation evidence.
type EvidenceListResult struct {
	Count    int                  `json:"count"`
	Evidence []votes.Equivocation `json:"evidence"`
}

// PeerInfoResult reports gossip connectivity.
type PeerInfoResult struct {
	PeerCount int      `json:"peer_count"`
	Addrs     []string `json:"addrs"`
}
