package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Klingon-tech/klingnet-bft/internal/forkchoice"
	"github.com/Klingon-tech/klingnet-bft/internal/votes"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Key layout within the chain namespace.
var (
	prefixBlock    = []byte("b/")
	prefixQC       = []byte("q/")
	prefixEvidence = []byte("e/")
	keyFinal       = []byte("f/pointer")
)

// blockCacheSize bounds the decoded-block LRU cache.
const blockCacheSize = 512

// ConsensusStore persists blocks, quorum certificates, the finality
// pointer, and equivocation evidence under a per-chain namespace.
type ConsensusStore struct {
	db    DB
	cache *lru.Cache
}

// NewConsensusStore wraps db in the chain's namespace. The same database
// can back multiple chains with distinct IDs.
func NewConsensusStore(db DB, chainID string) (*ConsensusStore, error) {
	cache, err := lru.New(blockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}
	return &ConsensusStore{
		db:    NewPrefixDB(db, []byte("c/"+chainID+"/")),
		cache: cache,
	}, nil
}

func blockKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash[:]...)
}

func qcKey(round uint64) []byte {
	key := append([]byte{}, prefixQC...)
	return binary.BigEndian.AppendUint64(key, round)
}

func evidenceKey(e *votes.Equivocation) []byte {
	key := append([]byte{}, prefixEvidence...)
	key = binary.BigEndian.AppendUint64(key, e.Round)
	return append(key, e.Offender[:]...)
}

// PutBlock persists a block node.
func (s *ConsensusStore) PutBlock(bn forkchoice.BlockNode) error {
	data, err := json.Marshal(bn)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", bn.Hash, err)
	}
	if err := s.db.Put(blockKey(bn.Hash), data); err != nil {
		return fmt.Errorf("store block %s: %w", bn.Hash, err)
	}
	s.cache.Add(bn.Hash, bn)
	return nil
}

// GetBlock loads a block node. The second return is false when the block
// is unknown.
func (s *ConsensusStore) GetBlock(hash types.Hash) (forkchoice.BlockNode, bool, error) {
	if v, ok := s.cache.Get(hash); ok {
		return v.(forkchoice.BlockNode), true, nil
	}

	data, err := s.db.Get(blockKey(hash))
	if errors.Is(err, ErrNotFound) {
		return forkchoice.BlockNode{}, false, nil
	}
	if err != nil {
		return forkchoice.BlockNode{}, false, fmt.Errorf("load block %s: %w", hash, err)
	}

	var bn forkchoice.BlockNode
	if err := json.Unmarshal(data, &bn); err != nil {
		return forkchoice.BlockNode{}, false, fmt.Errorf("decode block %s: %w", hash, err)
	}
	s.cache.Add(hash, bn)
	return bn, true, nil
}

// PersistQC stores a quorum certificate keyed by round.
func (s *ConsensusStore) PersistQC(qc *votes.QC) error {
	data, err := json.Marshal(qc)
	if err != nil {
		return fmt.Errorf("encode qc round %d: %w", qc.Round, err)
	}
	if err := s.db.Put(qcKey(qc.Round), data); err != nil {
		return fmt.Errorf("store qc round %d: %w", qc.Round, err)
	}
	return nil
}

// GetQC loads the quorum certificate for a round, if one was persisted.
func (s *ConsensusStore) GetQC(round uint64) (*votes.QC, bool, error) {
	data, err := s.db.Get(qcKey(round))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load qc round %d: %w", round, err)
	}
	var qc votes.QC
	if err := json.Unmarshal(data, &qc); err != nil {
		return nil, false, fmt.Errorf("decode qc round %d: %w", round, err)
	}
	return &qc, true, nil
}

// SetFinalized advances the durable finality pointer.
func (s *ConsensusStore) SetFinalized(hash types.Hash, round uint64) error {
	value := make([]byte, 0, types.HashSize+8)
	value = append(value, hash[:]...)
	value = binary.BigEndian.AppendUint64(value, round)
	if err := s.db.Put(keyFinal, value); err != nil {
		return fmt.Errorf("store finality pointer: %w", err)
	}
	return nil
}

// Finalized returns the durable finality pointer; zero values before the
// first block finalizes.
func (s *ConsensusStore) Finalized() (types.Hash, uint64, error) {
	data, err := s.db.Get(keyFinal)
	if errors.Is(err, ErrNotFound) {
		return types.Hash{}, 0, nil
	}
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("load finality pointer: %w", err)
	}
	if len(data) != types.HashSize+8 {
		return types.Hash{}, 0, fmt.Errorf("corrupt finality pointer: %d bytes", len(data))
	}
	var hash types.Hash
	copy(hash[:], data[:types.HashSize])
	return hash, binary.BigEndian.Uint64(data[types.HashSize:]), nil
}

// FinalizedHeight returns the round of the last finalized block.
func (s *ConsensusStore) FinalizedHeight() (uint64, error) {
	_, round, err := s.Finalized()
	return round, err
}

// PersistEvidence stores an equivocation record for external slashing.
func (s *ConsensusStore) PersistEvidence(e *votes.Equivocation) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	if err := s.db.Put(evidenceKey(e), data); err != nil {
		return fmt.Errorf("store evidence: %w", err)
	}
	return nil
}

// Evidence returns all persisted equivocation records.
func (s *ConsensusStore) Evidence() ([]*votes.Equivocation, error) {
	var out []*votes.Equivocation
	err := s.db.ForEach(prefixEvidence, func(_, value []byte) error {
		var e votes.Equivocation
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode evidence: %w", err)
		}
		out = append(out, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
