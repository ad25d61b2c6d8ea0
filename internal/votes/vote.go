// Package votes collects and verifies round votes and aggregates them into
// quorum certificates.
package votes

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// Vote is a validator's signed endorsement of one block hash for one round.
// A validator casting two conflicting votes in the same round is
// equivocation: detectable misbehavior that is recorded as evidence.
type Vote struct {
	Validator types.ValidatorID `json:"validator"`
	Round     uint64            `json:"round"`
	BlockHash types.Hash        `json:"block_hash"`
	Signature []byte            `json:"signature"`
}

// SigningHash returns the BLAKE3 digest a vote signature commits to:
// BLAKE3(round || block_hash || validator).
func (v *Vote) SigningHash() types.Hash {
	buf := make([]byte, 0, 8+types.HashSize+types.ValidatorIDSize)
	buf = binary.BigEndian.AppendUint64(buf, v.Round)
	buf = append(buf, v.BlockHash[:]...)
	buf = append(buf, v.Validator[:]...)
	return crypto.Hash(buf)
}

// NewVote builds and signs a vote with the validator's signing key.
func NewVote(signer crypto.Signer, validator types.ValidatorID, round uint64, blockHash types.Hash) (*Vote, error) {
	v := &Vote{
		Validator: validator,
		Round:     round,
		BlockHash: blockHash,
	}
	digest := v.SigningHash()
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign vote: %w", err)
	}
	v.Signature = sig
	return v, nil
}

// VerifySignature checks the vote signature against the voter's compressed
// public key. Returns false on any malformed input.
func (v *Vote) VerifySignature(pubKey []byte) bool {
	digest := v.SigningHash()
	return crypto.VerifySignature(digest[:], v.Signature, pubKey)
}
