// Package crypto provides cryptographic primitives for the consensus core.
package crypto

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of two hashes.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// HashWithRound hashes a seed together with a round number.
// Used to advance the round seed when no VRF output is available
// (timed-out rounds) so the chain of seeds never stalls.
func HashWithRound(seed types.Hash, round uint64) types.Hash {
	var buf [types.HashSize + 8]byte
	copy(buf[:types.HashSize], seed[:])
	binary.LittleEndian.PutUint64(buf[types.HashSize:], round)
	return Hash(buf[:])
}

// ValidatorIDFromPubKey derives a validator identifier from a compressed
// signing public key. ID = BLAKE3(compressed_pubkey)[:20].
func ValidatorIDFromPubKey(pubKey []byte) types.ValidatorID {
	h := Hash(pubKey)
	var id types.ValidatorID
	copy(id[:], h[:types.ValidatorIDSize])
	return id
}
