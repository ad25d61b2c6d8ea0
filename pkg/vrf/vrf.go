// Package vrf implements a verifiable random function on top of BLS
// signatures over the bn256 pairing curve.
//
// A proof is the BLS signature over the VRF input; the pseudorandom output
// is the BLAKE3 hash of that signature. Any party holding the prover's
// public key can confirm the output was computed honestly, and the output
// cannot be predicted before the prover reveals the proof.
package vrf

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// VRF errors.
var (
	ErrBadKey = errors.New("malformed vrf key")
	ErrDecode = errors.New("malformed vrf public key encoding")
)

// Purpose tags are mixed into the VRF input so a proof generated for one
// role cannot be replayed for another.
type Purpose string

const (
	PurposeLeader    Purpose = "leader"
	PurposeCommittee Purpose = "committee"
)

// SeedSize is the length of a keypair seed in bytes.
const SeedSize = 32

var suite = bn256.NewSuite()

// Proof is a VRF evaluation: a fixed-width pseudorandom output plus the
// cryptographic proof that it was derived from the prover's secret key.
type Proof struct {
	Output types.Hash `json:"output"`
	Proof  []byte     `json:"proof"`
}

// Keypair holds a validator's VRF secret and public key.
type Keypair struct {
	secret kyber.Scalar
	public kyber.Point
}

// GenerateKeypair creates a new random VRF keypair.
func GenerateKeypair() *Keypair {
	return generateKeypair(random.New())
}

func generateKeypair(stream cipher.Stream) *Keypair {
	secret, public := bls.NewKeyPair(suite, stream)
	return &Keypair{secret: secret, public: public}
}

// KeypairFromSeed derives a keypair deterministically from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrBadKey, SeedSize, len(seed))
	}
	secret := suite.G2().Scalar().SetBytes(seed)
	public := suite.G2().Point().Mul(secret, nil)
	return &Keypair{secret: secret, public: public}, nil
}

// PublicKey returns the marshaled public key.
func (k *Keypair) PublicKey() []byte {
	b, err := k.public.MarshalBinary()
	if err != nil {
		// Marshaling a valid curve point cannot fail.
		panic(fmt.Sprintf("vrf: marshal public key: %v", err))
	}
	return b
}

// Prove evaluates the VRF for (seed, round, purpose) and returns the proof.
// The result is deterministic for a given key and input.
func (k *Keypair) Prove(seed types.Hash, round uint64, purpose Purpose) (*Proof, error) {
	if k.secret == nil {
		return nil, fmt.Errorf("%w: nil secret", ErrBadKey)
	}
	input := buildInput(seed, round, purpose)
	sig, err := bls.Sign(suite, k.secret, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return &Proof{
		Output: crypto.Hash(sig),
		Proof:  sig,
	}, nil
}

// DecodePublicKey parses a marshaled VRF public key.
// Returns ErrDecode for malformed encodings.
func DecodePublicKey(b []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p, nil
}

// Verify checks a VRF proof against a public key and input. It is a pure
// function: any forged or malformed proof yields false, never an error;
// failed verification is an expected, non-fatal outcome.
func Verify(public kyber.Point, seed types.Hash, round uint64, purpose Purpose, p *Proof) bool {
	if public == nil || p == nil || len(p.Proof) == 0 {
		return false
	}
	input := buildInput(seed, round, purpose)
	if err := bls.Verify(suite, public, input, p.Proof); err != nil {
		return false
	}
	// The output must be the hash of the proof, or the prover lied about it.
	return crypto.Hash(p.Proof) == p.Output
}

// VerifyBytes is Verify with an undecoded public key. It returns ErrDecode
// when the key bytes are malformed, distinguishing encoding failures from
// ordinary verification failures.
func VerifyBytes(publicKey []byte, seed types.Hash, round uint64, purpose Purpose, p *Proof) (bool, error) {
	public, err := DecodePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	return Verify(public, seed, round, purpose, p), nil
}

// buildInput constructs the VRF input: BLAKE3(purpose || seed || round).
func buildInput(seed types.Hash, round uint64, purpose Purpose) []byte {
	buf := make([]byte, 0, len(purpose)+types.HashSize+8)
	buf = append(buf, purpose...)
	buf = append(buf, seed[:]...)
	buf = binary.BigEndian.AppendUint64(buf, round)
	h := crypto.Hash(buf)
	return h[:]
}
