package vrf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

func testSeed() types.Hash {
	return crypto.Hash([]byte("vrf test seed"))
}

func TestProveVerifyRoundTrip(t *testing.T) {
	kp := GenerateKeypair()
	seed := testSeed()

	proof, err := kp.Prove(seed, 7, PurposeLeader)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Proof)

	pub, err := DecodePublicKey(kp.PublicKey())
	require.NoError(t, err)
	require.True(t, Verify(pub, seed, 7, PurposeLeader, proof))
}

func TestVerifyRejectsMutatedProof(t *testing.T) {
	kp := GenerateKeypair()
	seed := testSeed()

	proof, err := kp.Prove(seed, 3, PurposeCommittee)
	require.NoError(t, err)

	pub, err := DecodePublicKey(kp.PublicKey())
	require.NoError(t, err)

	// Flipping any single byte of the proof must fail verification.
	for i := range proof.Proof {
		mutated := &Proof{Output: proof.Output, Proof: append([]byte(nil), proof.Proof...)}
		mutated.Proof[i] ^= 0x01
		require.False(t, Verify(pub, seed, 3, PurposeCommittee, mutated), "byte %d", i)
	}

	// Same for the claimed output.
	for i := range proof.Output {
		mutated := &Proof{Output: proof.Output, Proof: proof.Proof}
		mutated.Output[i] ^= 0x01
		require.False(t, Verify(pub, seed, 3, PurposeCommittee, mutated), "output byte %d", i)
	}
}

func TestVerifyRejectsWrongInput(t *testing.T) {
	kp := GenerateKeypair()
	seed := testSeed()

	proof, err := kp.Prove(seed, 5, PurposeLeader)
	require.NoError(t, err)

	pub, err := DecodePublicKey(kp.PublicKey())
	require.NoError(t, err)

	require.False(t, Verify(pub, seed, 6, PurposeLeader, proof), "different round")
	require.False(t, Verify(pub, seed, 5, PurposeCommittee, proof), "different purpose")

	other := crypto.Hash([]byte("other seed"))
	require.False(t, Verify(pub, other, 5, PurposeLeader, proof), "different seed")
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp := GenerateKeypair()
	other := GenerateKeypair()
	seed := testSeed()

	proof, err := kp.Prove(seed, 1, PurposeLeader)
	require.NoError(t, err)

	pub, err := DecodePublicKey(other.PublicKey())
	require.NoError(t, err)
	require.False(t, Verify(pub, seed, 1, PurposeLeader, proof))
}

func TestProveDeterministic(t *testing.T) {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	kp1, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := KeypairFromSeed(seed)
	require.NoError(t, err)

	input := testSeed()
	p1, err := kp1.Prove(input, 9, PurposeLeader)
	require.NoError(t, err)
	p2, err := kp2.Prove(input, 9, PurposeLeader)
	require.NoError(t, err)

	require.Equal(t, p1.Output, p2.Output)
	require.Equal(t, p1.Proof, p2.Proof)
}

func TestKeypairFromSeedBadLength(t *testing.T) {
	_, err := KeypairFromSeed([]byte("short"))
	require.ErrorIs(t, err, ErrBadKey)
}

func TestDecodePublicKeyMalformed(t *testing.T) {
	_, err := DecodePublicKey([]byte{0xde, 0xad, 0xbe, 0xef})
	require.ErrorIs(t, err, ErrDecode)

	ok, err := VerifyBytes([]byte{0x01}, testSeed(), 1, PurposeLeader, &Proof{Proof: []byte{0x02}})
	require.ErrorIs(t, err, ErrDecode)
	require.False(t, ok)
}
