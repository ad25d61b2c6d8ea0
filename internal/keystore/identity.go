// Package keystore manages encrypted validator identities on disk.
//
// A validator identity is a 24-word BIP-39 mnemonic. Both consensus
// keys are derived deterministically from it: the Schnorr signing key
// and the VRF keypair. Backing up the mnemonic backs up the validator.
package keystore

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/Klingon-tech/klingnet-bft/pkg/crypto"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
	"github.com/Klingon-tech/klingnet-bft/pkg/vrf"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// SeedSize is the length of a BIP-39 derived seed in bytes (512 bits).
const SeedSize = 64

// BIP-44-style derivation path constants.
// Signing key: m/44'/7667'/0'/0, VRF key: m/44'/7667'/0'/1.
const (
	purposeIndex = bip32.FirstHardenedChild + 44
	coinTypeBFT  = bip32.FirstHardenedChild + 7667
	accountIndex = bip32.FirstHardenedChild + 0

	childSigning = 0
	childVRF     = 1
)

// Identity bundles the keys a validator needs to participate in
// consensus, all derived from one seed.
type Identity struct {
	Signer *crypto.PrivateKey
	VRF    *vrf.Keypair
	ID     types.ValidatorID
}

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (correct word count, valid words, valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives a 512-bit seed from a mnemonic and optional
// passphrase using PBKDF2-SHA512 as specified in BIP-39.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// IdentityFromSeed derives the validator identity from a 64-byte seed.
// The validator ID is derived from the signing public key.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	account, err := derivePath(master, purposeIndex, coinTypeBFT, accountIndex)
	if err != nil {
		return nil, err
	}

	signChild, err := derivePath(account, childSigning)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.PrivateKeyFromBytes(privateKeyBytes(signChild))
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	vrfChild, err := derivePath(account, childVRF)
	if err != nil {
		return nil, err
	}
	// The bn256 scalar wants 32 uniform bytes, not a secp256k1 scalar,
	// so hash the derived key material first.
	vrfSeed := crypto.Hash(privateKeyBytes(vrfChild))
	vrfKey, err := vrf.KeypairFromSeed(vrfSeed[:])
	if err != nil {
		return nil, fmt.Errorf("vrf key: %w", err)
	}

	return &Identity{
		Signer: signer,
		VRF:    vrfKey,
		ID:     crypto.ValidatorIDFromPubKey(signer.PublicKey()),
	}, nil
}

// IdentityFromMnemonic is shorthand for SeedFromMnemonic + IdentityFromSeed.
func IdentityFromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return IdentityFromSeed(seed)
}

func derivePath(key *bip32.Key, indices ...uint32) (*bip32.Key, error) {
	current := key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return current, nil
}

// privateKeyBytes returns the raw 32-byte private key of a bip32 key.
func privateKeyBytes(key *bip32.Key) []byte {
	raw := key.Key
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}
