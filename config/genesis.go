package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Genesis holds the genesis configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`

	// Seed is the round-0 sortition seed, hex-encoded 32 bytes.
	Seed string `json:"seed"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`

	// Initial validator set with stake weights.
	Validators []GenesisValidator `json:"validators"`
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	// EpochLength is the number of rounds a stake snapshot stays active.
	EpochLength uint64 `json:"epoch_length"`

	// ExpectedLeaders tunes the sortition threshold so that on average
	// this many validators win the proposer lottery per round.
	ExpectedLeaders uint64 `json:"expected_leaders"`

	// CommitteeTarget is the expected voting-committee size per round.
	// Values at or above the validator count make every validator a voter.
	CommitteeTarget uint64 `json:"committee_target"`
}

// GenesisValidator is one entry of the initial validator set.
// Keys are hex-encoded: VRFPub is a BLS public key on G2, SigPub a
// compressed secp256k1 point.
type GenesisValidator struct {
	ID     string `json:"id"`
	Weight uint64 `json:"weight"`
	VRFPub string `json:"vrf_pub"`
	SigPub string `json:"sig_pub"`
}

// SeedHash decodes the genesis seed.
func (g *Genesis) SeedHash() (types.Hash, error) {
	return types.HexToHash(g.Seed)
}

// DecodeID decodes the validator's hex ID.
func (v *GenesisValidator) DecodeID() (types.ValidatorID, error) {
	return types.ParseValidatorID(v.ID)
}

// DecodeKeys decodes the validator's hex public keys.
func (v *GenesisValidator) DecodeKeys() (vrfPub, sigPub []byte, err error) {
	vrfPub, err = hex.DecodeString(v.VRFPub)
	if err != nil {
		return nil, nil, fmt.Errorf("vrf_pub: %w", err)
	}
	sigPub, err = hex.DecodeString(v.SigPub)
	if err != nil {
		return nil, nil, fmt.Errorf("sig_pub: %w", err)
	}
	return vrfPub, sigPub, nil
}

// ValidateGenesis checks protocol rules for obvious mistakes.
func ValidateGenesis(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("genesis is nil")
	}
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is empty")
	}
	if _, err := g.SeedHash(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if g.Protocol.EpochLength == 0 {
		return fmt.Errorf("epoch_length must be positive")
	}
	if g.Protocol.ExpectedLeaders == 0 {
		return fmt.Errorf("expected_leaders must be positive")
	}
	if g.Protocol.CommitteeTarget == 0 {
		return fmt.Errorf("committee_target must be positive")
	}
	if len(g.Validators) == 0 {
		return fmt.Errorf("validator set is empty")
	}
	seen := make(map[string]struct{}, len(g.Validators))
	for i, v := range g.Validators {
		if _, err := v.DecodeID(); err != nil {
			return fmt.Errorf("validators[%d].id: %w", i, err)
		}
		if v.Weight == 0 {
			return fmt.Errorf("validators[%d] has zero weight", i)
		}
		if _, _, err := v.DecodeKeys(); err != nil {
			return fmt.Errorf("validators[%d]: %w", i, err)
		}
		if _, ok := seen[v.ID]; ok {
			return fmt.Errorf("duplicate validator ID %q", v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := ValidateGenesis(&g); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}
