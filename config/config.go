// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Consensus timing (operational, protocol rules live in Genesis)
	Consensus ConsensusConfig

	// P2P networking
	P2P P2PConfig

	// JSON-RPC API
	RPC RPCConfig

	// Validator keystore
	Keystore KeystoreConfig

	// Logging
	Log LogConfig
}

// ConsensusConfig holds per-node consensus timing and buffering knobs.
// Timeouts affect liveness only, never safety.
type ConsensusConfig struct {
	// RoundTimeout bounds a full round. Expiry with no quorum moves the
	// state machine to the next round.
	RoundTimeout time.Duration `conf:"consensus.round_timeout"`

	// ProposeTimeout bounds the proposal-collection window at the start of
	// a round. Must be shorter than RoundTimeout.
	ProposeTimeout time.Duration `conf:"consensus.propose_timeout"`

	// MaxAncestorFetch caps how many missing ancestors are pulled from the
	// store before an orphaned proposal is dropped.
	MaxAncestorFetch int `conf:"consensus.max_ancestor_fetch"`

	// MissedRoundThreshold is the number of consecutive missed votes after
	// which an offline offence is recorded. 0 disables miss tracking.
	MissedRoundThreshold int `conf:"consensus.missed_round_threshold"`
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Peers      []string `conf:"p2p.peers"` // Static peer multiaddrs
	MaxPeers   int      `conf:"p2p.max_peers"`
}

// RPCConfig holds JSON-RPC API settings.
type RPCConfig struct {
	Enabled    bool   `conf:"rpc.enabled"`
	ListenAddr string `conf:"rpc.listen"`
	Port       int    `conf:"rpc.port"`
}

// KeystoreConfig holds validator key storage settings.
type KeystoreConfig struct {
	File string `conf:"keystore.file"` // Path to the encrypted key file
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	JSON  bool   `conf:"log.json"`
	File  string `conf:"log.file"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingbft"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingbft")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Klingbft")
	default:
		return filepath.Join(home, ".klingbft")
	}
}
