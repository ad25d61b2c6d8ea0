package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ConsensusDataDir returns the directory holding the consensus database.
func (c *Config) ConsensusDataDir() string {
	return filepath.Join(c.DataDir, "consensus")
}

// KeystoreDir returns the default directory for encrypted validator keys.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// LogsDir returns the directory for log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingbft.conf")
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ConsensusDataDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}

// WriteDefaultConfig writes a commented default config file for the network.
func WriteDefaultConfig(path string, network NetworkType) error {
	defaults := Default(network)
	content := `# Klingbft Node Configuration
#
# This file contains NODE settings only.
# Protocol rules (epoch length, sortition parameters, validator set) live
# in the genesis file and cannot be changed without a hard fork.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingbft)
# datadir = ~/.klingbft

# ============================================================================
# P2P Network
# ============================================================================

p2p.enabled = true
p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(defaults.P2P.Port) + `
p2p.max_peers = 50

# Static peers (comma-separated libp2p multiaddrs)
# p2p.peers = /ip4/203.0.113.1/tcp/30403/p2p/12D3KooW...

# ============================================================================
# JSON-RPC API
# ============================================================================

rpc.enabled = true
rpc.listen = 127.0.0.1
rpc.port = ` + strconv.Itoa(defaults.RPC.Port) + `

# ============================================================================
# Consensus Timing
# ============================================================================

# Full round budget; expiry without quorum advances to the next round.
consensus.round_timeout = ` + defaults.Consensus.RoundTimeout.String() + `

# Proposal-collection window; must be shorter than the round timeout.
consensus.propose_timeout = ` + defaults.Consensus.ProposeTimeout.String() + `

# ============================================================================
# Validator Keystore
# ============================================================================

# Encrypted validator key file (create one with klingbft-cli keygen)
keystore.file = validator.key

# ============================================================================
# Logging
# ============================================================================

log.level = info
log.json = false
# log.file = klingbft.log
`
	return os.WriteFile(path, []byte(content), 0644)
}

// PrintUsage prints daemon command-line help.
func PrintUsage() {
	usage := `Klingbft consensus daemon

Usage:
  klingbftd [options]

Core Options:
  --network       Network to join: mainnet or testnet (default: mainnet)
  --datadir       Data directory (default: ~/.klingbft)
  --config        Config file path (default: <datadir>/klingbft.conf)
  --genesis       Genesis file path (required)

P2P Options:
  --p2p           Enable P2P networking (default: true)
  --p2p-port      P2P listen port (mainnet: 30403, testnet: 30404)
  --peers         Static peers as comma-separated libp2p multiaddrs
  --max-peers     Maximum number of peers (default: 50)

RPC Options:
  --rpc           Enable JSON-RPC API (default: true)
  --rpc-port      JSON-RPC port (mainnet: 8645, testnet: 8646)

Keystore Options:
  --key-file      Encrypted validator key file (default: <datadir>/validator.key)

Logging Options:
  --log-level     Log level: trace, debug, info, warn, error (default: info)
  --log-file      Log file path (default: stderr)
  --log-json      Output logs as JSON

Examples:
  # Start a mainnet validator
  klingbftd --genesis=genesis.json --key-file=~/.klingbft/validator.key

  # Start a testnet validator with static peers
  klingbftd --network=testnet --genesis=genesis.json \
      --peers=/ip4/203.0.113.1/tcp/30404/p2p/12D3KooW...

Note:
  The validator key passphrase is read from the KLINGBFT_PASSWORD
  environment variable, or prompted interactively on a terminal. Data
  directories are created automatically on first start.
`
	fmt.Print(usage)
}

// Load builds the daemon configuration with the following precedence:
// defaults, then config file, then command-line flags.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}

	if flags.Help {
		PrintUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingbftd version 0.1.0")
		os.Exit(0)
	}

	// Network determines which defaults apply.
	network := Mainnet
	if NetworkType(flags.Network) == Testnet {
		network = Testnet
	}
	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}
