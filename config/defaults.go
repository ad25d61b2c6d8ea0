package config

import "time"

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Consensus: ConsensusConfig{
			RoundTimeout:         4 * time.Second,
			ProposeTimeout:       1 * time.Second,
			MaxAncestorFetch:     16,
			MissedRoundThreshold: 32,
		},
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       30403,
			MaxPeers:   50,
			// Peers are static multiaddrs, e.g.:
			//   "/ip4/203.0.113.1/tcp/30403/p2p/12D3KooW..."
			Peers: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8645,
		},
		Keystore: KeystoreConfig{
			File: "validator.key",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30404
	cfg.RPC.Port = 8646
	cfg.Consensus.RoundTimeout = 2 * time.Second
	cfg.Consensus.ProposeTimeout = 500 * time.Millisecond
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
