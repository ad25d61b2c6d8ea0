package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.Consensus.RoundTimeout <= 0 {
		return fmt.Errorf("consensus.round_timeout must be positive")
	}
	if cfg.Consensus.ProposeTimeout <= 0 {
		return fmt.Errorf("consensus.propose_timeout must be positive")
	}
	if cfg.Consensus.ProposeTimeout >= cfg.Consensus.RoundTimeout {
		return fmt.Errorf("consensus.propose_timeout must be shorter than consensus.round_timeout")
	}
	if cfg.Consensus.MaxAncestorFetch < 0 {
		return fmt.Errorf("consensus.max_ancestor_fetch must not be negative")
	}
	if cfg.Consensus.MissedRoundThreshold < 0 {
		return fmt.Errorf("consensus.missed_round_threshold must not be negative")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.max_peers must not be negative")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	return nil
}
