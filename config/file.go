package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := applyValue(cfg, key, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func applyValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	case "consensus.round_timeout":
		return parseDuration(value, &cfg.Consensus.RoundTimeout)
	case "consensus.propose_timeout":
		return parseDuration(value, &cfg.Consensus.ProposeTimeout)
	case "consensus.max_ancestor_fetch":
		return parseInt(value, &cfg.Consensus.MaxAncestorFetch)
	case "consensus.missed_round_threshold":
		return parseInt(value, &cfg.Consensus.MissedRoundThreshold)

	case "p2p.enabled":
		return parseBool(value, &cfg.P2P.Enabled)
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		return parseInt(value, &cfg.P2P.Port)
	case "p2p.peers":
		cfg.P2P.Peers = splitList(value)
	case "p2p.max_peers":
		return parseInt(value, &cfg.P2P.MaxPeers)

	case "rpc.enabled":
		return parseBool(value, &cfg.RPC.Enabled)
	case "rpc.listen":
		cfg.RPC.ListenAddr = value
	case "rpc.port":
		return parseInt(value, &cfg.RPC.Port)

	case "keystore.file":
		cfg.Keystore.File = value

	case "log.level":
		cfg.Log.Level = value
	case "log.json":
		return parseBool(value, &cfg.Log.JSON)
	case "log.file":
		cfg.Log.File = value

	default:
		return fmt.Errorf("unknown configuration key")
	}
	return nil
}

func parseBool(value string, dst *bool) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", value)
	}
	*dst = b
	return nil
}

func parseInt(value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer %q", value)
	}
	*dst = n
	return nil
}

func parseDuration(value string, dst *time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value)
	}
	*dst = d
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
