package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string
	Genesis string

	// P2P
	P2P      bool
	P2PPort  int
	Peers    string
	MaxPeers int

	// RPC
	RPC     bool
	RPCPort int

	// Keystore
	KeyFile string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetP2P     bool
	SetRPC     bool
	SetLogJSON bool
}

// ParseFlags parses command-line arguments.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingbft", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.BoolVar(&f.Help, "help", false, "Show help")
	fs.BoolVar(&f.Version, "version", false, "Show version")

	fs.StringVar(&f.Network, "network", "", "Network: mainnet or testnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory")
	fs.StringVar(&f.Config, "config", "", "Configuration file path")
	fs.StringVar(&f.Genesis, "genesis", "", "Genesis file path")

	fs.BoolVar(&f.P2P, "p2p", true, "Enable P2P networking")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Peers, "peers", "", "Comma-separated static peer multiaddrs")
	fs.IntVar(&f.MaxPeers, "max-peers", 0, "Maximum peer count")

	fs.BoolVar(&f.RPC, "rpc", true, "Enable JSON-RPC API")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "JSON-RPC listen port")

	fs.StringVar(&f.KeyFile, "key-file", "", "Encrypted validator key file")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path (default stderr)")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Log in JSON format")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Record which bool flags the operator set explicitly so defaults
	// are only overridden on purpose.
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "p2p":
			f.SetP2P = true
		case "rpc":
			f.SetRPC = true
		case "log-json":
			f.SetLogJSON = true
		}
	})

	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags overlays command-line flags onto a Config.
// Flags win over file configuration and defaults.
func ApplyFlags(cfg *Config, f *Flags) error {
	if f.Network != "" {
		switch NetworkType(f.Network) {
		case Mainnet, Testnet:
			cfg.Network = NetworkType(f.Network)
		default:
			return fmt.Errorf("unknown network %q", f.Network)
		}
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Peers != "" {
		cfg.P2P.Peers = splitList(f.Peers)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}

	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}

	if f.KeyFile != "" {
		cfg.Keystore.File = f.KeyFile
	}

	if f.LogLevel != "" {
		cfg.Log.Level = strings.ToLower(f.LogLevel)
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}
