package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	Config  string

	// Hub RPC
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Node endpoint override for the selected network
	NodeURL string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("klingnet-hub", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Default network (mainnet, testnet, devnet, simnet)")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Hub RPC
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "Hub command server listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "Hub command server listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Comma-separated allowed client IPs/CIDRs")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Comma-separated allowed CORS origins")

	// Node endpoint
	fs.StringVar(&f.NodeURL, "node", "", "Node RPC endpoint for the default network")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path (JSON format)")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Log JSON to stdout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: klingnet-hubd [flags]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "log-json" {
			f.SetLogJSON = true
		}
	})

	f.Args = fs.Args()
	return f
}

// Load builds the effective configuration: defaults, then config file,
// then environment, then flags (highest precedence).
func Load() (*Config, *Flags, error) {
	f := ParseFlags()

	network := Mainnet
	if f.Network != "" {
		network = Network(f.Network)
		if !network.Valid() {
			return nil, f, fmt.Errorf("unknown network %q", f.Network)
		}
	}

	cfg := Default(network)

	if f.Config != "" {
		values, err := LoadFile(f.Config)
		if err != nil {
			return nil, f, fmt.Errorf("load config file: %w", err)
		}
		if err := ApplyFileConfig(cfg, values); err != nil {
			return nil, f, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, f, err
	}

	applyFlags(cfg, f)

	if err := Validate(cfg); err != nil {
		return nil, f, err
	}

	return cfg, f, nil
}

// applyFlags overlays explicitly-set flags onto a config.
func applyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = Network(f.Network)
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = splitList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = splitList(f.RPCCORS)
	}
	if f.NodeURL != "" {
		switch cfg.Network {
		case Testnet:
			cfg.Nodes.Testnet = f.NodeURL
		case Devnet:
			cfg.Nodes.Devnet = f.NodeURL
		case Simnet:
			cfg.Nodes.Simnet = f.NodeURL
		default:
			cfg.Nodes.Mainnet = f.NodeURL
		}
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}
