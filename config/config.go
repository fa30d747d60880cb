// Package config handles hub runtime configuration.
//
// Configuration seeds defaults only: the default network, the node RPC
// endpoint per network, logging, and optionally preconfigured wallet
// credentials for the default session. It is read once at process start.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// Network identifies which ledger network a session connects to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Devnet  Network = "devnet"
	Simnet  Network = "simnet"
)

// Valid returns true for a known network identifier.
func (n Network) Valid() bool {
	switch n {
	case Mainnet, Testnet, Devnet, Simnet:
		return true
	}
	return false
}

// HRP returns the bech32 address HRP for the network.
func (n Network) HRP() string {
	switch n {
	case Testnet:
		return types.TestnetHRP
	case Devnet:
		return types.DevnetHRP
	case Simnet:
		return types.SimnetHRP
	default:
		return types.MainnetHRP
	}
}

// Config holds hub runtime configuration.
type Config struct {
	// Core
	Network Network `conf:"network"`

	// Hub command server
	RPC RPCConfig

	// Node RPC endpoints, one per network
	Nodes NodesConfig

	// Optional preconfigured wallet credentials for the default session
	Wallet WalletConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds the hub's own command server settings.
type RPCConfig struct {
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed_ips"`
	CORSOrigins []string `conf:"rpc.cors_origins"`
}

// NodesConfig holds the ledger node endpoint for each network.
type NodesConfig struct {
	Mainnet string `conf:"nodes.mainnet"`
	Testnet string `conf:"nodes.testnet"`
	Devnet  string `conf:"nodes.devnet"`
	Simnet  string `conf:"nodes.simnet"`
}

// Endpoint returns the configured node endpoint for a network.
func (nc NodesConfig) Endpoint(n Network) string {
	switch n {
	case Testnet:
		return nc.Testnet
	case Devnet:
		return nc.Devnet
	case Simnet:
		return nc.Simnet
	default:
		return nc.Mainnet
	}
}

// WalletConfig holds optional preconfigured wallet credentials.
// At most one of Mnemonic, PrivateKey, or File may be set. File points to
// an encrypted credentials file; the passphrase comes from the
// KLINGNET_HUB_WALLET_PASSWORD environment variable.
type WalletConfig struct {
	Mnemonic   string `conf:"wallet.mnemonic"`
	Passphrase string `conf:"wallet.passphrase"`
	PrivateKey string `conf:"wallet.private_key"`
	File       string `conf:"wallet.file"`
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
		return ".klingnet-hub"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetHub")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "KlingnetHub")
	default:
		return filepath.Join(home, ".klingnet-hub")
	}
}
