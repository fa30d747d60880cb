package config

import (
	"fmt"
	"net/url"
)

// Validate checks runtime hub config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !cfg.Network.Valid() {
		return fmt.Errorf("network must be %q, %q, %q, or %q", Mainnet, Testnet, Devnet, Simnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}

	for _, pair := range []struct {
		name string
		url  string
	}{
		{"nodes.mainnet", cfg.Nodes.Mainnet},
		{"nodes.testnet", cfg.Nodes.Testnet},
		{"nodes.devnet", cfg.Nodes.Devnet},
		{"nodes.simnet", cfg.Nodes.Simnet},
	} {
		if pair.url == "" {
			continue
		}
		u, err := url.Parse(pair.url)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s: invalid endpoint URL %q", pair.name, pair.url)
		}
	}

	set := 0
	if cfg.Wallet.Mnemonic != "" {
		set++
	}
	if cfg.Wallet.PrivateKey != "" {
		set++
	}
	if cfg.Wallet.File != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("at most one of wallet.mnemonic, wallet.private_key, wallet.file may be set")
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}

	return nil
}
