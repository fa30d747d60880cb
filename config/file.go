package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads hub configuration from a .conf file.
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

		// Parse key = value
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
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// envPrefix is the prefix for environment variable overrides.
// KLINGNET_HUB_NETWORK=testnet maps to the "network" key,
// KLINGNET_HUB_RPC_PORT=9000 to "rpc.port", and so on.
const envPrefix = "KLINGNET_HUB_"

// ApplyEnv applies environment variable overrides to a Config struct.
// Environment overrides take precedence over file values.
func ApplyEnv(cfg *Config) error {
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, envPrefix) {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(kv[0], envPrefix))
		key = strings.ReplaceAll(key, "_", ".")
		// wallet.private.key → wallet.private_key and similar two-word keys.
		key = normalizeEnvKey(key)
		if err := setConfigValue(cfg, key, kv[1]); err != nil {
			return fmt.Errorf("env %s: %w", kv[0], err)
		}
	}
	return nil
}

// normalizeEnvKey repairs keys whose config form contains an underscore.
func normalizeEnvKey(key string) string {
	switch key {
	case "wallet.private.key":
		return "wallet.private_key"
	case "rpc.allowed.ips":
		return "rpc.allowed_ips"
	case "rpc.cors.origins":
		return "rpc.cors_origins"
	case "wallet.password":
		// Handled separately by wallet file decryption, never stored in Config.
		return ""
	}
	return key
}

// setConfigValue sets a hub config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "":
		return nil
	case "network":
		n := Network(strings.ToLower(value))
		if !n.Valid() {
			return fmt.Errorf("unknown network %q", value)
		}
		cfg.Network = n
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		p, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		cfg.RPC.Port = p
	case "rpc.allowed_ips":
		cfg.RPC.AllowedIPs = splitList(value)
	case "rpc.cors_origins":
		cfg.RPC.CORSOrigins = splitList(value)
	case "nodes.mainnet":
		cfg.Nodes.Mainnet = value
	case "nodes.testnet":
		cfg.Nodes.Testnet = value
	case "nodes.devnet":
		cfg.Nodes.Devnet = value
	case "nodes.simnet":
		cfg.Nodes.Simnet = value
	case "wallet.mnemonic":
		cfg.Wallet.Mnemonic = value
	case "wallet.passphrase":
		cfg.Wallet.Passphrase = value
	case "wallet.private_key":
		cfg.Wallet.PrivateKey = value
	case "wallet.file":
		cfg.Wallet.File = value
	case "log.level":
		cfg.Log.Level = value
	case "log.json":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool: %w", err)
		}
		cfg.Log.JSON = b
	case "log.file":
		cfg.Log.File = value
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}

// splitList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
