package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_PerNetwork(t *testing.T) {
	for _, n := range []Network{Mainnet, Testnet, Devnet, Simnet} {
		cfg := Default(n)
		if cfg.Network != n {
			t.Errorf("Default(%s).Network = %s", n, cfg.Network)
		}
		if cfg.Nodes.Endpoint(n) == "" {
			t.Errorf("Default(%s): no node endpoint", n)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Default(%s) invalid: %v", n, err)
		}
	}
}

func TestNetwork_HRP(t *testing.T) {
	tests := []struct {
		network Network
		hrp     string
	}{
		{Mainnet, "kgx"},
		{Testnet, "tkgx"},
		{Devnet, "dkgx"},
		{Simnet, "skgx"},
	}
	for _, tt := range tests {
		if got := tt.network.HRP(); got != tt.hrp {
			t.Errorf("%s.HRP() = %q, want %q", tt.network, got, tt.hrp)
		}
	}
}

func TestLoadFile_Basic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.conf")
	content := `# comment
network = testnet
rpc.port = 9000
nodes.testnet = "http://10.0.0.1:8546"
log.level = debug
log.json = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Network != Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.RPC.Port != 9000 {
		t.Errorf("rpc.port = %d, want 9000", cfg.RPC.Port)
	}
	if cfg.Nodes.Testnet != "http://10.0.0.1:8546" {
		t.Errorf("nodes.testnet = %q", cfg.Nodes.Testnet)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty values, got %d", len(values))
	}
}

func TestApplyFileConfig_UnknownKey(t *testing.T) {
	cfg := DefaultMainnet()
	err := ApplyFileConfig(cfg, map[string]string{"bogus.key": "1"})
	if err == nil {
		t.Error("unknown key should error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KLINGNET_HUB_NETWORK", "simnet")
	t.Setenv("KLINGNET_HUB_LOG_LEVEL", "warn")

	cfg := DefaultMainnet()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Network != Simnet {
		t.Errorf("network = %s, want simnet", cfg.Network)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want warn", cfg.Log.Level)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := DefaultMainnet()
	cfg.Network = "lunarnet"
	if err := Validate(cfg); err == nil {
		t.Error("bad network should fail")
	}

	cfg = DefaultMainnet()
	cfg.RPC.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Error("bad port should fail")
	}

	cfg = DefaultMainnet()
	cfg.Nodes.Devnet = "not a url"
	if err := Validate(cfg); err == nil {
		t.Error("bad endpoint should fail")
	}

	cfg = DefaultMainnet()
	cfg.Wallet.Mnemonic = "abandon"
	cfg.Wallet.PrivateKey = "ff"
	if err := Validate(cfg); err == nil {
		t.Error("conflicting wallet credentials should fail")
	}
}
