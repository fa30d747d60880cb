package config

// Default node RPC ports, one per network. The hub's own command server
// listens on HubPort regardless of network.
const (
	HubPort         = 8645
	MainnetNodePort = 8545
	TestnetNodePort = 8546
	DevnetNodePort  = 8547
	SimnetNodePort  = 8548
)

// Default returns the default hub configuration for the given network.
func Default(network Network) *Config {
	cfg := &Config{
		Network: network,
		RPC: RPCConfig{
			Addr:       "127.0.0.1",
			Port:       HubPort,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Nodes: NodesConfig{
			Mainnet: "http://127.0.0.1:8545",
			Testnet: "http://127.0.0.1:8546",
			Devnet:  "http://127.0.0.1:8547",
			Simnet:  "http://127.0.0.1:8548",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
	return cfg
}

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config { return Default(Mainnet) }

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config { return Default(Testnet) }
