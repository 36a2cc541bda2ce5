package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Node: NodeConfig{
			URL:     "https://getcanoe.io/rpc",
			Timeout: 10 * time.Second,
		},
		Push: PushConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       0,
			// Push brokers as libp2p multiaddrs, e.g.:
			//   "/dns4/push.getcanoe.io/tcp/4001/p2p/12D3KooW..."
			Brokers: []string{},
		},
		Wallet: WalletConfig{
			Name:    "default",
			Storage: StorageBadger,
		},
		PoW: PoWConfig{
			Mode:     PoWLocal,
			Threads:  0,
			Interval: time.Second,
		},
		Broadcast: BroadcastConfig{
			Retry:      15 * time.Second,
			MaxBackoff: 10 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Node.URL = "http://127.0.0.1:7076"
	cfg.Metrics.Addr = "127.0.0.1:9465"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
