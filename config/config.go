// Package config handles daemon configuration.
//
// Settings come from three layers, lowest precedence first:
//   - Built-in defaults per network
//   - The canoe.conf file in the data directory
//   - Command-line flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies the ledger network the wallet talks to.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds the runtime configuration of the sync daemon.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Ledger node RPC
	Node NodeConfig

	// Push notification transport
	Push PushConfig

	// Wallet storage
	Wallet WalletConfig

	// Proof of work
	PoW PoWConfig

	// Block submission
	Broadcast BroadcastConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// NodeConfig holds ledger node settings.
type NodeConfig struct {
	URL     string        `conf:"node.url"`
	Timeout time.Duration `conf:"node.timeout"`
}

// PushConfig holds push transport settings.
type PushConfig struct {
	Enabled    bool     `conf:"push.enabled"`
	ListenAddr string   `conf:"push.listen"`
	Port       int      `conf:"push.port"`
	Brokers    []string `conf:"push.brokers"` // libp2p multiaddrs
}

// Storage backends for wallet snapshots.
const (
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Name           string `conf:"wallet.name"`    // snapshot key in the store
	Storage        string `conf:"wallet.storage"` // badger or memory
	Representative string `conf:"wallet.representative"`
}

// PoW solver modes.
const (
	PoWLocal  = "local"
	PoWRemote = "remote"
)

// PoWConfig holds proof of work settings.
type PoWConfig struct {
	Mode      string        `conf:"pow.mode"`    // local or remote (work_generate)
	Threads   int           `conf:"pow.threads"` // 0 = all CPUs
	Threshold string        `conf:"pow.threshold"`
	Interval  time.Duration `conf:"pow.interval"`
}

// BroadcastConfig holds block submission settings.
type BroadcastConfig struct {
	Retry      time.Duration `conf:"broadcast.retry"`
	MaxBackoff time.Duration `conf:"broadcast.maxbackoff"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.canoe
//	macOS:   ~/Library/Application Support/Canoe
//	Windows: %APPDATA%\Canoe
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canoe"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Canoe")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Canoe")
		}
		return filepath.Join(home, "AppData", "Roaming", "Canoe")
	default:
		return filepath.Join(home, ".canoe")
	}
}

// NetworkDir returns the network-specific data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.NetworkDir(), "wallet")
}

// PushDir returns the directory holding the push transport identity.
func (c *Config) PushDir() string {
	return filepath.Join(c.NetworkDir(), "push")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "canoe.conf")
}
