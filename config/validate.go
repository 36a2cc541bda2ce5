package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	u, err := url.Parse(cfg.Node.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("node.url must be an http(s) URL")
	}
	if cfg.Node.Timeout <= 0 {
		return fmt.Errorf("node.timeout must be positive")
	}

	if cfg.Push.Port < 0 || cfg.Push.Port > 65535 {
		return fmt.Errorf("push.port must be in range [0, 65535]")
	}
	for i, b := range cfg.Push.Brokers {
		if !strings.HasPrefix(b, "/") {
			return fmt.Errorf("push.brokers[%d] must be a multiaddr", i)
		}
	}

	if cfg.Wallet.Name == "" {
		return fmt.Errorf("wallet.name must not be empty")
	}
	switch cfg.Wallet.Storage {
	case StorageBadger, StorageMemory:
	default:
		return fmt.Errorf("wallet.storage must be %q or %q", StorageBadger, StorageMemory)
	}
	if cfg.Wallet.Representative != "" {
		if _, err := types.ParseAccount(cfg.Wallet.Representative); err != nil {
			return fmt.Errorf("wallet.representative: %w", err)
		}
	}

	switch cfg.PoW.Mode {
	case PoWLocal, PoWRemote:
	default:
		return fmt.Errorf("pow.mode must be %q or %q", PoWLocal, PoWRemote)
	}
	if cfg.PoW.Threads < 0 {
		return fmt.Errorf("pow.threads must not be negative")
	}
	if cfg.PoW.Threshold != "" {
		if _, err := strconv.ParseUint(cfg.PoW.Threshold, 16, 64); err != nil {
			return fmt.Errorf("pow.threshold must be a 64-bit hex value")
		}
	}
	if cfg.PoW.Interval <= 0 {
		return fmt.Errorf("pow.interval must be positive")
	}

	if cfg.Broadcast.Retry <= 0 {
		return fmt.Errorf("broadcast.retry must be positive")
	}
	if cfg.Broadcast.MaxBackoff < cfg.Broadcast.Retry {
		return fmt.Errorf("broadcast.maxbackoff must be at least broadcast.retry")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}
