package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
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

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

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

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Ledger node
	case "node.url", "node":
		cfg.Node.URL = value
	case "node.timeout":
		cfg.Node.Timeout, err = time.ParseDuration(value)

	// Push
	case "push.enabled", "push":
		cfg.Push.Enabled = parseBool(value)
	case "push.listen":
		cfg.Push.ListenAddr = value
	case "push.port":
		cfg.Push.Port, err = strconv.Atoi(value)
	case "push.brokers":
		cfg.Push.Brokers = parseStringList(value)

	// Wallet
	case "wallet.name", "wallet":
		cfg.Wallet.Name = value
	case "wallet.storage":
		cfg.Wallet.Storage = strings.ToLower(value)
	case "wallet.representative":
		cfg.Wallet.Representative = value

	// PoW
	case "pow.mode":
		cfg.PoW.Mode = strings.ToLower(value)
	case "pow.threads":
		cfg.PoW.Threads, err = strconv.Atoi(value)
	case "pow.threshold":
		cfg.PoW.Threshold = value
	case "pow.interval":
		cfg.PoW.Interval, err = time.ParseDuration(value)

	// Broadcast
	case "broadcast.retry":
		cfg.Broadcast.Retry, err = time.ParseDuration(value)
	case "broadcast.maxbackoff":
		cfg.Broadcast.MaxBackoff, err = time.ParseDuration(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Canoe Sync Daemon Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.canoe)
# datadir = ~/.canoe

# ============================================================================
# Ledger Node
# ============================================================================

node.url = ` + d.Node.URL + `
node.timeout = ` + d.Node.Timeout.String() + `

# ============================================================================
# Push Notifications
# ============================================================================

push.enabled = true
push.listen = 0.0.0.0
# push.port = 0

# Push brokers (comma-separated libp2p multiaddrs)
# push.brokers = /dns4/push.example.com/tcp/4001/p2p/12D3KooW...

# ============================================================================
# Wallet
# ============================================================================

wallet.name = default
# Snapshot storage: badger or memory
wallet.storage = badger
# wallet.representative = xrb_...

# ============================================================================
# Proof of Work
# ============================================================================

# local (CPU search) or remote (work_generate on the node)
pow.mode = local
# Worker threads for local search (0 = all CPUs)
# pow.threads = 0
# Difficulty threshold as hex (default ffffffc000000000)
# pow.threshold =
pow.interval = 1s

# ============================================================================
# Broadcast
# ============================================================================

broadcast.retry = 15s
broadcast.maxbackoff = 10m

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = false
metrics.addr = ` + d.Metrics.Addr + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
