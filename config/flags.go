package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Version is reported by --version.
const Version = "0.3.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool
	Create  bool   // create a new wallet instead of loading one
	Seed    string // hex seed to import with --create

	// Core
	Network string
	DataDir string
	Config  string

	// Ledger node
	NodeURL     string
	NodeTimeout time.Duration

	// Push
	Push       bool
	PushListen string
	PushPort   int
	Brokers    string

	// Wallet
	WalletName     string
	WalletStorage  string
	Representative string

	// PoW
	PoWMode      string
	PoWThreads   int
	PoWThreshold string

	// Broadcast
	BroadcastRetry time.Duration

	// Metrics
	Metrics     bool
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetPush    bool
	SetMetrics bool
	SetLogJSON bool
}

// ParseFlags parses the process command line, exiting on error.
func ParseFlags() *Flags {
	f, err := ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

// ParseArgs parses args into Flags. Parse errors are written to output.
func ParseArgs(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("canoed", flag.ContinueOnError)
	fs.SetOutput(output)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")
	fs.BoolVar(&f.Create, "create", false, "Create a new wallet")
	fs.StringVar(&f.Seed, "seed", "", "Hex seed to import with --create")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolFunc("testnet", "Use testnet (shorthand for --network=testnet)", func(string) error {
		f.Network = string(Testnet)
		return nil
	})
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Ledger node
	fs.StringVar(&f.NodeURL, "node", "", "Ledger node RPC URL")
	fs.DurationVar(&f.NodeTimeout, "node-timeout", 0, "Ledger node request timeout")

	// Push
	fs.BoolVar(&f.Push, "push", true, "Enable push notifications")
	fs.StringVar(&f.PushListen, "push-listen", "", "Push transport listen address")
	fs.IntVar(&f.PushPort, "push-port", 0, "Push transport listen port")
	fs.StringVar(&f.Brokers, "brokers", "", "Push brokers as comma-separated libp2p multiaddrs")

	// Wallet
	fs.StringVar(&f.WalletName, "wallet", "", "Wallet name")
	fs.StringVar(&f.WalletStorage, "wallet-storage", "", "Wallet storage: badger or memory")
	fs.StringVar(&f.Representative, "representative", "", "Representative for new accounts")

	// PoW
	fs.StringVar(&f.PoWMode, "pow", "", "Proof of work: local or remote")
	fs.IntVar(&f.PoWThreads, "pow-threads", 0, "Local proof of work threads (0 = all CPUs)")
	fs.StringVar(&f.PoWThreshold, "pow-threshold", "", "Work difficulty threshold (hex)")

	// Broadcast
	fs.DurationVar(&f.BroadcastRetry, "broadcast-retry", 0, "Broadcast retry interval")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", false, "Serve Prometheus metrics")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Metrics listen address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage(output)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetPush = isFlagSet(fs, "push")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; flags after it would be lost.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Ledger node
	if f.NodeURL != "" {
		cfg.Node.URL = f.NodeURL
	}
	if f.NodeTimeout != 0 {
		cfg.Node.Timeout = f.NodeTimeout
	}

	// Push
	if f.SetPush {
		cfg.Push.Enabled = f.Push
	}
	if f.PushListen != "" {
		cfg.Push.ListenAddr = f.PushListen
	}
	if f.PushPort != 0 {
		cfg.Push.Port = f.PushPort
	}
	if f.Brokers != "" {
		cfg.Push.Brokers = parseStringList(f.Brokers)
	}

	// Wallet
	if f.WalletName != "" {
		cfg.Wallet.Name = f.WalletName
	}
	if f.WalletStorage != "" {
		cfg.Wallet.Storage = strings.ToLower(f.WalletStorage)
	}
	if f.Representative != "" {
		cfg.Wallet.Representative = f.Representative
	}

	// PoW
	if f.PoWMode != "" {
		cfg.PoW.Mode = strings.ToLower(f.PoWMode)
	}
	if f.PoWThreads != 0 {
		cfg.PoW.Threads = f.PoWThreads
	}
	if f.PoWThreshold != "" {
		cfg.PoW.Threshold = f.PoWThreshold
	}

	// Broadcast
	if f.BroadcastRetry != 0 {
		cfg.Broadcast.Retry = f.BroadcastRetry
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	// Logging
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

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage(w io.Writer) {
	usage := `Canoe Sync - wallet synchronization daemon

Usage:
  canoed [options]
  canoed --create [--seed=<hex>] [options]

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information
  --create        Create a new wallet (prompts for a password)
  --seed          Import this hex seed with --create

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.canoe)
  --config, -c    Config file path (default: <datadir>/canoe.conf)

Ledger Node Options:
  --node          Ledger node RPC URL
  --node-timeout  Request timeout (default: 10s)

Push Options:
  --push          Enable push notifications (default: true)
  --push-listen   Push transport listen address
  --push-port     Push transport listen port (default: random)
  --brokers       Push brokers as comma-separated libp2p multiaddrs

Wallet Options:
  --wallet          Wallet name (default: default)
  --wallet-storage  Snapshot storage: badger (default) or memory
  --representative  Representative for new accounts

Proof of Work Options:
  --pow             local (default) or remote
  --pow-threads     Local search threads (default: all CPUs)
  --pow-threshold   Difficulty threshold as hex

Broadcast Options:
  --broadcast-retry Retry interval (default: 15s)

Metrics Options:
  --metrics         Serve Prometheus metrics
  --metrics-addr    Metrics listen address (default: 127.0.0.1:9464)

Logging Options:
  --log-level     Log level: trace, debug, info, warn, error (default: info)
  --log-file      Log file path (default: <datadir>/logs/canoe.log)
  --log-json      Output logs as JSON

Examples:
  # Create a wallet and start syncing
  canoed --create

  # Sync an existing wallet against a local node
  canoed --testnet --node=http://127.0.0.1:7076
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("canoed version " + Version)
		os.Exit(0)
	}

	cfg, err := Resolve(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// Resolve builds the configuration for already parsed flags.
func Resolve(flags *Flags) (*Config, error) {
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence.
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. It is safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDir(),
		cfg.WalletDir(),
		cfg.PushDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
