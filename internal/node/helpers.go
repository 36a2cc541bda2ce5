package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/getcanoe/canoe-sync/config"
	"github.com/getcanoe/canoe-sync/internal/pow"
	"github.com/getcanoe/canoe-sync/internal/rpcclient"
	"github.com/getcanoe/canoe-sync/internal/storage"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// openStorage opens the snapshot database selected by the config.
func openStorage(cfg *config.Config) (storage.DB, error) {
	switch cfg.Wallet.Storage {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageBadger, "":
		dir := expandHome(cfg.WalletDir())
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create wallet dir: %w", err)
		}
		return storage.NewBadger(dir)
	default:
		return nil, fmt.Errorf("unknown wallet storage %q", cfg.Wallet.Storage)
	}
}

// newSolver builds the proof of work solver selected by the config.
func newSolver(cfg config.PoWConfig, rpc *rpcclient.Client) (pow.Solver, error) {
	threshold, err := pow.ParseThreshold(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case config.PoWRemote:
		return pow.NewRemoteSolver(rpc, threshold), nil
	case config.PoWLocal, "":
		return pow.NewLocalSolver(cfg.Threads, threshold), nil
	default:
		return nil, fmt.Errorf("unknown pow mode %q", cfg.Mode)
	}
}

// newCredentials generates the push server identity of a new wallet.
func newCredentials() (id, token, tokenPass string) {
	return uuid.NewString(), uuid.NewString(), uuid.NewString()
}
