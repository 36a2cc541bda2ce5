// Canoe wallet sync daemon.
//
// Usage:
//
//	canoed                         Load the stored wallet and sync it
//	canoed --create [--seed=<hex>] Create a wallet, then sync it
//	canoed --help                  Show help
//
// The wallet password is read from CANOE_PASSWORD or prompted for.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/getcanoe/canoe-sync/config"
	"github.com/getcanoe/canoe-sync/internal/node"
	"github.com/getcanoe/canoe-sync/internal/wallet"
)

func main() {
	cfg, flags, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		fatal("%v", err)
	}

	ctx := context.Background()
	if flags.Create {
		password, err := newPassword()
		if err != nil {
			n.Stop()
			fatal("%v", err)
		}
		created, err := n.CreateWallet(ctx, password, flags.Seed)
		if err != nil {
			n.Stop()
			fatal("create wallet: %v", err)
		}
		fmt.Printf("Wallet:   %s\n", created.ID)
		fmt.Printf("Account:  %s\n", created.Account)
		fmt.Printf("Mnemonic: %s\n", created.Mnemonic)
		fmt.Println("Write the mnemonic down. It is the only way to restore this wallet.")
	} else {
		password, err := readPassword("Wallet password: ")
		if err != nil {
			n.Stop()
			fatal("%v", err)
		}
		if err := n.LoadWallet(ctx, password); err != nil {
			n.Stop()
			if errors.Is(err, wallet.ErrNoSnapshot) {
				fatal("no wallet named %q; run with --create first", cfg.Wallet.Name)
			}
			fatal("load wallet: %v", err)
		}
	}

	if err := n.Start(); err != nil {
		n.Stop()
		fatal("%v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			// Re-read the stored wallet, e.g. after a restore from backup.
			if err := n.ReloadWallet(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			}
			continue
		}
		break
	}

	n.Stop()
}

// ── Password helpers ────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	if env := os.Getenv("CANOE_PASSWORD"); env != "" {
		return []byte(env), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func newPassword() ([]byte, error) {
	password, err := readPassword("New wallet password: ")
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("password must not be empty")
	}
	if os.Getenv("CANOE_PASSWORD") != "" {
		return password, nil
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(password, confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
