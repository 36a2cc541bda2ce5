// Package reconcile resynchronizes local account chains against the
// authoritative history of a ledger node.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/getcanoe/canoe-sync/internal/ledger"
	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/metrics"
	"github.com/getcanoe/canoe-sync/internal/rpcclient"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// LedgerRPC is the part of the node API used for reconciliation.
type LedgerRPC interface {
	AccountHistory(ctx context.Context, account types.Account) ([]rpcclient.HistoryEntry, error)
	BlocksInfo(ctx context.Context, hashes []types.Hash) (map[types.Hash]rpcclient.BlockInfo, error)
	AccountsPending(ctx context.Context, accounts []types.Account) (map[types.Account][]types.Hash, error)
}

// Persister accepts wallet snapshots for storage.
type Persister interface {
	Enqueue(req wallet.SaveRequest)
}

// IncomingHandler claims inbound sends.
type IncomingHandler interface {
	HandleIncomingSend(ctx context.Context, send types.Hash, account, from types.Account, amount types.Amount) (bool, error)
}

// Result summarizes the reconciliation of one account.
type Result struct {
	Account  types.Account
	Remote   int // blocks in the remote history
	Imported int // remote blocks appended locally
	Forked   int // local blocks replaced by remote ones
	Failed   int // remote blocks that could not be applied
	Restaged int // local blocks unknown remotely, queued again
}

// Reconciler replays remote history into the wallet ledger.
type Reconciler struct {
	handle *wallet.Handle
	rpc    LedgerRPC
	saver  Persister
}

// New creates a reconciler. saver may be nil.
func New(handle *wallet.Handle, rpc LedgerRPC, saver Persister) *Reconciler {
	return &Reconciler{handle: handle, rpc: rpc, saver: saver}
}

// ReconcileAll reconciles every account of the wallet. A failing account
// does not stop the others; all failures are returned joined.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]Result, error) {
	var ids []types.Account
	if err := r.handle.Do(ctx, func(w *wallet.Wallet) error {
		ids = w.AccountIDs()
		return nil
	}); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	var errs []error
	for _, id := range ids {
		res, err := r.ReconcileAccount(ctx, id)
		metrics.ReconcileResult(err)
		if err != nil {
			log.Reconcile.Warn().Err(err).Str("account", id.String()).Msg("Reconciliation failed")
			errs = append(errs, fmt.Errorf("reconcile %s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ReconcileAccount makes the local chain of id follow the remote history.
// Local blocks the node does not know are queued for rebroadcast.
func (r *Reconciler) ReconcileAccount(ctx context.Context, id types.Account) (Result, error) {
	res := Result{Account: id}

	history, err := r.rpc.AccountHistory(ctx, id)
	if err != nil {
		return res, err
	}
	// History is newest first.
	hashes := make([]types.Hash, len(history))
	for i, h := range history {
		hashes[len(history)-1-i] = h.Hash
	}
	infos, err := r.rpc.BlocksInfo(ctx, hashes)
	if err != nil {
		return res, err
	}

	remote := make([]block.Block, 0, len(hashes))
	for _, h := range hashes {
		info, ok := infos[h]
		if !ok {
			log.Reconcile.Warn().Str("hash", h.String()).Msg("Block missing from blocks_info")
			res.Failed++
			continue
		}
		blk, err := info.Block()
		if err != nil || blk.Hash() != h {
			log.Reconcile.Warn().Err(err).Str("hash", h.String()).Msg("Undecodable remote block")
			res.Failed++
			continue
		}
		remote = append(remote, blk)
	}
	res.Remote = len(hashes)

	var req wallet.SaveRequest
	err = r.handle.Do(ctx, func(w *wallet.Wallet) error {
		store := w.Ledger()
		local, err := store.Blocks(id)
		if err != nil {
			return err
		}

		w.SetBroadcastEnabled(false)
		defer w.SetBroadcastEnabled(true)

		working := make(map[types.Hash]struct{}, len(local))
		for i := range local {
			working[local[i].Hash()] = struct{}{}
		}

		for i := range remote {
			imported, forked, err := apply(store, id, remote[i])
			if err != nil {
				log.Reconcile.Warn().Err(err).
					Str("account", id.String()).
					Str("hash", remote[i].Hash().String()).
					Msg("Remote block not applied")
				res.Failed++
				continue
			}
			if imported {
				res.Imported++
			}
			if forked {
				res.Forked++
			}
			h := remote[i].Hash()
			delete(working, h)
			w.RemoveReadyBlock(h)
			store.ClearPendingClaim(h)
		}

		for i := range local {
			h := local[i].Hash()
			if _, ok := working[h]; !ok {
				continue
			}
			res.Restaged++
			w.Restage(local[i])
		}

		req, err = w.SaveRequest()
		return err
	})
	if err != nil {
		return res, err
	}
	if r.saver != nil {
		r.saver.Enqueue(req)
	}

	log.Reconcile.Info().
		Str("account", id.String()).
		Int("remote", res.Remote).
		Int("imported", res.Imported).
		Int("forked", res.Forked).
		Int("restaged", res.Restaged).
		Int("failed", res.Failed).
		Msg("Account reconciled")
	return res, nil
}

// apply imports one remote block: a fork replaces the local block with the
// same predecessor, a block already present is accepted as is, anything else
// must extend the chain.
func apply(store *ledger.Store, id types.Account, blk block.Block) (imported, forked bool, err error) {
	forked, err = store.ImportForkedBlock(id, blk)
	if err != nil {
		return false, false, err
	}
	if forked {
		return false, true, nil
	}
	if store.HasBlock(blk.Hash()) {
		return false, false, nil
	}
	if err := store.ImportBlock(id, blk); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// FetchPending asks the node for unreceived sends to wallet accounts and
// claims each one. It returns the number of receives created.
func (r *Reconciler) FetchPending(ctx context.Context, incoming IncomingHandler) (int, error) {
	var ids []types.Account
	if err := r.handle.Do(ctx, func(w *wallet.Wallet) error {
		ids = w.AccountIDs()
		return nil
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pending, err := r.rpc.AccountsPending(ctx, ids)
	if err != nil {
		return 0, err
	}

	created := 0
	var errs []error
	for _, account := range ids {
		hashes := pending[account]
		if len(hashes) == 0 {
			continue
		}
		infos, err := r.rpc.BlocksInfo(ctx, hashes)
		if err != nil {
			errs = append(errs, fmt.Errorf("pending for %s: %w", account, err))
			continue
		}
		for _, h := range hashes {
			info, ok := infos[h]
			if !ok {
				continue
			}
			ok, err := incoming.HandleIncomingSend(ctx, h, account, info.BlockAccount, info.Amount)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				created++
			}
		}
	}
	log.Reconcile.Info().Int("accounts", len(ids)).Int("created", created).Msg("Pending sends fetched")
	return created, errors.Join(errs...)
}
