package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/getcanoe/canoe-sync/internal/ledger"
	"github.com/getcanoe/canoe-sync/internal/readyqueue"
	"github.com/getcanoe/canoe-sync/internal/workpool"
	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/crypto"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Wallet errors.
var (
	ErrNoWallet         = errors.New("no wallet attached")
	ErrNoRepresentative = errors.New("wallet has no representative")
)

// Options configure a new wallet.
type Options struct {
	// ID, Token and TokenPass are the push server credentials.
	ID        string
	Token     string
	TokenPass string

	// Representative is used for open blocks. When zero, the first account
	// of the wallet represents itself.
	Representative types.Account

	Params EncryptionParams
}

// Status summarizes sync progress.
type Status struct {
	Accounts         int `json:"accounts"`
	PendingWork      int `json:"pending_work"`
	ReadyToBroadcast int `json:"ready_to_broadcast"`
	PendingReceives  int `json:"pending_receives"`
}

// Wallet owns the account ledger, the work pool and the ready queue.
// A Wallet is not safe for concurrent use; share it through a Handle.
type Wallet struct {
	id        string
	token     string
	tokenPass string

	seed      []byte
	master    *HDKey
	password  []byte
	params    EncryptionParams
	rep       types.Account
	nextIndex uint32
	keys      keyRing

	ledger *ledger.Store
	pool   *workpool.Pool
	ready  *readyqueue.Queue

	// orphans holds restaged blocks a fork removed from the ledger while
	// their work is generated.
	orphans map[types.Hash]block.Block

	broadcastEnabled bool
	onReady          func()
}

// Create builds a wallet from a hex seed. An empty seed generates a new one.
func Create(seedHex string, password []byte, opts Options) (*Wallet, error) {
	var seed []byte
	var err error
	if seedHex == "" {
		seed, err = GenerateSeed()
	} else {
		seed, err = ParseSeed(seedHex)
	}
	if err != nil {
		return nil, err
	}
	return newWallet(seed, password, opts)
}

func newWallet(seed, password []byte, opts Options) (*Wallet, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	params := opts.Params
	if params.Iterations == 0 {
		params = DefaultParams()
	}
	w := &Wallet{
		id:               opts.ID,
		token:            opts.Token,
		tokenPass:        opts.TokenPass,
		seed:             append([]byte(nil), seed...),
		master:           master,
		password:         append([]byte(nil), password...),
		params:           params,
		rep:              opts.Representative,
		keys:             make(keyRing),
		pool:             workpool.New(),
		ready:            readyqueue.New(),
		orphans:          make(map[types.Hash]block.Block),
		broadcastEnabled: true,
	}
	w.ledger = ledger.New(w.keys, w.pool)
	return w, nil
}

// ID returns the wallet id used on the push transport.
func (w *Wallet) ID() string { return w.id }

// Credentials returns the push server credentials.
func (w *Wallet) Credentials() (id, token, tokenPass string) {
	return w.id, w.token, w.tokenPass
}

// SeedHex returns the seed in its canonical hex form.
func (w *Wallet) SeedHex() string {
	return SeedHex(w.seed)
}

// Mnemonic returns the 24-word backup phrase of the seed.
func (w *Wallet) Mnemonic() (string, error) {
	return MnemonicFromSeed(w.seed)
}

// Ledger exposes the account chains for import during reconciliation.
func (w *Wallet) Ledger() *ledger.Store { return w.ledger }

// keyRing holds the derived keys of wallet accounts.
type keyRing map[types.Account]*crypto.PrivateKey

// Signer implements ledger.KeyRing.
func (k keyRing) Signer(id types.Account) (crypto.Signer, error) {
	key, ok := k[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, id)
	}
	return key, nil
}

func (w *Wallet) deriveKey(index uint32) (*crypto.PrivateKey, error) {
	hd, err := w.master.DeriveAccount(index)
	if err != nil {
		return nil, err
	}
	return hd.Signer()
}

// CreateAccount derives the next account and adds it to the ledger.
func (w *Wallet) CreateAccount(label string) (types.Account, error) {
	key, err := w.deriveKey(w.nextIndex)
	if err != nil {
		return types.Account{}, err
	}
	id := key.Account()
	if err := w.ledger.AddAccount(id, label, w.nextIndex); err != nil {
		return types.Account{}, err
	}
	w.keys[id] = key
	w.nextIndex++
	return id, nil
}

// RemoveAccount drops an account, its queued blocks and their work items.
func (w *Wallet) RemoveAccount(id types.Account) error {
	blocks, err := w.ledger.Blocks(id)
	if err != nil {
		return err
	}
	for i := range blocks {
		h := blocks[i].Hash()
		w.ready.Remove(h)
		w.pool.Remove(h)
	}
	for h, blk := range w.orphans {
		if blk.Account == id {
			delete(w.orphans, h)
			w.pool.Remove(h)
		}
	}
	if err := w.ledger.RemoveAccount(id); err != nil {
		return err
	}
	if key, ok := w.keys[id]; ok {
		key.Zero()
		delete(w.keys, id)
	}
	return nil
}

// AccountIDs returns wallet accounts in creation order.
func (w *Wallet) AccountIDs() []types.Account {
	return w.ledger.AccountIDs()
}

// Representative returns the representative used for new open blocks.
func (w *Wallet) Representative() (types.Account, error) {
	if !w.rep.IsZero() {
		return w.rep, nil
	}
	ids := w.ledger.AccountIDs()
	if len(ids) == 0 {
		return types.Account{}, ErrNoRepresentative
	}
	return ids[0], nil
}

// Send creates a send block from account to dest.
func (w *Wallet) Send(from, dest types.Account, amount types.Amount) (block.Block, error) {
	return w.ledger.CreateSend(from, dest, amount)
}

// ChangeRepresentative creates a change block for the account.
func (w *Wallet) ChangeRepresentative(id, rep types.Account) (block.Block, error) {
	return w.ledger.CreateChange(id, rep)
}

// AddPendingReceive synthesizes the open or receive block claiming an inbound
// send. It reports false without error when the send is already claimed.
func (w *Wallet) AddPendingReceive(send types.Hash, dest types.Account, amount types.Amount) (bool, error) {
	if !w.ledger.Has(dest) {
		return false, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, dest)
	}
	if w.ledger.IsClaimed(send) {
		return false, nil
	}

	blocks, err := w.ledger.Blocks(dest)
	if err != nil {
		return false, err
	}
	var claim block.Block
	if len(blocks) == 0 {
		rep, err := w.Representative()
		if err != nil {
			return false, err
		}
		claim, err = w.ledger.CreateOpen(dest, send, amount, rep)
		if err != nil {
			return false, err
		}
	} else {
		claim, err = w.ledger.CreateReceive(dest, send, amount)
		if err != nil {
			return false, err
		}
	}
	if err := w.ledger.AddPending(dest, send, claim.Hash()); err != nil {
		return false, err
	}
	return true, nil
}

// NextNeededWork returns the oldest hash still waiting for work.
func (w *Wallet) NextNeededWork() (types.Hash, bool) {
	return w.pool.NextNeeded()
}

// Restage queues a local block the node does not know for broadcast again.
// Blocks without work go back to the pool; those no longer in the ledger
// are held aside until the work arrives.
func (w *Wallet) Restage(blk block.Block) {
	if blk.HasWork() {
		w.AddReadyBlock(blk)
		return
	}
	h := blk.Hash()
	if !w.ledger.HasBlock(h) {
		w.orphans[h] = blk
	}
	w.pool.Stage(h)
}

// CompleteWork attaches work to the block and moves it to the ready queue.
// Results for hashes no longer in the pool are discarded.
func (w *Wallet) CompleteWork(hash types.Hash, work types.Work) error {
	if !w.pool.Complete(hash, work) {
		return nil
	}
	if orphan, ok := w.orphans[hash]; ok {
		delete(w.orphans, hash)
		w.AddReadyBlock(orphan.WithWork(work))
		return nil
	}
	blk, err := w.ledger.AttachWork(hash, work)
	if err != nil {
		// The block was dropped by a fork while work was generated.
		w.pool.Remove(hash)
		return fmt.Errorf("complete work %s: %w", hash, err)
	}
	w.AddReadyBlock(blk)
	return nil
}

// AddReadyBlock queues a block with work for broadcast.
func (w *Wallet) AddReadyBlock(blk block.Block) {
	if w.ready.Add(blk) && w.broadcastEnabled && w.onReady != nil {
		w.onReady()
	}
}

// RemoveReadyBlock drops hash from the ready queue and the work pool.
func (w *Wallet) RemoveReadyBlock(hash types.Hash) {
	w.ready.Remove(hash)
	w.pool.Remove(hash)
	delete(w.orphans, hash)
}

// ReadyBlocks returns a snapshot of the ready queue.
func (w *Wallet) ReadyBlocks() []readyqueue.ReadyBlock {
	return w.ready.List()
}

// MarkAttempt records a failed or unacknowledged submission.
func (w *Wallet) MarkAttempt(hash types.Hash, at time.Time) {
	w.ready.MarkAttempt(hash, at)
}

// ConfirmReady finalizes a block the node acknowledged: it leaves the ready
// queue and the work pool, and any pending receive it claims is cleared.
func (w *Wallet) ConfirmReady(hash types.Hash) {
	w.RemoveReadyBlock(hash)
	w.ledger.ClearPendingClaim(hash)
}

// SetBroadcastEnabled toggles broadcasting. Re-enabling with queued blocks
// fires the ready hook.
func (w *Wallet) SetBroadcastEnabled(enabled bool) {
	w.broadcastEnabled = enabled
	if enabled && w.ready.Len() > 0 && w.onReady != nil {
		w.onReady()
	}
}

// BroadcastEnabled reports whether ready blocks may be submitted.
func (w *Wallet) BroadcastEnabled() bool {
	return w.broadcastEnabled
}

// SetReadyHook installs fn to be called when a block becomes ready while
// broadcasting is enabled. fn runs under the wallet writer and must not block.
func (w *Wallet) SetReadyHook(fn func()) {
	w.onReady = fn
}

// Status reports queue sizes.
func (w *Wallet) Status() Status {
	st := Status{
		Accounts:         len(w.ledger.AccountIDs()),
		PendingWork:      w.pool.Pending(),
		ReadyToBroadcast: w.ready.Len(),
	}
	for _, id := range w.ledger.AccountIDs() {
		st.PendingReceives += len(w.ledger.PendingReceives(id))
	}
	return st
}
