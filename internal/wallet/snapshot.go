package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/getcanoe/canoe-sync/internal/ledger"
	"github.com/getcanoe/canoe-sync/internal/readyqueue"
	"github.com/getcanoe/canoe-sync/internal/workpool"
	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

const snapshotVersion = 1

// snapshot is the plaintext persisted form of a wallet.
type snapshot struct {
	Version        int                     `json:"version"`
	ID             string                  `json:"id"`
	Token          string                  `json:"token,omitempty"`
	TokenPass      string                  `json:"token_pass,omitempty"`
	Seed           string                  `json:"seed"`
	Representative *types.Account          `json:"representative,omitempty"`
	NextIndex      uint32                  `json:"next_index"`
	Accounts       []ledger.Account        `json:"accounts"`
	Work           []workpool.Item         `json:"work"`
	Ready          []readyqueue.ReadyBlock `json:"ready"`
	Orphans        []block.Block           `json:"orphans,omitempty"`
}

// SaveRequest is a wallet snapshot captured under the writer, ready to be
// sealed and stored outside of it.
type SaveRequest struct {
	seq      uint64
	plain    []byte
	password []byte
	params   EncryptionParams
}

// Seal encrypts the snapshot.
func (r SaveRequest) Seal() ([]byte, error) {
	return Encrypt(r.plain, r.password, r.params)
}

// Snapshot serializes the full wallet state.
func (w *Wallet) Snapshot() ([]byte, error) {
	s := snapshot{
		Version:   snapshotVersion,
		ID:        w.id,
		Token:     w.token,
		TokenPass: w.tokenPass,
		Seed:      SeedHex(w.seed),
		NextIndex: w.nextIndex,
		Accounts:  w.ledger.Accounts(),
		Work:      w.pool.Items(),
		Ready:     w.ready.List(),
	}
	for _, blk := range w.orphans {
		s.Orphans = append(s.Orphans, blk)
	}
	if !w.rep.IsZero() {
		rep := w.rep
		s.Representative = &rep
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode wallet: %w", err)
	}
	return data, nil
}

// SaveRequest captures the current state for asynchronous persistence.
func (w *Wallet) SaveRequest() (SaveRequest, error) {
	plain, err := w.Snapshot()
	if err != nil {
		return SaveRequest{}, err
	}
	return SaveRequest{
		seq:      saveSeq.Add(1),
		plain:    plain,
		password: append([]byte(nil), w.password...),
		params:   w.params,
	}, nil
}

// Pack serializes and encrypts the wallet with its password.
func (w *Wallet) Pack() ([]byte, error) {
	req, err := w.SaveRequest()
	if err != nil {
		return nil, err
	}
	return req.Seal()
}

// Open decrypts sealed wallet data. A wrong password yields
// ErrDecryptionFailure.
func Open(sealed, password []byte, params EncryptionParams) (*Wallet, error) {
	plain, err := Decrypt(sealed, password)
	if err != nil {
		return nil, err
	}
	return restore(plain, password, Options{Params: params})
}

// Load replaces the wallet state with sealed data, decrypted with the
// wallet's current password. On any error the wallet is left unchanged.
func (w *Wallet) Load(sealed []byte) error {
	plain, err := Decrypt(sealed, w.password)
	if err != nil {
		return err
	}
	fresh, err := restore(plain, w.password, Options{Params: w.params})
	if err != nil {
		return err
	}
	hook := w.onReady
	*w = *fresh
	w.onReady = hook
	return nil
}

func restore(plain, password []byte, opts Options) (*Wallet, error) {
	var s snapshot
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("%w: decode wallet: %v", ErrDecryptionFailure, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported wallet version %d", s.Version)
	}
	seed, err := ParseSeed(s.Seed)
	if err != nil {
		return nil, err
	}

	opts.ID, opts.Token, opts.TokenPass = s.ID, s.Token, s.TokenPass
	if s.Representative != nil {
		opts.Representative = *s.Representative
	}
	w, err := newWallet(seed, password, opts)
	if err != nil {
		return nil, err
	}
	w.nextIndex = s.NextIndex

	for _, acc := range s.Accounts {
		key, err := w.deriveKey(acc.Index)
		if err != nil {
			return nil, err
		}
		if key.Account() != acc.ID {
			return nil, fmt.Errorf("account %s does not match seed index %d", acc.ID, acc.Index)
		}
		w.keys[acc.ID] = key
	}
	if err := w.ledger.Restore(s.Accounts); err != nil {
		return nil, err
	}
	w.pool.Restore(s.Work)
	w.ready.Restore(s.Ready)
	for _, blk := range s.Orphans {
		w.orphans[blk.Hash()] = blk
	}
	return w, nil
}
