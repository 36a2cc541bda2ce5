// Package ledger holds the local account chains of a wallet.
package ledger

import (
	"errors"
	"fmt"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/crypto"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Ledger errors.
var (
	ErrChainMismatch       = errors.New("block does not extend account chain")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoOpenBlock         = errors.New("account has no open block")
	ErrAlreadyOpen         = errors.New("account already opened")
	ErrUnknownBlock        = errors.New("block not in ledger")
)

// KeyRing provides signers for wallet accounts.
type KeyRing interface {
	Signer(account types.Account) (crypto.Signer, error)
}

// Stager receives hashes of newly created blocks that need work.
type Stager interface {
	Stage(hash types.Hash) bool
}

// Account is one account chain plus its pending receives.
type Account struct {
	ID    types.Account `json:"id"`
	Label string        `json:"label"`
	Index uint32        `json:"index"`
	Chain []block.Block `json:"chain"`

	// Pending maps an inbound send hash to the locally synthesized
	// open/receive block that claims it, until the node confirms it.
	Pending map[types.Hash]types.Hash `json:"pending,omitempty"`
}

func (a *Account) tail() (block.Block, bool) {
	if len(a.Chain) == 0 {
		return block.Block{}, false
	}
	return a.Chain[len(a.Chain)-1], true
}

func (a *Account) clone() Account {
	out := *a
	out.Chain = append([]block.Block(nil), a.Chain...)
	out.Pending = make(map[types.Hash]types.Hash, len(a.Pending))
	for k, v := range a.Pending {
		out.Pending[k] = v
	}
	return out
}

// Store holds all account chains of a wallet.
//
// Store is not safe for concurrent use; the owning wallet serializes access.
type Store struct {
	accounts map[types.Account]*Account
	order    []types.Account
	byHash   map[types.Hash]types.Account // block hash -> owning account

	keys KeyRing
	work Stager
}

// New creates an empty store. Newly created blocks are signed with keys and
// their hashes staged into work.
func New(keys KeyRing, work Stager) *Store {
	return &Store{
		accounts: make(map[types.Account]*Account),
		byHash:   make(map[types.Hash]types.Account),
		keys:     keys,
		work:     work,
	}
}

// AddAccount registers an empty account.
func (s *Store) AddAccount(id types.Account, label string, index uint32) error {
	if _, ok := s.accounts[id]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	s.accounts[id] = &Account{
		ID:      id,
		Label:   label,
		Index:   index,
		Pending: make(map[types.Hash]types.Hash),
	}
	s.order = append(s.order, id)
	return nil
}

// RemoveAccount drops an account and its chain.
func (s *Store) RemoveAccount(id types.Account) error {
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	for i := range acc.Chain {
		delete(s.byHash, acc.Chain[i].Hash())
	}
	delete(s.accounts, id)
	for i, x := range s.order {
		if x == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Has reports whether id is a known account.
func (s *Store) Has(id types.Account) bool {
	_, ok := s.accounts[id]
	return ok
}

// Account returns a copy of the account.
func (s *Store) Account(id types.Account) (Account, bool) {
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	return acc.clone(), true
}

// AccountIDs returns account ids in creation order.
func (s *Store) AccountIDs() []types.Account {
	return append([]types.Account(nil), s.order...)
}

// Accounts returns copies of all accounts in creation order.
func (s *Store) Accounts() []Account {
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id].clone())
	}
	return out
}

// Blocks returns a copy of the account chain, oldest first.
func (s *Store) Blocks(id types.Account) ([]block.Block, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return append([]block.Block(nil), acc.Chain...), nil
}

// Balance returns the balance after the account's newest block.
func (s *Store) Balance(id types.Account) (types.Amount, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return types.Amount{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	tail, ok := acc.tail()
	if !ok {
		return types.Amount{}, nil
	}
	return tail.Balance, nil
}

// Representative returns the representative set by the newest open or
// change block of the account.
func (s *Store) Representative(id types.Account) (types.Account, bool) {
	acc, ok := s.accounts[id]
	if !ok {
		return types.Account{}, false
	}
	for i := len(acc.Chain) - 1; i >= 0; i-- {
		switch acc.Chain[i].Kind {
		case block.KindOpen, block.KindChange:
			return acc.Chain[i].Representative, true
		}
	}
	return types.Account{}, false
}

// HasBlock reports whether any account chain holds hash.
func (s *Store) HasBlock(hash types.Hash) bool {
	_, ok := s.byHash[hash]
	return ok
}

// BlockByHash returns the block with the given hash and its account.
func (s *Store) BlockByHash(hash types.Hash) (block.Block, types.Account, bool) {
	id, ok := s.byHash[hash]
	if !ok {
		return block.Block{}, types.Account{}, false
	}
	acc := s.accounts[id]
	for i := range acc.Chain {
		if acc.Chain[i].Hash() == hash {
			return acc.Chain[i], id, true
		}
	}
	return block.Block{}, types.Account{}, false
}

// AttachWork replaces the block with hash by a copy carrying work.
func (s *Store) AttachWork(hash types.Hash, work types.Work) (block.Block, error) {
	id, ok := s.byHash[hash]
	if !ok {
		return block.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	acc := s.accounts[id]
	for i := range acc.Chain {
		if acc.Chain[i].Hash() == hash {
			acc.Chain[i] = acc.Chain[i].WithWork(work)
			return acc.Chain[i], nil
		}
	}
	return block.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
}

// ImportBlock appends blk to the account chain iff it extends the current
// tail. An open block is accepted only into an empty chain.
func (s *Store) ImportBlock(id types.Account, blk block.Block) error {
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if blk.Account != id {
		return fmt.Errorf("%w: block account %s", ErrChainMismatch, blk.Account)
	}
	tail, hasTail := acc.tail()
	switch {
	case !hasTail && blk.Kind != block.KindOpen:
		return fmt.Errorf("%w: %s on empty chain", ErrChainMismatch, blk.Kind)
	case hasTail && blk.Kind == block.KindOpen:
		return fmt.Errorf("%w: open on non-empty chain", ErrChainMismatch)
	case hasTail && blk.Previous != tail.Hash():
		return fmt.Errorf("%w: previous %s, tail %s", ErrChainMismatch, blk.Previous, tail.Hash())
	}
	s.appendBlock(acc, blk)
	return nil
}

// ImportForkedBlock replaces the local block that shares blk's predecessor
// when the two differ. Every block after the replaced one is dropped, along
// with the pending receives those blocks claimed. It reports whether a replacement happened.
func (s *Store) ImportForkedBlock(id types.Account, blk block.Block) (bool, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if blk.Account != id {
		return false, fmt.Errorf("%w: block account %s", ErrChainMismatch, blk.Account)
	}
	h := blk.Hash()
	for i := range acc.Chain {
		if acc.Chain[i].Previous != blk.Previous {
			continue
		}
		if acc.Chain[i].Hash() == h {
			return false, nil
		}
		dropped := make(map[types.Hash]struct{}, len(acc.Chain)-i)
		for j := i; j < len(acc.Chain); j++ {
			h := acc.Chain[j].Hash()
			delete(s.byHash, h)
			dropped[h] = struct{}{}
		}
		// A dropped open or receive no longer claims its send.
		for send, claim := range acc.Pending {
			if _, ok := dropped[claim]; ok {
				delete(acc.Pending, send)
			}
		}
		acc.Chain = acc.Chain[:i]
		s.appendBlock(acc, blk)
		return true, nil
	}
	return false, nil
}

func (s *Store) appendBlock(acc *Account, blk block.Block) {
	acc.Chain = append(acc.Chain, blk)
	s.byHash[blk.Hash()] = acc.ID
}

// Restore replaces the store contents with accounts, rebuilding indexes.
func (s *Store) Restore(accounts []Account) error {
	s.accounts = make(map[types.Account]*Account, len(accounts))
	s.byHash = make(map[types.Hash]types.Account)
	s.order = s.order[:0]
	for _, a := range accounts {
		if _, ok := s.accounts[a.ID]; ok {
			return fmt.Errorf("%w: %s", ErrAccountExists, a.ID)
		}
		acc := a.clone()
		s.accounts[a.ID] = &acc
		s.order = append(s.order, a.ID)
		for i := range acc.Chain {
			s.byHash[acc.Chain[i].Hash()] = a.ID
		}
	}
	return nil
}
