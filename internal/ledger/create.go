package ledger

import (
	"fmt"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// CreateOpen opens an empty account by receiving the send source.
func (s *Store) CreateOpen(id types.Account, source types.Hash, amount types.Amount, rep types.Account) (block.Block, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return block.Block{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if len(acc.Chain) > 0 {
		return block.Block{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	return s.create(acc, block.Block{
		Kind:           block.KindOpen,
		Account:        id,
		Source:         source,
		Representative: rep,
		Balance:        amount,
		Amount:         amount,
	})
}

// CreateSend moves amount from the account to destination.
func (s *Store) CreateSend(id types.Account, dest types.Account, amount types.Amount) (block.Block, error) {
	acc, tail, err := s.openAccount(id)
	if err != nil {
		return block.Block{}, err
	}
	balance, err := tail.Balance.Sub(amount)
	if err != nil {
		return block.Block{}, fmt.Errorf("%w: balance %s, amount %s", ErrInsufficientBalance, tail.Balance, amount)
	}
	return s.create(acc, block.Block{
		Kind:        block.KindSend,
		Account:     id,
		Previous:    tail.Hash(),
		Destination: dest,
		Balance:     balance,
		Amount:      amount,
	})
}

// CreateReceive claims the send source into an opened account.
func (s *Store) CreateReceive(id types.Account, source types.Hash, amount types.Amount) (block.Block, error) {
	acc, tail, err := s.openAccount(id)
	if err != nil {
		return block.Block{}, err
	}
	balance, err := tail.Balance.Add(amount)
	if err != nil {
		return block.Block{}, fmt.Errorf("receive %s: %w", source, err)
	}
	return s.create(acc, block.Block{
		Kind:     block.KindReceive,
		Account:  id,
		Previous: tail.Hash(),
		Source:   source,
		Balance:  balance,
		Amount:   amount,
	})
}

// CreateChange sets a new representative for the account.
func (s *Store) CreateChange(id types.Account, rep types.Account) (block.Block, error) {
	acc, tail, err := s.openAccount(id)
	if err != nil {
		return block.Block{}, err
	}
	return s.create(acc, block.Block{
		Kind:           block.KindChange,
		Account:        id,
		Previous:       tail.Hash(),
		Representative: rep,
		Balance:        tail.Balance,
	})
}

func (s *Store) openAccount(id types.Account) (*Account, block.Block, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, block.Block{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	tail, ok := acc.tail()
	if !ok {
		return nil, block.Block{}, fmt.Errorf("%w: %s", ErrNoOpenBlock, id)
	}
	return acc, tail, nil
}

// create signs blk, appends it to the chain and stages it for work.
func (s *Store) create(acc *Account, blk block.Block) (block.Block, error) {
	signer, err := s.keys.Signer(acc.ID)
	if err != nil {
		return block.Block{}, fmt.Errorf("signer for %s: %w", acc.ID, err)
	}
	if err := blk.Sign(signer); err != nil {
		return block.Block{}, err
	}
	if err := blk.Validate(); err != nil {
		return block.Block{}, err
	}
	s.appendBlock(acc, blk)
	if s.work != nil {
		s.work.Stage(blk.Hash())
	}
	return blk, nil
}

// IsClaimed reports whether the send hash is already received by a local
// chain or waiting as a pending receive. It makes incoming sends idempotent.
func (s *Store) IsClaimed(send types.Hash) bool {
	for _, id := range s.order {
		acc := s.accounts[id]
		if _, ok := acc.Pending[send]; ok {
			return true
		}
		for i := range acc.Chain {
			k := acc.Chain[i].Kind
			if (k == block.KindOpen || k == block.KindReceive) && acc.Chain[i].Source == send {
				return true
			}
		}
	}
	return false
}

// AddPending records that claim (an open or receive block) was synthesized
// for the inbound send.
func (s *Store) AddPending(id types.Account, send, claim types.Hash) error {
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if acc.Pending == nil {
		acc.Pending = make(map[types.Hash]types.Hash)
	}
	acc.Pending[send] = claim
	return nil
}

// ClearPendingClaim drops the pending receive whose claim block is hash.
// It reports whether an entry was removed.
func (s *Store) ClearPendingClaim(hash types.Hash) bool {
	for _, id := range s.order {
		acc := s.accounts[id]
		for send, claim := range acc.Pending {
			if claim == hash {
				delete(acc.Pending, send)
				return true
			}
		}
	}
	return false
}

// PendingReceives returns the inbound send hashes awaiting confirmation.
func (s *Store) PendingReceives(id types.Account) []types.Hash {
	acc, ok := s.accounts[id]
	if !ok {
		return nil
	}
	out := make([]types.Hash, 0, len(acc.Pending))
	for send := range acc.Pending {
		out = append(out, send)
	}
	return out
}
