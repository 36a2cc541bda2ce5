// Package workpool tracks block hashes that need proof-of-work.
package workpool

import (
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Item is one entry of the work pool. Needed is true until Work is set.
type Item struct {
	Hash   types.Hash `json:"hash"`
	Needed bool       `json:"needed"`
	Work   types.Work `json:"work,omitempty"`
}

// Pool holds work items keyed by block hash, scanned in insertion order.
//
// Pool is not safe for concurrent use. It is owned by a wallet and only
// mutated through the wallet's single writer.
type Pool struct {
	items map[types.Hash]*Item
	order []types.Hash
}

// New creates an empty work pool.
func New() *Pool {
	return &Pool{items: make(map[types.Hash]*Item)}
}

// Stage inserts hash as needing work. Staging a hash that is already present
// is a no-op and returns false.
func (p *Pool) Stage(hash types.Hash) bool {
	if _, ok := p.items[hash]; ok {
		return false
	}
	p.items[hash] = &Item{Hash: hash, Needed: true}
	p.order = append(p.order, hash)
	return true
}

// NextNeeded returns the oldest staged hash still needing work.
func (p *Pool) NextNeeded() (types.Hash, bool) {
	for _, h := range p.order {
		if p.items[h].Needed {
			return h, true
		}
	}
	return types.Hash{}, false
}

// Complete records the work result for hash. Unknown hashes are ignored.
func (p *Pool) Complete(hash types.Hash, work types.Work) bool {
	item, ok := p.items[hash]
	if !ok {
		return false
	}
	item.Needed = false
	item.Work = work
	return true
}

// Get returns a copy of the item for hash.
func (p *Pool) Get(hash types.Hash) (Item, bool) {
	item, ok := p.items[hash]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Has reports whether hash is in the pool.
func (p *Pool) Has(hash types.Hash) bool {
	_, ok := p.items[hash]
	return ok
}

// Remove drops hash from the pool.
func (p *Pool) Remove(hash types.Hash) bool {
	if _, ok := p.items[hash]; !ok {
		return false
	}
	delete(p.items, hash)
	for i, h := range p.order {
		if h == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of items, needed or completed.
func (p *Pool) Len() int {
	return len(p.order)
}

// IsEmpty reports whether the pool has no items.
func (p *Pool) IsEmpty() bool {
	return len(p.order) == 0
}

// Pending returns the number of items still needing work.
func (p *Pool) Pending() int {
	n := 0
	for _, item := range p.items {
		if item.Needed {
			n++
		}
	}
	return n
}

// Items returns a snapshot of all items in insertion order.
func (p *Pool) Items() []Item {
	out := make([]Item, 0, len(p.order))
	for _, h := range p.order {
		out = append(out, *p.items[h])
	}
	return out
}

// Restore replaces the pool contents with items, keeping their order.
// Duplicate hashes keep the first occurrence.
func (p *Pool) Restore(items []Item) {
	p.items = make(map[types.Hash]*Item, len(items))
	p.order = p.order[:0]
	for _, it := range items {
		if _, ok := p.items[it.Hash]; ok {
			continue
		}
		item := it
		p.items[it.Hash] = &item
		p.order = append(p.order, it.Hash)
	}
}
