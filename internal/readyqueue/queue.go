// Package readyqueue holds signed blocks with completed work that await
// submission to the ledger node.
package readyqueue

import (
	"time"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// ReadyBlock is a block ready to broadcast plus its submission history.
type ReadyBlock struct {
	Block       block.Block `json:"block"`
	Attempts    int         `json:"attempts"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// Hash returns the block hash.
func (r ReadyBlock) Hash() types.Hash {
	return r.Block.Hash()
}

// Queue is an insertion-ordered set of ready blocks keyed by hash.
//
// Queue is not safe for concurrent use; the owning wallet serializes access.
type Queue struct {
	blocks map[types.Hash]*ReadyBlock
	order  []types.Hash
}

// New creates an empty ready queue.
func New() *Queue {
	return &Queue{blocks: make(map[types.Hash]*ReadyBlock)}
}

// Add inserts blk. Adding a block already queued is a no-op and returns false.
func (q *Queue) Add(blk block.Block) bool {
	h := blk.Hash()
	if _, ok := q.blocks[h]; ok {
		return false
	}
	q.blocks[h] = &ReadyBlock{Block: blk}
	q.order = append(q.order, h)
	return true
}

// Remove drops the block with hash h. Returns false if it was not queued.
func (q *Queue) Remove(h types.Hash) bool {
	if _, ok := q.blocks[h]; !ok {
		return false
	}
	delete(q.blocks, h)
	for i, x := range q.order {
		if x == h {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether hash h is queued.
func (q *Queue) Has(h types.Hash) bool {
	_, ok := q.blocks[h]
	return ok
}

// Get returns a copy of the queued entry for h.
func (q *Queue) Get(h types.Hash) (ReadyBlock, bool) {
	rb, ok := q.blocks[h]
	if !ok {
		return ReadyBlock{}, false
	}
	return *rb, true
}

// MarkAttempt records a submission attempt for h at the given time.
func (q *Queue) MarkAttempt(h types.Hash, at time.Time) {
	if rb, ok := q.blocks[h]; ok {
		rb.Attempts++
		rb.LastAttempt = at
	}
}

// List returns a snapshot of queued blocks in insertion order.
func (q *Queue) List() []ReadyBlock {
	out := make([]ReadyBlock, 0, len(q.order))
	for _, h := range q.order {
		out = append(out, *q.blocks[h])
	}
	return out
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	return len(q.order)
}

// Restore replaces the queue contents, keeping order and attempt history.
func (q *Queue) Restore(blocks []ReadyBlock) {
	q.blocks = make(map[types.Hash]*ReadyBlock, len(blocks))
	q.order = q.order[:0]
	for _, rb := range blocks {
		h := rb.Hash()
		if _, ok := q.blocks[h]; ok {
			continue
		}
		entry := rb
		q.blocks[h] = &entry
		q.order = append(q.order, h)
	}
}
