package readyqueue

import (
	"testing"
	"time"

	"github.com/getcanoe/canoe-sync/pkg/block"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

func testBlock(n byte) block.Block {
	return block.Block{
		Kind:           block.KindChange,
		Account:        types.Account{0x02, n},
		Previous:       types.Hash{n},
		Representative: types.Account{0x03},
		Work:           types.Work(n),
	}
}

func TestQueue_AddRemove(t *testing.T) {
	q := New()
	a, b := testBlock(1), testBlock(2)

	if !q.Add(a) {
		t.Fatal("Add(a) should insert")
	}
	if q.Add(a) {
		t.Error("second Add(a) should be a no-op")
	}
	q.Add(b)

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	if !q.Remove(a.Hash()) {
		t.Error("Remove(a) should succeed")
	}
	if q.Remove(a.Hash()) {
		t.Error("Remove(a) twice should report false")
	}
	if q.Has(a.Hash()) || !q.Has(b.Hash()) {
		t.Error("unexpected membership after Remove")
	}
}

func TestQueue_ListOrderAndAttempts(t *testing.T) {
	q := New()
	a, b, c := testBlock(3), testBlock(1), testBlock(2)
	q.Add(a)
	q.Add(b)
	q.Add(c)

	now := time.Unix(1700000000, 0)
	q.MarkAttempt(b.Hash(), now)
	q.MarkAttempt(b.Hash(), now.Add(time.Second))

	list := q.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	want := []types.Hash{a.Hash(), b.Hash(), c.Hash()}
	for i, rb := range list {
		if rb.Hash() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, rb.Hash(), want[i])
		}
	}
	if list[1].Attempts != 2 || !list[1].LastAttempt.Equal(now.Add(time.Second)) {
		t.Errorf("attempt history = %d @ %v", list[1].Attempts, list[1].LastAttempt)
	}

	// Snapshot must not alias internal state.
	list[0].Attempts = 99
	if rb, _ := q.Get(a.Hash()); rb.Attempts != 0 {
		t.Error("List() returned aliased entries")
	}
}

func TestQueue_Restore(t *testing.T) {
	q := New()
	q.Add(testBlock(1))
	b2 := testBlock(2)
	q.Add(b2)
	q.MarkAttempt(b2.Hash(), time.Unix(5, 0))

	r := New()
	r.Restore(q.List())
	if r.Len() != 2 {
		t.Fatalf("restored Len() = %d, want 2", r.Len())
	}
	rb, ok := r.Get(b2.Hash())
	if !ok || rb.Attempts != 1 {
		t.Errorf("restored entry = %+v, %v", rb, ok)
	}
}
