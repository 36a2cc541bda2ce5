package workpool

import (
	"testing"

	"github.com/getcanoe/canoe-sync/pkg/types"
)

func TestPool_StageIdempotent(t *testing.T) {
	p := New()
	h := types.Hash{0x01}

	if !p.Stage(h) {
		t.Fatal("first Stage should insert")
	}
	if p.Stage(h) {
		t.Error("second Stage should be a no-op")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}

	// Re-staging a completed item must not reset it.
	p.Complete(h, 42)
	p.Stage(h)
	item, _ := p.Get(h)
	if item.Needed || item.Work != 42 {
		t.Errorf("re-stage altered completed item: %+v", item)
	}
}

func TestPool_NextNeededInsertionOrder(t *testing.T) {
	p := New()
	a, b, c := types.Hash{0x0a}, types.Hash{0x0b}, types.Hash{0x0c}
	p.Stage(c)
	p.Stage(a)
	p.Stage(b)

	got, ok := p.NextNeeded()
	if !ok || got != c {
		t.Fatalf("NextNeeded() = %s, %v; want %s", got, ok, c)
	}

	p.Complete(c, 1)
	got, _ = p.NextNeeded()
	if got != a {
		t.Errorf("after completing c, NextNeeded() = %s, want %s", got, a)
	}

	p.Complete(a, 1)
	p.Complete(b, 1)
	if _, ok := p.NextNeeded(); ok {
		t.Error("NextNeeded() should report none after all completed")
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", p.Pending())
	}
}

func TestPool_CompleteUnknownIsNoop(t *testing.T) {
	p := New()
	if p.Complete(types.Hash{0x99}, 7) {
		t.Error("Complete on unknown hash should report false")
	}
	if !p.IsEmpty() {
		t.Error("Complete on unknown hash should not insert")
	}
}

func TestPool_Remove(t *testing.T) {
	p := New()
	a, b := types.Hash{0x0a}, types.Hash{0x0b}
	p.Stage(a)
	p.Stage(b)

	if !p.Remove(a) {
		t.Fatal("Remove(a) should succeed")
	}
	if p.Remove(a) {
		t.Error("second Remove(a) should report false")
	}
	if p.Has(a) {
		t.Error("a still present after Remove")
	}
	got, _ := p.NextNeeded()
	if got != b {
		t.Errorf("NextNeeded() = %s, want %s", got, b)
	}
}

func TestPool_ItemsRestore(t *testing.T) {
	p := New()
	a, b := types.Hash{0x0a}, types.Hash{0x0b}
	p.Stage(a)
	p.Stage(b)
	p.Complete(b, 5)

	q := New()
	q.Restore(p.Items())

	items := q.Items()
	if len(items) != 2 || items[0].Hash != a || items[1].Hash != b {
		t.Fatalf("restored order mismatch: %+v", items)
	}
	if items[1].Needed || items[1].Work != 5 {
		t.Errorf("restored completed item wrong: %+v", items[1])
	}
	if q.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", q.Pending())
	}
}
