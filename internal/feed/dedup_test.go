package feed

import (
	"fmt"
	"testing"
)

func TestDedupSuppressesRepeats(t *testing.T) {
	d := NewDedup(100)

	if d.IsDuplicate("0xabc") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("0xabc") {
		t.Fatal("second sighting not reported as duplicate")
	}
	if d.IsDuplicate("0xdef") {
		t.Fatal("unrelated hash reported as duplicate")
	}
}

func TestDedupEvictsOldestHalf(t *testing.T) {
	const capacity = 10
	d := NewDedup(capacity)

	for i := 0; i < capacity+1; i++ {
		d.IsDuplicate(fmt.Sprintf("0x%03d", i))
	}

	// Inserting one past capacity drops the oldest half. The survivors are
	// the most recent ceil(n/2) hashes.
	if got := d.Len(); got != 6 {
		t.Fatalf("after eviction Len() = %d, want 6", got)
	}

	// Oldest hashes were evicted and count as unseen again.
	if d.IsDuplicate("0x000") {
		t.Error("evicted hash 0x000 still reported as duplicate")
	}
	// Recent hashes survive eviction.
	if !d.IsDuplicate("0x010") {
		t.Error("recent hash 0x010 was evicted")
	}
	if !d.IsDuplicate("0x006") {
		t.Error("recent hash 0x006 was evicted")
	}
}

func TestDedupNeverEvictsNewerBeforeOlder(t *testing.T) {
	d := NewDedup(4)
	hashes := []string{"a", "b", "c", "d", "e"}
	for _, h := range hashes {
		d.IsDuplicate(h)
	}
	// Eviction dropped a and b; c, d, e remain.
	for _, h := range []string{"c", "d", "e"} {
		if !d.IsDuplicate(h) {
			t.Errorf("hash %q evicted while older entries had already been dropped", h)
		}
	}
}

func TestDedupDefaultCapacity(t *testing.T) {
	d := NewDedup(0)
	if d.capacity != defaultDedupCapacity {
		t.Fatalf("capacity = %d, want %d", d.capacity, defaultDedupCapacity)
	}
}
