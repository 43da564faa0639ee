package feed

import "sync"

// defaultDedupCapacity bounds the seen-set memory.
const defaultDedupCapacity = 1000

// Dedup is a bounded set of seen transaction hashes. When the set grows past
// its capacity, the oldest half (by insertion order) is evicted, so the most
// recently seen hashes are always retained. It is safe for concurrent use.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string // insertion order, oldest first
}

// NewDedup creates a Dedup holding at most capacity hashes. A capacity of
// zero or less uses the default of 1000.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Dedup{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// IsDuplicate reports whether txHash has been seen before. Unseen hashes are
// recorded and false is returned.
func (d *Dedup) IsDuplicate(txHash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[txHash]; ok {
		return true
	}

	d.seen[txHash] = struct{}{}
	d.order = append(d.order, txHash)

	if len(d.order) > d.capacity {
		d.evictOldestHalf()
	}
	return false
}

// evictOldestHalf drops the first half of the insertion-order list. Caller
// must hold d.mu.
func (d *Dedup) evictOldestHalf() {
	half := len(d.order) / 2
	for _, h := range d.order[:half] {
		delete(d.seen, h)
	}
	remaining := make([]string, len(d.order)-half)
	copy(remaining, d.order[half:])
	d.order = remaining
}

// Len returns the number of hashes currently tracked.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
