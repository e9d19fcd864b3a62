package reorg

import (
	"github.com/ethereum/go-ethereum/common"
)

// DedupWindow is a bounded recency set over header hashes: it remembers the
// last capacity distinct hashes, evicting the oldest first. It only gates
// whether reorg detection runs for a header; header rows are written either
// way, so a stale answer costs a redundant detection pass, not correctness.
type DedupWindow struct {
	capacity int
	order    []common.Hash
	present  map[common.Hash]struct{}
}

// NewDedupWindow creates a window holding at most capacity hashes.
func NewDedupWindow(capacity int) *DedupWindow {
	return &DedupWindow{
		capacity: capacity,
		order:    make([]common.Hash, 0, capacity),
		present:  make(map[common.Hash]struct{}, capacity),
	}
}

// Seen reports whether the hash is currently in the window.
func (w *DedupWindow) Seen(hash common.Hash) bool {
	_, ok := w.present[hash]
	return ok
}

// Record adds a hash to the window, evicting the oldest entry at capacity.
// Recording an already present hash is a no-op.
func (w *DedupWindow) Record(hash common.Hash) {
	if w.capacity <= 0 || w.Seen(hash) {
		return
	}

	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.present, oldest)
	}

	w.order = append(w.order, hash)
	w.present[hash] = struct{}{}
}

// Len returns the number of hashes currently held.
func (w *DedupWindow) Len() int {
	return len(w.order)
}
