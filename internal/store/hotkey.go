package store

import (
	"sync"
	"time"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
	"github.com/fenwick-robotics/rtstack/internal/seqlock"
)

// DefaultHotKeyCapacity is the default bound on the number of hot keys.
const DefaultHotKeyCapacity = 32

// HotKeyCache is a bounded, sub-100ns-target fast path for a small set of
// frequently accessed keys, each backed by its own seqlock.Cell. Keys must
// be registered before the cache is frozen (the RT loop starting); there is
// no removal once registered.
type HotKeyCache struct {
	capacity int

	mu       sync.RWMutex // guards the slot/index maps only, never the cells
	slots    []*seqlock.Cell[any]
	index    map[string]int
	frozen   bool
}

// NewHotKeyCache constructs a cache with the given capacity (0 selects
// DefaultHotKeyCapacity).
func NewHotKeyCache(capacity int) *HotKeyCache {
	if capacity <= 0 {
		capacity = DefaultHotKeyCapacity
	}
	return &HotKeyCache{
		capacity: capacity,
		index:    make(map[string]int, capacity),
	}
}

// Register pre-allocates a cell for id. Fails with ErrCapacityExceeded if
// full, or if called after Freeze.
func (h *HotKeyCache) Register(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frozen {
		return rterrors.Wrapf(rterrors.ErrCapacityExceeded, "hotkey: %q registered after freeze", id)
	}
	if _, exists := h.index[id]; exists {
		return nil
	}
	if len(h.slots) >= h.capacity {
		return rterrors.Wrapf(rterrors.ErrCapacityExceeded, "hotkey: capacity %d exceeded registering %q", h.capacity, id)
	}
	h.index[id] = len(h.slots)
	h.slots = append(h.slots, seqlock.NewCell[any]())
	return nil
}

// Freeze locks out further registration; called once before the RT loop
// begins reading/writing hot keys.
func (h *HotKeyCache) Freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frozen = true
}

// Has reports whether id was pre-registered as a hot key.
func (h *HotKeyCache) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.index[id]
	return ok
}

// Count returns the number of registered hot keys.
func (h *HotKeyCache) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.slots)
}

// cellFor resolves id to its cell without taking the slow-path lock once
// the index has been read; the slots slice itself is append-only before
// Freeze and immutable after, so no lock is required to read an entry.
func (h *HotKeyCache) cellFor(id string) (*seqlock.Cell[any], bool) {
	h.mu.RLock()
	idx, ok := h.index[id]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.slots[idx], true
}

// Set writes value for a registered hot key. Returns ErrNotFound if id was
// never registered.
func (h *HotKeyCache) Set(id string, value any, now time.Time) error {
	cell, ok := h.cellFor(id)
	if !ok {
		return rterrors.Wrapf(rterrors.ErrNotFound, "hotkey: %q not registered", id)
	}
	cell.Store(value, now)
	return nil
}

// Get performs a retry-bounded optimistic read of a registered hot key.
func (h *HotKeyCache) Get(id string) (any, bool) {
	cell, ok := h.cellFor(id)
	if !ok {
		return nil, false
	}
	v, _, ok := seqlock.TryOptimisticRead(cell, seqlock.DefaultRetryBound)
	return v, ok
}
