// Package store implements the shared, versioned key/value data store: a
// typed mapping from string keys to versioned cells, with a bounded hot-key
// fast path (see hotkey.go), subscriber notification, and per-key expiry.
package store

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// ExpirationPolicy controls time-to-live eviction for a single key.
type ExpirationPolicy struct {
	TTL time.Duration
}

// Subscription is returned by Store.Subscribe; call Unsubscribe to
// deregister. Double-unsubscribe is a safe no-op.
type Subscription interface {
	Unsubscribe()
}

type entry struct {
	mu         sync.RWMutex
	value      any
	typ        reflect.Type
	version    uint64
	updatedAt  time.Time
	expiration *ExpirationPolicy
	acl        string // advisory metadata only; never checked on the fast path
	observers  []*subscription
}

type subscription struct {
	key     string
	fn      func(value any)
	removed bool
}

// Metrics tallies the counters named in the runtime's external interface
// contract (set_calls, get_calls, poll_calls).
type Metrics struct {
	mu        sync.Mutex
	SetCalls  uint64
	GetCalls  uint64
	PollCalls uint64
}

func (m *Metrics) incSet()  { m.mu.Lock(); m.SetCalls++; m.mu.Unlock() }
func (m *Metrics) incGet()  { m.mu.Lock(); m.GetCalls++; m.mu.Unlock() }
func (m *Metrics) incPoll() { m.mu.Lock(); m.PollCalls++; m.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{SetCalls: m.SetCalls, GetCalls: m.GetCalls, PollCalls: m.PollCalls}
}

// Store is the process-singleton data store. It is constructed once in
// main() and passed by reference to collaborators; there is no package-level
// mutable state.
type Store struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	entries map[string]*entry
	hotKeys *HotKeyCache
	metrics Metrics
}

// New constructs an empty store with a hot-key cache of the given capacity
// (0 selects the default capacity of 32).
func New(logger *zap.Logger, hotKeyCapacity int) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:  logger,
		entries: make(map[string]*entry),
		hotKeys: NewHotKeyCache(hotKeyCapacity),
	}
}

// RegisterHotKey pre-registers id as a hot key. Must be called before the RT
// loop starts reading/writing it; registration after start is rejected by
// HotKeyCache itself once Freeze has been called.
func (s *Store) RegisterHotKey(id string) error {
	return s.hotKeys.Register(id)
}

// Freeze locks hot-key registration; call once before entering the RT loop.
func (s *Store) Freeze() { s.hotKeys.Freeze() }

// Set writes a value under id. The first write fixes the key's runtime
// type; a later Set with a different type fails with ErrTypeMismatch.
//
// Hot keys take a separate, lock-free path straight into the HotKeyCache's
// seqlock cell: no s.mu, no per-entry mutex, no subscriber dispatch. That
// path is the only one safe to call from the RT cycle, which may not block
// on a lock held by a Non-RT thread or run unbounded observer code.
func (s *Store) Set(id string, value any, policy *ExpirationPolicy) error {
	s.metrics.incSet()
	now := time.Now()

	if s.hotKeys.Has(id) {
		if cur, ok := s.hotKeys.Get(id); ok && cur != nil && reflect.TypeOf(cur) != reflect.TypeOf(value) {
			return rterrors.Wrapf(rterrors.ErrTypeMismatch, "store: set %q as %T, expected %T", id, value, cur)
		}
		return s.hotKeys.Set(id, value, now)
	}

	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists {
		e = &entry{typ: reflect.TypeOf(value), expiration: policy, acl: ""}
		s.entries[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	if e.typ != nil && reflect.TypeOf(value) != e.typ {
		e.mu.Unlock()
		return rterrors.Wrapf(rterrors.ErrTypeMismatch, "store: set %q as %T, expected %s", id, value, e.typ)
	}
	if e.typ == nil {
		e.typ = reflect.TypeOf(value)
	}
	e.value = value
	e.version++
	e.updatedAt = now
	observers := append([]*subscription(nil), e.observers...)
	e.mu.Unlock()

	for _, sub := range observers {
		if !sub.removed {
			sub.fn(value)
		}
	}
	return nil
}

// Get reads the current value of id, type-asserting it to T.
func Get[T any](s *Store, id string) (T, error) {
	var zero T
	s.metrics.incGet()

	if s.hotKeys.Has(id) {
		if v, ok := s.hotKeys.Get(id); ok {
			typed, ok := v.(T)
			if !ok {
				return zero, rterrors.Wrapf(rterrors.ErrTypeMismatch, "store: get %q", id)
			}
			return typed, nil
		}
	}

	s.mu.RLock()
	e, exists := s.entries[id]
	s.mu.RUnlock()
	if !exists {
		return zero, rterrors.Wrapf(rterrors.ErrNotFound, "store: get %q", id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.value == nil {
		return zero, rterrors.Wrapf(rterrors.ErrNotFound, "store: get %q", id)
	}
	typed, ok := e.value.(T)
	if !ok {
		return zero, rterrors.Wrapf(rterrors.ErrTypeMismatch, "store: get %q", id)
	}
	return typed, nil
}

// Poll is an alias for Get that additionally increments the poll_calls
// metric, matching the external contract's distinction between a one-shot
// Get and a repeated Poll from a background loop.
func Poll[T any](s *Store, id string) (T, error) {
	s.metrics.incPoll()
	return Get[T](s, id)
}

// Subscribe registers fn to be invoked synchronously, in Set's goroutine,
// on every future write to id. Writes to a registered hot key do not notify
// subscribers (see Set). The returned Subscription's Unsubscribe removes fn;
// handlers must not call back into the store under the same key.
func (s *Store) Subscribe(id string, fn func(value any)) Subscription {
	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists {
		e = &entry{}
		s.entries[id] = e
	}
	s.mu.Unlock()

	sub := &subscription{key: id, fn: fn}
	e.mu.Lock()
	e.observers = append(e.observers, sub)
	e.mu.Unlock()

	return &unsubscriber{store: s, id: id, sub: sub}
}

type unsubscriber struct {
	store *Store
	id    string
	sub   *subscription
}

func (u *unsubscriber) Unsubscribe() {
	u.sub.removed = true
	u.store.mu.RLock()
	e, exists := u.store.entries[u.id]
	u.store.mu.RUnlock()
	if !exists {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.observers {
		if s == u.sub {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			break
		}
	}
}

// CleanExpired removes every entry whose expiration policy has elapsed.
func (s *Store) CleanExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		e.mu.RLock()
		expired := e.expiration != nil && now.Sub(e.updatedAt) > e.expiration.TTL
		e.mu.RUnlock()
		if expired {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Metrics returns a snapshot of the store's call counters.
func (s *Store) Metrics() Metrics { return s.metrics.Snapshot() }

// String implements fmt.Stringer for diagnostic logging.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("store{keys=%d, hotkeys=%d}", len(s.entries), s.hotKeys.Count())
}
