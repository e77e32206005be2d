// Package decaymap provides a mutex-guarded map whose entries decay after a
// per-entry time to live. Every write restarts the entry's expiry window, and
// an optional size bound evicts the least recently touched entry when the map
// would otherwise grow past it.
package decaymap

import (
	"container/list"
	"sync"
	"time"
)

// Zilch returns the zero value for type T.
func Zilch[T any]() T { return *new(T) }

type entry[K comparable, V any] struct {
	key    K
	value  V
	expiry time.Time
}

// Impl is the decaying map implementation.
type Impl[K comparable, V any] struct {
	lock       sync.Mutex
	entries    map[K]*list.Element
	order      *list.List // front is the most recently touched entry
	maxEntries int
}

// New creates a new decaying map. maxEntries of zero or less means the map
// is unbounded.
func New[K comparable, V any](maxEntries int) *Impl[K, V] {
	return &Impl[K, V]{
		entries:    map[K]*list.Element{},
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the value for key if it is present and has not expired. An
// expired entry is removed on sight and treated as absent. A hit counts as a
// touch for eviction ordering.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return Zilch[V](), false
	}

	ent := el.Value.(*entry[K, V])
	if time.Now().After(ent.expiry) {
		m.remove(el)
		return Zilch[V](), false
	}

	m.order.MoveToFront(el)
	return ent.value, true
}

// Set inserts or replaces the value for key. The expiry window always
// restarts at the time of the call, including on overwrite. If the map is
// bounded and full, the least recently touched entry is evicted first.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	expiry := time.Now().Add(ttl)

	if el, ok := m.entries[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.expiry = expiry
		m.order.MoveToFront(el)
		return
	}

	if m.maxEntries > 0 && m.order.Len() >= m.maxEntries {
		if back := m.order.Back(); back != nil {
			m.remove(back)
		}
	}

	m.entries[key] = m.order.PushFront(&entry[K, V]{key: key, value: value, expiry: expiry})
}

// Delete removes key from the map and reports whether it was present.
// Deleting an absent key is a no-op.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return false
	}

	m.remove(el)
	return true
}

// Cleanup removes every expired entry. Call this periodically so that dead
// entries do not pin memory between reads.
func (m *Impl[K, V]) Cleanup() {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry[K, V]).expiry) {
			m.remove(el)
		}
		el = next
	}
}

// Len returns the number of entries currently held, expired or not.
func (m *Impl[K, V]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.order.Len()
}

// remove must be called with the lock held.
func (m *Impl[K, V]) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*entry[K, V]).key)
}
