// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"sync"
)

// Memo memoizes the results of a pure function, safe for concurrent use. Once
// it holds maxEntries results, new keys are still computed but no longer
// stored. A maxEntries of 0 disables the bound.
type Memo[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]V
	maxEntries int
}

func NewMemo[K comparable, V any](maxEntries int) *Memo[K, V] {
	return &Memo[K, V]{
		entries:    make(map[K]V),
		maxEntries: maxEntries,
	}
}

func (m *Memo[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, found := m.entries[key]
	return v, found
}

// GetOrCompute returns the memoized result for the key, computing it with fn
// when missing. fn can run more than once for the same key under concurrent
// access.
func (m *Memo[K, V]) GetOrCompute(key K, fn func(K) V) V {
	if v, found := m.Get(key); found {
		return v
	}
	v := fn(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxEntries == 0 || len(m.entries) < m.maxEntries {
		m.entries[key] = v
	}
	return v
}

func (m *Memo[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
