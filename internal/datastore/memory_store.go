// Package datastore holds the flag/segment data that evaluation reads from:
// a thread-safe in-memory store, plus the FDv2 Store wrapper that applies
// change sets, tracks the sync selector, and optionally mirrors writes to a
// persistent backing store.
package datastore

import (
	"sync"

	"github.com/rafaeljc/bifrost/interfaces"
)

// Compile-time check that the memory store satisfies the store contract.
var _ interfaces.DataStore = (*InMemoryDataStore)(nil)

// InMemoryDataStore is the default DataStore implementation: plain maps
// guarded by a read/write lock. Reads are lock-shared and never observe a
// partially applied Init; writes are serialized.
type InMemoryDataStore struct {
	mu          sync.RWMutex
	items       map[interfaces.DataKind]map[string]interfaces.ItemDescriptor
	initialized bool
}

// NewInMemoryDataStore creates an empty, uninitialized store.
func NewInMemoryDataStore() *InMemoryDataStore {
	items := make(map[interfaces.DataKind]map[string]interfaces.ItemDescriptor)
	for _, kind := range interfaces.AllDataKinds() {
		items[kind] = make(map[string]interfaces.ItemDescriptor)
	}
	return &InMemoryDataStore{items: items}
}

// Init atomically replaces all collections and marks the store initialized.
func (s *InMemoryDataStore) Init(allData []interfaces.Collection) error {
	fresh := make(map[interfaces.DataKind]map[string]interfaces.ItemDescriptor)
	for _, kind := range interfaces.AllDataKinds() {
		fresh[kind] = make(map[string]interfaces.ItemDescriptor)
	}
	for _, coll := range allData {
		m := fresh[coll.Kind]
		if m == nil {
			m = make(map[string]interfaces.ItemDescriptor)
			fresh[coll.Kind] = m
		}
		for _, item := range coll.Items {
			m[item.Key] = item.Item
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = fresh
	// Initialization is monotonic: once a full data set has been received,
	// the store never reports uninitialized again.
	s.initialized = true
	return nil
}

// Get returns the descriptor stored under a key, including tombstones.
func (s *InMemoryDataStore) Get(kind interfaces.DataKind, key string) (interfaces.ItemDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[kind][key]; ok {
		return item, nil
	}
	return interfaces.NotFound(), nil
}

// GetAll returns every non-deleted item of a kind.
func (s *InMemoryDataStore) GetAll(kind interfaces.DataKind) ([]interfaces.KeyedItemDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.items[kind]
	out := make([]interfaces.KeyedItemDescriptor, 0, len(m))
	for key, item := range m {
		if item.IsDeleted() {
			continue
		}
		out = append(out, interfaces.KeyedItemDescriptor{Key: key, Item: item})
	}
	return out, nil
}

// Upsert stores the item only if its version is strictly greater than the
// current one (tombstones participate in the comparison). Returns true if
// the store was modified.
func (s *InMemoryDataStore) Upsert(kind interfaces.DataKind, key string, item interfaces.ItemDescriptor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.items[kind]
	if m == nil {
		m = make(map[string]interfaces.ItemDescriptor)
		s.items[kind] = m
	}
	if current, ok := m[key]; ok && current.Version >= item.Version {
		return false, nil
	}
	m[key] = item
	return true, nil
}

// IsInitialized reports whether Init has ever succeeded.
func (s *InMemoryDataStore) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Close is a no-op for the in-memory store.
func (s *InMemoryDataStore) Close() error { return nil }
