// Package interfaces defines the pluggable component contracts of the SDK:
// data stores, Big Segment stores, and the status types surfaced to
// applications. Implementations are selected by dependency injection at
// client construction; nothing in this package performs runtime type
// inspection.
package interfaces

import "io"

// DataKind identifies one of the data collections held by a data store.
type DataKind int

const (
	// DataKindFeatures is the feature flag collection.
	DataKindFeatures DataKind = iota
	// DataKindSegments is the segment collection.
	DataKindSegments
)

// AllDataKinds lists every collection kind, in the order bulk operations
// should process them (segments before flags, so that flags never reference a
// segment that has not been written yet).
func AllDataKinds() []DataKind {
	return []DataKind{DataKindSegments, DataKindFeatures}
}

func (k DataKind) String() string {
	switch k {
	case DataKindFeatures:
		return "features"
	case DataKindSegments:
		return "segments"
	default:
		return "unknown"
	}
}

// ItemDescriptor is a versioned entry in a data store. A nil Item is a
// tombstone: the entry was deleted but its version is retained so that
// out-of-order updates resurrecting the item can be rejected.
type ItemDescriptor struct {
	// Version is the monotonic version of the item. -1 means "not found".
	Version int
	// Item is the stored object (*ldmodel.FeatureFlag or *ldmodel.Segment),
	// or nil for a tombstone.
	Item any
}

// NotFound returns the descriptor used for missing entries.
func NotFound() ItemDescriptor { return ItemDescriptor{Version: -1} }

// IsDeleted reports whether the descriptor is a tombstone.
func (d ItemDescriptor) IsDeleted() bool { return d.Version >= 0 && d.Item == nil }

// KeyedItemDescriptor pairs a key with its descriptor, for bulk operations.
type KeyedItemDescriptor struct {
	Key  string
	Item ItemDescriptor
}

// Collection is all items of one kind, used by bulk Init.
type Collection struct {
	Kind  DataKind
	Items []KeyedItemDescriptor
}

// DataStore holds the flag and segment data that evaluation reads from.
//
// Implementations must be safe for concurrent use. Readers must never observe
// a partially applied Init, and Upsert must apply last-writer-wins by
// version: an incoming item is stored only if its version is strictly greater
// than the stored version, tombstones included.
type DataStore interface {
	io.Closer

	// Init atomically replaces the entire contents of the store. After the
	// first successful Init the store reports IsInitialized true permanently.
	Init(allData []Collection) error

	// Get returns the descriptor for a key, NotFound() if absent. Callers
	// must treat tombstones (IsDeleted) as absent for evaluation purposes.
	Get(kind DataKind, key string) (ItemDescriptor, error)

	// GetAll returns every non-deleted item of a kind.
	GetAll(kind DataKind) ([]KeyedItemDescriptor, error)

	// Upsert inserts or updates an item (or tombstone) under the version
	// gate. It returns true if the store was modified.
	Upsert(kind DataKind, key string, item ItemDescriptor) (bool, error)

	// IsInitialized reports whether the store has ever received a full data
	// set. The transition to true is monotonic.
	IsInitialized() bool
}

// DataStoreStatus describes the availability of a persistent data store.
type DataStoreStatus struct {
	// Available is false while the store backend is unreachable.
	Available bool
	// Stale means the store came back after an outage and may have missed
	// writes; the in-memory state should be committed back to it.
	Stale bool
}

// FlagChangeEvent is broadcast after a data update modifies a flag.
type FlagChangeEvent struct {
	// Key is the key of the affected flag.
	Key string
}
