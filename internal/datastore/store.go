package datastore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/broadcast"
	"github.com/rafaeljc/bifrost/internal/datasystem"
)

// persistRetryInterval is how often an unavailable persistent store is
// re-probed for recovery.
const persistRetryInterval = 500 * time.Millisecond

// Store is the FDv2 data destination: an in-memory store that change sets
// are applied to, with selector (sync cursor) tracking, optional write-through
// to a persistent store, and flag-change notifications.
//
// Change set application is strictly sequential: the coordinator funnels all
// updates through one consumption loop, and Store serializes Apply calls with
// its own lock besides, so version gating is always evaluated against a
// settled state.
type Store struct {
	logger *slog.Logger

	mem *InMemoryDataStore

	// applyMu serializes Apply/Commit; it is distinct from the memory
	// store's internal lock so that readers are never blocked for the
	// duration of a bulk operation's bookkeeping.
	applyMu sync.Mutex

	// mu guards selector and persist status.
	mu            sync.Mutex
	selector      datasystem.Selector
	persist       interfaces.DataStore
	persistStatus interfaces.DataStoreStatus
	monitorOn     bool

	flagChanges *broadcast.Broadcaster[interfaces.FlagChangeEvent]
	statusBcast *broadcast.Broadcaster[interfaces.DataStoreStatus]

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewStore creates a Store. persist may be nil for a purely in-memory
// configuration; when set, writes are mirrored to it and its outages are
// monitored for recovery.
func NewStore(persist interfaces.DataStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger,
		mem:           NewInMemoryDataStore(),
		persist:       persist,
		persistStatus: interfaces.DataStoreStatus{Available: true},
		flagChanges:   broadcast.NewBroadcaster[interfaces.FlagChangeEvent](),
		statusBcast:   broadcast.NewBroadcaster[interfaces.DataStoreStatus](),
		stopCh:        make(chan struct{}),
	}
}

// Apply applies one change set atomically: full transfers replace all
// collections, incremental transfers upsert/delete item by item under the
// version gate. The selector advances only after successful application.
// shouldPersist controls mirroring to the persistent store, when configured.
func (s *Store) Apply(cs *datasystem.ChangeSet, shouldPersist bool) error {
	if cs == nil {
		return nil
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	var changedFlags []string

	switch cs.IntentCode() {
	case datasystem.IntentTransferNone:
		// "Nothing changed" sentinel: no content or selector updates.
		return nil

	case datasystem.IntentTransferFull:
		collections := collectionsFromChanges(cs.Changes())
		changedFlags = s.diffFlagKeys(collections)
		if err := s.mem.Init(collections); err != nil {
			return fmt.Errorf("applying full transfer: %w", err)
		}
		if p := s.persistTarget(shouldPersist); p != nil {
			if err := p.Init(collections); err != nil {
				s.markPersistUnavailable(err)
			}
		}

	case datasystem.IntentTransferChanges:
		p := s.persistTarget(shouldPersist)
		for _, change := range cs.Changes() {
			desc := interfaces.ItemDescriptor{Version: change.Version}
			if change.Action == datasystem.ChangePut {
				desc.Item = change.Object
			}
			updated, err := s.mem.Upsert(change.Kind, change.Key, desc)
			if err != nil {
				return fmt.Errorf("applying change for %s %q: %w", change.Kind, change.Key, err)
			}
			if updated && change.Kind == interfaces.DataKindFeatures {
				changedFlags = append(changedFlags, change.Key)
			}
			if p != nil {
				if _, err := p.Upsert(change.Kind, change.Key, desc); err != nil {
					s.markPersistUnavailable(err)
					p = nil // stop mirroring this set; recovery re-pushes everything
				}
			}
		}

	default:
		return fmt.Errorf("unknown change set intent %q", cs.IntentCode())
	}

	if sel := cs.Selector(); sel.IsDefined() {
		s.mu.Lock()
		s.selector = sel
		s.mu.Unlock()
	}

	for _, key := range changedFlags {
		s.flagChanges.Broadcast(interfaces.FlagChangeEvent{Key: key})
	}
	return nil
}

// Commit re-pushes the current in-memory snapshot to the persistent store.
// It is used after a persistent store outage, when the store may have missed
// writes.
func (s *Store) Commit() error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.persist == nil {
		return nil
	}
	if !s.mem.IsInitialized() {
		return nil
	}
	snapshot := s.mem.snapshot()
	if err := s.persist.Init(snapshot); err != nil {
		return fmt.Errorf("committing snapshot to persistent store: %w", err)
	}
	s.setPersistStatus(interfaces.DataStoreStatus{Available: true})
	return nil
}

// Selector returns the current sync position.
func (s *Store) Selector() datasystem.Selector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selector
}

// Get reads one item. While the in-memory store has not yet been initialized,
// reads fall back to the persistent store, so that a warm database can serve
// evaluations before the first sync completes.
func (s *Store) Get(kind interfaces.DataKind, key string) (interfaces.ItemDescriptor, error) {
	if s.mem.IsInitialized() || s.persist == nil {
		return s.mem.Get(kind, key)
	}
	return s.persist.Get(kind, key)
}

// GetAll reads all non-deleted items of a kind, with the same fallback rule
// as Get.
func (s *Store) GetAll(kind interfaces.DataKind) ([]interfaces.KeyedItemDescriptor, error) {
	if s.mem.IsInitialized() || s.persist == nil {
		return s.mem.GetAll(kind)
	}
	return s.persist.GetAll(kind)
}

// IsInitialized reports whether any backing layer has received a full data
// set.
func (s *Store) IsInitialized() bool {
	if s.mem.IsInitialized() {
		return true
	}
	return s.persist != nil && s.persist.IsInitialized()
}

// FlagChanges exposes the flag-change broadcaster for flag tracking.
func (s *Store) FlagChanges() *broadcast.Broadcaster[interfaces.FlagChangeEvent] {
	return s.flagChanges
}

// StatusUpdates exposes the persistent-store status broadcaster. The
// coordinator listens on it to trigger Commit when the store recovers from
// an outage.
func (s *Store) StatusUpdates() *broadcast.Broadcaster[interfaces.DataStoreStatus] {
	return s.statusBcast
}

// Status returns the current persistent-store status. Without a persistent
// store it is always available.
func (s *Store) Status() interfaces.DataStoreStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistStatus
}

// Close releases the broadcasters and the underlying stores.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.flagChanges.Close()
		s.statusBcast.Close()
		if s.persist != nil {
			err = s.persist.Close()
		}
	})
	return err
}

// persistTarget returns the persistent store if mirroring should happen for
// this apply, or nil.
func (s *Store) persistTarget(shouldPersist bool) interfaces.DataStore {
	if !shouldPersist || s.persist == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.persistStatus.Available {
		return nil
	}
	return s.persist
}

func (s *Store) setPersistStatus(status interfaces.DataStoreStatus) {
	s.mu.Lock()
	changed := s.persistStatus != status
	s.persistStatus = status
	s.mu.Unlock()
	if changed {
		s.statusBcast.Broadcast(status)
	}
}

// markPersistUnavailable records a persistent store failure and starts the
// recovery probe if it is not already running.
func (s *Store) markPersistUnavailable(cause error) {
	s.logger.Error("persistent store write failed; entering degraded mode",
		slog.String("error", cause.Error()),
	)
	s.mu.Lock()
	alreadyMonitoring := s.monitorOn
	s.monitorOn = true
	s.mu.Unlock()

	s.setPersistStatus(interfaces.DataStoreStatus{Available: false})
	if !alreadyMonitoring {
		go s.monitorPersistRecovery()
	}
}

// monitorPersistRecovery polls the persistent store until it responds again,
// then broadcasts an available-but-stale status. The coordinator reacts to
// that by calling Commit, which re-pushes any writes the store missed.
func (s *Store) monitorPersistRecovery() {
	ticker := time.NewTicker(persistRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.probePersist() {
				s.mu.Lock()
				s.monitorOn = false
				s.mu.Unlock()
				s.logger.Warn("persistent store is available again; scheduling snapshot commit")
				s.setPersistStatus(interfaces.DataStoreStatus{Available: true, Stale: true})
				return
			}
		}
	}
}

func (s *Store) probePersist() bool {
	type availabilityChecker interface{ IsStoreAvailable() bool }
	if c, ok := s.persist.(availabilityChecker); ok {
		return c.IsStoreAvailable()
	}
	// No explicit probe: optimistically assume one retry interval is enough.
	return true
}

// diffFlagKeys computes which flag keys will change when the given
// collections replace the current contents, for change notifications.
func (s *Store) diffFlagKeys(collections []interfaces.Collection) []string {
	if !s.flagChanges.HasSubscribers() {
		return nil
	}
	current, err := s.mem.GetAll(interfaces.DataKindFeatures)
	if err != nil {
		return nil
	}
	oldVersions := make(map[string]int, len(current))
	for _, item := range current {
		oldVersions[item.Key] = item.Item.Version
	}
	var changed []string
	for _, coll := range collections {
		if coll.Kind != interfaces.DataKindFeatures {
			continue
		}
		for _, item := range coll.Items {
			if v, existed := oldVersions[item.Key]; !existed || v != item.Item.Version {
				changed = append(changed, item.Key)
			}
			delete(oldVersions, item.Key)
		}
	}
	// Anything left in oldVersions disappears with this init.
	for key := range oldVersions {
		changed = append(changed, key)
	}
	return changed
}

// collectionsFromChanges groups a full transfer's put operations into Init
// collections. Deletes inside a full transfer become tombstones.
func collectionsFromChanges(changes []datasystem.Change) []interfaces.Collection {
	byKind := make(map[interfaces.DataKind][]interfaces.KeyedItemDescriptor)
	for _, change := range changes {
		desc := interfaces.ItemDescriptor{Version: change.Version}
		if change.Action == datasystem.ChangePut {
			desc.Item = change.Object
		}
		byKind[change.Kind] = append(byKind[change.Kind], interfaces.KeyedItemDescriptor{
			Key:  change.Key,
			Item: desc,
		})
	}
	out := make([]interfaces.Collection, 0, len(byKind))
	for _, kind := range interfaces.AllDataKinds() {
		out = append(out, interfaces.Collection{Kind: kind, Items: byKind[kind]})
	}
	return out
}

// snapshot captures the store's full contents, tombstones included, for
// Commit.
func (s *InMemoryDataStore) snapshot() []interfaces.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]interfaces.Collection, 0, len(s.items))
	for _, kind := range interfaces.AllDataKinds() {
		m := s.items[kind]
		items := make([]interfaces.KeyedItemDescriptor, 0, len(m))
		for key, item := range m {
			items = append(items, interfaces.KeyedItemDescriptor{Key: key, Item: item})
		}
		out = append(out, interfaces.Collection{Kind: kind, Items: items})
	}
	return out
}
