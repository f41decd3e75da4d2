package datastore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/ldmodel"
)

func fullChangeSet(t *testing.T, selector datasystem.Selector, flags ...*ldmodel.FeatureFlag) *datasystem.ChangeSet {
	t.Helper()
	b := datasystem.NewChangeSetBuilder()
	b.Start(datasystem.IntentTransferFull)
	for _, f := range flags {
		b.AddPut(interfaces.DataKindFeatures, f.Key, f.Version, f)
	}
	cs, err := b.Finish(selector)
	require.NoError(t, err)
	return cs
}

func TestStoreApplyFullTransfer(t *testing.T) {
	store := NewStore(nil, nil)
	defer store.Close()

	selector := datasystem.NewSelector("s1", 1)
	cs := fullChangeSet(t, selector,
		&ldmodel.FeatureFlag{Key: "x", Version: 1},
		&ldmodel.FeatureFlag{Key: "y", Version: 3},
	)
	require.NoError(t, store.Apply(cs, true))

	assert.True(t, store.IsInitialized())
	assert.Equal(t, selector, store.Selector())

	all, err := store.GetAll(interfaces.DataKindFeatures)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreApplyIncrementalChanges(t *testing.T) {
	store := NewStore(nil, nil)
	defer store.Close()

	require.NoError(t, store.Apply(fullChangeSet(t, datasystem.NewSelector("s1", 1),
		&ldmodel.FeatureFlag{Key: "x", Version: 1}), true))

	b := datasystem.NewChangeSetBuilder()
	b.Start(datasystem.IntentTransferChanges)
	b.AddPut(interfaces.DataKindFeatures, "x", 2, &ldmodel.FeatureFlag{Key: "x", Version: 2})
	b.AddDelete(interfaces.DataKindFeatures, "gone", 7)
	cs, err := b.Finish(datasystem.NewSelector("s2", 2))
	require.NoError(t, err)
	require.NoError(t, store.Apply(cs, true))

	got, _ := store.Get(interfaces.DataKindFeatures, "x")
	assert.Equal(t, 2, got.Version)
	gone, _ := store.Get(interfaces.DataKindFeatures, "gone")
	assert.True(t, gone.IsDeleted())
	assert.Equal(t, "s2", store.Selector().State())
}

func TestStoreApplyStaleVersionIsNoOp(t *testing.T) {
	store := NewStore(nil, nil)
	defer store.Close()

	require.NoError(t, store.Apply(fullChangeSet(t, datasystem.NewSelector("s1", 1),
		&ldmodel.FeatureFlag{Key: "x", Version: 5}), true))

	b := datasystem.NewChangeSetBuilder()
	b.Start(datasystem.IntentTransferChanges)
	b.AddPut(interfaces.DataKindFeatures, "x", 4, &ldmodel.FeatureFlag{Key: "x", Version: 4})
	cs, err := b.Finish(datasystem.NewSelector("s2", 2))
	require.NoError(t, err)
	require.NoError(t, store.Apply(cs, true))

	got, _ := store.Get(interfaces.DataKindFeatures, "x")
	assert.Equal(t, 5, got.Version, "stale version must not overwrite")
	assert.Equal(t, "s2", store.Selector().State(), "selector still advances")
}

func TestStoreApplyNoChangesSentinel(t *testing.T) {
	store := NewStore(nil, nil)
	defer store.Close()

	selector := datasystem.NewSelector("s1", 1)
	require.NoError(t, store.Apply(fullChangeSet(t, selector,
		&ldmodel.FeatureFlag{Key: "x", Version: 1}), true))

	require.NoError(t, store.Apply(datasystem.NoChanges(), true))

	assert.Equal(t, selector, store.Selector(), "no-changes must not move the selector")
	all, _ := store.GetAll(interfaces.DataKindFeatures)
	assert.Len(t, all, 1)
}

func TestStoreFlagChangeNotifications(t *testing.T) {
	store := NewStore(nil, nil)
	defer store.Close()

	changes := store.FlagChanges().Subscribe()

	require.NoError(t, store.Apply(fullChangeSet(t, datasystem.NewSelector("s1", 1),
		&ldmodel.FeatureFlag{Key: "x", Version: 1}), true))

	select {
	case ev := <-changes:
		assert.Equal(t, "x", ev.Key)
	case <-time.After(time.Second):
		t.Fatal("expected a flag change event")
	}
}

// failingStore wraps an InMemoryDataStore and fails writes on demand; it
// also implements the availability probe the Store uses for recovery.
type failingStore struct {
	mu      sync.Mutex
	failing bool
	inner   *InMemoryDataStore

	initCalls int
}

func (f *failingStore) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *failingStore) Init(allData []interfaces.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("backend down")
	}
	f.initCalls++
	return f.inner.Init(allData)
}

func (f *failingStore) Get(kind interfaces.DataKind, key string) (interfaces.ItemDescriptor, error) {
	return f.inner.Get(kind, key)
}

func (f *failingStore) GetAll(kind interfaces.DataKind) ([]interfaces.KeyedItemDescriptor, error) {
	return f.inner.GetAll(kind)
}

func (f *failingStore) Upsert(kind interfaces.DataKind, key string, item interfaces.ItemDescriptor) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, errors.New("backend down")
	}
	return f.inner.Upsert(kind, key, item)
}

func (f *failingStore) IsInitialized() bool { return f.inner.IsInitialized() }
func (f *failingStore) Close() error        { return nil }

func (f *failingStore) IsStoreAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.failing
}

func TestStorePersistOutageAndRecovery(t *testing.T) {
	persist := &failingStore{inner: NewInMemoryDataStore()}
	store := NewStore(persist, nil)
	defer store.Close()

	statusCh := store.StatusUpdates().Subscribe()

	require.NoError(t, store.Apply(fullChangeSet(t, datasystem.NewSelector("s1", 1),
		&ldmodel.FeatureFlag{Key: "x", Version: 1}), true))
	assert.True(t, persist.IsInitialized(), "healthy persist store receives the init")

	// Take the backend down; the next apply should degrade, not fail.
	persist.setFailing(true)
	b := datasystem.NewChangeSetBuilder()
	b.Start(datasystem.IntentTransferChanges)
	b.AddPut(interfaces.DataKindFeatures, "x", 2, &ldmodel.FeatureFlag{Key: "x", Version: 2})
	cs, err := b.Finish(datasystem.NewSelector("s2", 2))
	require.NoError(t, err)
	require.NoError(t, store.Apply(cs, true))

	select {
	case status := <-statusCh:
		assert.False(t, status.Available)
	case <-time.After(time.Second):
		t.Fatal("expected an unavailable status broadcast")
	}

	// In-memory data is unaffected by the outage.
	got, _ := store.Get(interfaces.DataKindFeatures, "x")
	assert.Equal(t, 2, got.Version)

	// Bring the backend back: the monitor should report available+stale.
	persist.setFailing(false)
	select {
	case status := <-statusCh:
		assert.True(t, status.Available)
		assert.True(t, status.Stale)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a recovery status broadcast")
	}

	// Commit re-pushes the snapshot, clearing staleness.
	require.NoError(t, store.Commit())
	inPersist, _ := persist.Get(interfaces.DataKindFeatures, "x")
	assert.Equal(t, 2, inPersist.Version)
}

func TestStoreReadsFallBackToPersistBeforeFirstSync(t *testing.T) {
	persist := &failingStore{inner: NewInMemoryDataStore()}
	require.NoError(t, persist.Init([]interfaces.Collection{
		{Kind: interfaces.DataKindFeatures, Items: []interfaces.KeyedItemDescriptor{flagItem("warm", 9)}},
	}))

	store := NewStore(persist, nil)
	defer store.Close()

	assert.True(t, store.IsInitialized(), "warm persistent store counts as initialized")
	got, err := store.Get(interfaces.DataKindFeatures, "warm")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Version)
}
