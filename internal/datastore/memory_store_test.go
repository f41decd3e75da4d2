package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/ldmodel"
)

func flagItem(key string, version int) interfaces.KeyedItemDescriptor {
	return interfaces.KeyedItemDescriptor{
		Key:  key,
		Item: interfaces.ItemDescriptor{Version: version, Item: &ldmodel.FeatureFlag{Key: key, Version: version}},
	}
}

func TestInMemoryDataStoreInit(t *testing.T) {
	store := NewInMemoryDataStore()
	assert.False(t, store.IsInitialized())

	err := store.Init([]interfaces.Collection{
		{Kind: interfaces.DataKindFeatures, Items: []interfaces.KeyedItemDescriptor{flagItem("a", 1), flagItem("b", 2)}},
	})
	require.NoError(t, err)
	assert.True(t, store.IsInitialized())

	got, err := store.Get(interfaces.DataKindFeatures, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	// A second Init replaces everything.
	require.NoError(t, store.Init([]interfaces.Collection{
		{Kind: interfaces.DataKindFeatures, Items: []interfaces.KeyedItemDescriptor{flagItem("c", 1)}},
	}))
	got, err = store.Get(interfaces.DataKindFeatures, "a")
	require.NoError(t, err)
	assert.Equal(t, interfaces.NotFound(), got)

	all, err := store.GetAll(interfaces.DataKindFeatures)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].Key)

	// Initialization never reverts, even after an empty Init.
	require.NoError(t, store.Init(nil))
	assert.True(t, store.IsInitialized())
}

func TestInMemoryDataStoreUpsertVersionGate(t *testing.T) {
	store := NewInMemoryDataStore()

	put := func(version int) bool {
		updated, err := store.Upsert(interfaces.DataKindFeatures, "f", interfaces.ItemDescriptor{
			Version: version,
			Item:    &ldmodel.FeatureFlag{Key: "f", Version: version},
		})
		require.NoError(t, err)
		return updated
	}

	assert.True(t, put(5))
	assert.False(t, put(5), "equal version must be a no-op")
	assert.False(t, put(4), "lower version must be a no-op")
	assert.True(t, put(6))

	got, _ := store.Get(interfaces.DataKindFeatures, "f")
	assert.Equal(t, 6, got.Version)
}

func TestInMemoryDataStoreDeleteTombstones(t *testing.T) {
	store := NewInMemoryDataStore()

	_, err := store.Upsert(interfaces.DataKindSegments, "s", interfaces.ItemDescriptor{
		Version: 2, Item: &ldmodel.Segment{Key: "s", Version: 2},
	})
	require.NoError(t, err)

	// Delete with a higher version.
	updated, err := store.Upsert(interfaces.DataKindSegments, "s", interfaces.ItemDescriptor{Version: 3})
	require.NoError(t, err)
	assert.True(t, updated)

	got, _ := store.Get(interfaces.DataKindSegments, "s")
	assert.True(t, got.IsDeleted())
	assert.Equal(t, 3, got.Version)

	// The tombstone's version still gates later writes.
	updated, err = store.Upsert(interfaces.DataKindSegments, "s", interfaces.ItemDescriptor{
		Version: 3, Item: &ldmodel.Segment{Key: "s", Version: 3},
	})
	require.NoError(t, err)
	assert.False(t, updated, "resurrecting at the tombstone version must fail")

	// GetAll must exclude tombstones.
	all, err := store.GetAll(interfaces.DataKindSegments)
	require.NoError(t, err)
	assert.Empty(t, all)
}
