package bigsegments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/ldreason"
)

type fakeStore struct {
	mu sync.Mutex

	metadata    interfaces.BigSegmentStoreMetadata
	metadataErr error

	memberships    map[string]interfaces.BigSegmentMembership
	membershipErr  error
	membershipHits int
}

func (s *fakeStore) GetMetadata(context.Context) (interfaces.BigSegmentStoreMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata, s.metadataErr
}

func (s *fakeStore) GetMembership(_ context.Context, contextHash string) (interfaces.BigSegmentMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membershipHits++
	if s.membershipErr != nil {
		return nil, s.membershipErr
	}
	return s.memberships[contextHash], nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membershipHits
}

func newTestManager(t *testing.T, store *fakeStore, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(nil, cfg, store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerReturnsMembershipWithHealthyStatus(t *testing.T) {
	hash := HashForContextKey("user-key")
	store := &fakeStore{
		metadata: interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now()},
		memberships: map[string]interfaces.BigSegmentMembership{
			hash: {"seg.g1": true},
		},
	}
	m := newTestManager(t, store, Config{})

	membership, status := m.BigSegmentMembership("user-key")

	assert.Equal(t, ldreason.BigSegmentsHealthy, status)
	included, ok := membership.CheckMembership("seg.g1")
	assert.True(t, ok)
	assert.True(t, included)
}

func TestManagerCachesMembershipPerContext(t *testing.T) {
	store := &fakeStore{
		metadata: interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now()},
	}
	m := newTestManager(t, store, Config{})

	m.BigSegmentMembership("user-key")
	m.BigSegmentMembership("user-key")
	m.BigSegmentMembership("user-key")

	assert.Equal(t, 1, store.hits())

	m.BigSegmentMembership("other-key")
	assert.Equal(t, 2, store.hits())
}

func TestManagerReportsStaleWhenMetadataIsOld(t *testing.T) {
	store := &fakeStore{
		metadata: interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now().Add(-time.Hour)},
	}
	m := newTestManager(t, store, Config{StaleAfter: time.Minute})

	_, status := m.BigSegmentMembership("user-key")
	assert.Equal(t, ldreason.BigSegmentsStale, status)
}

func TestManagerReportsStaleWhenNeverSynchronized(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store, Config{})

	_, status := m.BigSegmentMembership("user-key")
	assert.Equal(t, ldreason.BigSegmentsStale, status)
}

func TestManagerReportsStoreErrorOnMembershipFailure(t *testing.T) {
	store := &fakeStore{
		metadata:      interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now()},
		membershipErr: errors.New("connection refused"),
	}
	m := newTestManager(t, store, Config{})

	membership, status := m.BigSegmentMembership("user-key")
	assert.Nil(t, membership)
	assert.Equal(t, ldreason.BigSegmentsStoreError, status)
}

func TestManagerReportsStoreErrorOnMetadataFailure(t *testing.T) {
	store := &fakeStore{metadataErr: errors.New("connection refused")}
	m := newTestManager(t, store, Config{})

	_, status := m.BigSegmentMembership("user-key")
	assert.Equal(t, ldreason.BigSegmentsStoreError, status)
}

func TestManagerPollLoopUpdatesStatus(t *testing.T) {
	store := &fakeStore{
		metadata: interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now()},
	}
	m := newTestManager(t, store, Config{StatusPollInterval: 10 * time.Millisecond})
	m.Start()

	require.Eventually(t, func() bool {
		s := m.Status()
		return s.Available && !s.Stale
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.metadataErr = errors.New("store went away")
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		return !m.Status().Available
	}, time.Second, 5*time.Millisecond)
}

func TestManagerNilMembershipMeansNoExplicitMemberships(t *testing.T) {
	store := &fakeStore{
		metadata: interfaces.BigSegmentStoreMetadata{LastUpToDate: time.Now()},
	}
	m := newTestManager(t, store, Config{})

	membership, status := m.BigSegmentMembership("user-key")
	assert.Equal(t, ldreason.BigSegmentsHealthy, status)
	_, ok := membership.CheckMembership("seg.g1")
	assert.False(t, ok)
}

func TestHashForContextKeyIsStable(t *testing.T) {
	assert.Equal(t, HashForContextKey("user-key"), HashForContextKey("user-key"))
	assert.NotEqual(t, HashForContextKey("user-key"), HashForContextKey("other-key"))
	// URL-safe alphabet, no padding.
	assert.NotContains(t, HashForContextKey("user-key"), "=")
}
