package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datastore"
	"github.com/rafaeljc/bifrost/internal/datasystem"
)

func newTestStore(t *testing.T) *datastore.Store {
	t.Helper()
	store := datastore.NewStore(nil, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const pollingPayload = `[
	{"event":"server-intent","data":{"payload":{"code":"xfer-full"}}},
	{"event":"put-object","data":{"kind":"flag","key":"x","version":2,"object":{"key":"x","version":2}}},
	{"event":"payload-transferred","data":{"state":"p1","version":1}}
]`

func TestPollingSynchronizerShouldDeliverPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdk/poll", r.URL.Path)
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(pollingPayload))
	}))
	defer server.Close()

	sync := NewPollingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector, time.Minute)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceValid, update.State)
	require.NotNil(t, update.ChangeSet)
	assert.Equal(t, datasystem.IntentTransferFull, update.ChangeSet.IntentCode())
	require.Len(t, update.ChangeSet.Changes(), 1)
	assert.Equal(t, "p1", update.ChangeSet.Selector().State())
}

func TestPollingSynchronizerShouldTreat304AsNoChanges(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(pollingPayload))
			return
		}
		assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	sync := NewPollingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector, time.Second)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	updates := collectUpdates(t, updatesCh, 2)
	require.NotNil(t, updates[1].ChangeSet)
	assert.Equal(t, datasystem.IntentTransferNone, updates[1].ChangeSet.IntentCode())

	store := newTestStore(t)
	require.NoError(t, store.Apply(updates[0].ChangeSet, true))
	selectorBefore := store.Selector()
	require.NoError(t, store.Apply(updates[1].ChangeSet, true))
	assert.Equal(t, selectorBefore, store.Selector())
}

func TestPollingSynchronizerShouldGoOffOnTerminalStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sync := NewPollingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector, time.Minute)
	updatesCh := make(chan datasystem.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Sync(context.Background(), updatesCh)
	}()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceOff, update.State)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("terminal failure must end the sync loop")
	}
}

func TestPollingSynchronizerShouldStayUpThroughRecoverableStatus(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(pollingPayload))
	}))
	defer server.Close()

	sync := NewPollingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector, time.Second)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	updates := collectUpdates(t, updatesCh, 2)
	assert.Equal(t, interfaces.DataSourceInterrupted, updates[0].State)
	assert.Equal(t, interfaces.DataSourceValid, updates[1].State)
}

func TestPollingInitializerShouldFetchOneChangeSet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pollingPayload))
	}))
	defer server.Close()

	init := NewPollingInitializer(nil, EndpointConfig{BaseURI: server.URL})
	cs, err := init.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.True(t, cs.Selector().IsDefined())
}

func TestPollingInitializerShouldPropagateHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	init := NewPollingInitializer(nil, EndpointConfig{BaseURI: server.URL})
	_, err := init.Fetch(context.Background())
	assert.Error(t, err)
}

func TestParsePollingPayloadShouldRejectTruncatedPayload(t *testing.T) {
	_, err := parsePollingPayload([]byte(`[{"event":"server-intent","data":{"payload":{"code":"xfer-full"}}}]`))
	assert.Error(t, err, "payload without payload-transferred is malformed")
}

func TestFDv1SynchronizerShouldSynthesizeFullTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdk/latest-all", r.URL.Path)
		_, _ = w.Write([]byte(`{"flags":{"x":{"key":"x","version":3}},"segments":{"y":{"key":"y","version":1}}}`))
	}))
	defer server.Close()

	sync := NewFDv1Synchronizer(nil, EndpointConfig{BaseURI: server.URL}, time.Minute)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceValid, update.State)
	require.NotNil(t, update.ChangeSet)
	assert.Equal(t, datasystem.IntentTransferFull, update.ChangeSet.IntentCode())
	assert.False(t, update.ChangeSet.Selector().IsDefined(),
		"legacy protocol has no sync cursor")
	assert.Len(t, update.ChangeSet.Changes(), 2)
}

func TestIsRecoverableStatusClassification(t *testing.T) {
	tests := []struct {
		code        int
		recoverable bool
	}{
		{400, true},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.recoverable, isRecoverableStatus(tc.code), "status %d", tc.code)
	}
}
