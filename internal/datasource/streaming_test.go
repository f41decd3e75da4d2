package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
)

func noSelector() datasystem.Selector { return datasystem.NoSelector() }

func collectUpdates(t *testing.T, updatesCh <-chan datasystem.Update, n int) []datasystem.Update {
	t.Helper()
	var updates []datasystem.Update
	for len(updates) < n {
		select {
		case u := <-updatesCh:
			updates = append(updates, u)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for update %d of %d", len(updates)+1, n)
		}
	}
	return updates
}

func runSynchronizer(t *testing.T, s datasystem.Synchronizer) (<-chan datasystem.Update, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updatesCh := make(chan datasystem.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Sync(ctx, updatesCh)
	}()
	return updatesCh, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("synchronizer did not stop in time")
		}
	}
}

func TestStreamingSynchronizerShouldDeliverFullTransfer(t *testing.T) {
	stream := "event: server-intent\ndata: {\"payload\":{\"code\":\"xfer-full\"}}\n\n" +
		"event: put-object\ndata: {\"kind\":\"flag\",\"key\":\"x\",\"version\":1,\"object\":{\"key\":\"x\",\"version\":1}}\n\n" +
		"event: put-object\ndata: {\"kind\":\"segment\",\"key\":\"y\",\"version\":1,\"object\":{\"key\":\"y\",\"version\":1}}\n\n" +
		"event: payload-transferred\ndata: {\"state\":\"s1\",\"version\":1}\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdk/stream", r.URL.Path)
		assert.Equal(t, "sdk-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Launchdarkly-Env-Id", "env-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(stream))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL, SDKKey: "sdk-key"}, noSelector)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	updates := collectUpdates(t, updatesCh, 1)
	update := updates[0]
	assert.Equal(t, interfaces.DataSourceValid, update.State)
	assert.Equal(t, "env-1", update.EnvironmentID)
	require.NotNil(t, update.ChangeSet)
	assert.Equal(t, datasystem.IntentTransferFull, update.ChangeSet.IntentCode())
	assert.Len(t, update.ChangeSet.Changes(), 2)
	assert.Equal(t, "s1", update.ChangeSet.Selector().State())
}

func TestStreamingSynchronizerShouldSendBasisParamWhenResuming(t *testing.T) {
	gotBasis := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBasis <- r.URL.Query().Get("basis")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL},
		func() datasystem.Selector { return datasystem.NewSelector("s9", 9) })
	_, stop := runSynchronizer(t, sync)
	defer stop()

	select {
	case basis := <-gotBasis:
		assert.Equal(t, "s9", basis)
	case <-time.After(3 * time.Second):
		t.Fatal("no request received")
	}
}

func TestStreamingSynchronizerShouldShortCircuitOnTransferNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: server-intent\ndata: {\"payload\":{\"code\":\"xfer-none\"}}\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceValid, update.State)
	require.NotNil(t, update.ChangeSet)
	assert.Empty(t, update.ChangeSet.Changes())
}

func TestStreamingSynchronizerShouldDiscardPartialTransferOnErrorEvent(t *testing.T) {
	stream := "event: server-intent\ndata: {\"payload\":{\"code\":\"xfer-changes\"}}\n\n" +
		"event: put-object\ndata: {\"kind\":\"flag\",\"key\":\"doomed\",\"version\":9,\"object\":{\"key\":\"doomed\",\"version\":9}}\n\n" +
		"event: error\ndata: {\"payloadId\":\"p1\",\"reason\":\"server fault\"}\n\n" +
		"event: put-object\ndata: {\"kind\":\"flag\",\"key\":\"kept\",\"version\":1,\"object\":{\"key\":\"kept\",\"version\":1}}\n\n" +
		"event: payload-transferred\ndata: {\"state\":\"s2\",\"version\":2}\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(stream))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	require.NotNil(t, update.ChangeSet)
	require.Len(t, update.ChangeSet.Changes(), 1, "changes before the error event must be discarded")
	assert.Equal(t, "kept", update.ChangeSet.Changes()[0].Key)
	assert.Equal(t, datasystem.IntentTransferChanges, update.ChangeSet.IntentCode(),
		"intent survives the error event")
}

func TestStreamingSynchronizerShouldReconnectOnRecoverableStatus(t *testing.T) {
	attempts := make(chan int, 8)
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		attempts <- attempt
		if attempt == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceInterrupted, update.State)
	require.NotNil(t, update.Err)
	assert.Equal(t, interfaces.DataSourceErrorKindErrorResponse, update.Err.Kind)
	assert.Equal(t, http.StatusTooManyRequests, update.Err.StatusCode)

	select {
	case n := <-attempts:
		if n < 2 {
			n = <-attempts
		}
		assert.GreaterOrEqual(t, n, 2, "expected a reconnect attempt")
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect attempt observed")
	}
}

func TestStreamingSynchronizerShouldGoOffOnTerminalStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh := make(chan datasystem.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Sync(context.Background(), updatesCh)
	}()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.Equal(t, interfaces.DataSourceOff, update.State)
	require.NotNil(t, update.Err)
	assert.Equal(t, http.StatusUnauthorized, update.Err.StatusCode)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("terminal failure must end the sync loop")
	}
}

func TestStreamingSynchronizerShouldSignalFDv1Revert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Launchdarkly-Fd-Fallback", "true")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh := make(chan datasystem.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Sync(context.Background(), updatesCh)
	}()

	update := collectUpdates(t, updatesCh, 1)[0]
	assert.True(t, update.RevertToFDv1)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("revert signal must end the sync loop")
	}
}

func TestStreamingSynchronizerCloseShouldUnblockSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Sync(context.Background(), make(chan datasystem.Update, 1))
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sync.Close())
	require.NoError(t, sync.Close())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not unblock Sync")
	}
}

// The end-to-end path: stream events through the synchronizer into the
// store and verify contents and selector.
func TestStreamingSynchronizerEndToEndAppliesToStore(t *testing.T) {
	stream := "event: server-intent\ndata: {\"payload\":{\"code\":\"xfer-full\"}}\n\n" +
		"event: put-object\ndata: {\"kind\":\"flag\",\"key\":\"x\",\"version\":1,\"object\":{\"key\":\"x\",\"version\":1}}\n\n" +
		"event: put-object\ndata: {\"kind\":\"segment\",\"key\":\"y\",\"version\":1,\"object\":{\"key\":\"y\",\"version\":1}}\n\n" +
		"event: payload-transferred\ndata: {\"state\":\"s1\",\"version\":1}\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, stream)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	sync := NewStreamingSynchronizer(nil, EndpointConfig{BaseURI: server.URL}, noSelector)
	updatesCh, stop := runSynchronizer(t, sync)
	defer stop()

	update := collectUpdates(t, updatesCh, 1)[0]
	require.NotNil(t, update.ChangeSet)

	store := newTestStore(t)
	require.NoError(t, store.Apply(update.ChangeSet, true))

	flags, err := store.GetAll(interfaces.DataKindFeatures)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "x", flags[0].Key)
	assert.Equal(t, 1, flags[0].Item.Version)

	segments, err := store.GetAll(interfaces.DataKindSegments)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	assert.Equal(t, "s1", store.Selector().State())
}
