package evalapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost"
	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datastore"
	"github.com/rafaeljc/bifrost/internal/evalapi"
	"github.com/rafaeljc/bifrost/ldmodel"
	"github.com/rafaeljc/bifrost/ldreason"
)

func variationPtr(i int) *int { return &i }

func simpleFlag(key string, value any) *ldmodel.FeatureFlag {
	return &ldmodel.FeatureFlag{
		Key:         key,
		Version:     1,
		On:          true,
		Variations:  []any{value},
		Fallthrough: ldmodel.VariationOrRollout{Variation: variationPtr(0)},
		Salt:        "salt",
	}
}

func newTestAPI(t *testing.T, flags ...*ldmodel.FeatureFlag) *evalapi.API {
	t.Helper()

	items := make([]interfaces.KeyedItemDescriptor, 0, len(flags))
	for _, flag := range flags {
		items = append(items, interfaces.KeyedItemDescriptor{
			Key:  flag.Key,
			Item: interfaces.ItemDescriptor{Version: flag.Version, Item: flag},
		})
	}
	store := datastore.NewInMemoryDataStore()
	require.NoError(t, store.Init([]interfaces.Collection{
		{Kind: interfaces.DataKindSegments},
		{Kind: interfaces.DataKindFeatures, Items: items},
	}))

	client, err := bifrost.MakeClient(bifrost.Config{
		Offline:         true,
		PersistentStore: store,
	}, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Auth disabled so tests focus on evaluation behavior; auth has its own tests.
	return evalapi.NewAPIWithConfig(client, "", true)
}

func postEvaluate(t *testing.T, api *evalapi.API, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func TestHandleEvaluate(t *testing.T) {
	api := newTestAPI(t,
		simpleFlag("bool-flag", true),
		simpleFlag("string-flag", "green"),
	)

	t.Run("Should evaluate a boolean flag", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "bool-flag",
			"type": "bool",
			"default": false,
			"context": {"kind": "user", "key": "user-1"}
		}`)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			FlagKey        string `json:"flag_key"`
			Value          bool   `json:"value"`
			VariationIndex *int   `json:"variation_index"`
			Reason         struct {
				Kind string `json:"kind"`
			} `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "bool-flag", resp.FlagKey)
		assert.True(t, resp.Value)
		require.NotNil(t, resp.VariationIndex)
		assert.Equal(t, 0, *resp.VariationIndex)
		assert.Equal(t, string(ldreason.EvalReasonFallthrough), resp.Reason.Kind)
	})

	t.Run("Should serve the default with FLAG_NOT_FOUND for unknown flags", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "missing-flag",
			"type": "string",
			"default": "fallback",
			"context": {"key": "user-1"}
		}`)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Value          string `json:"value"`
			VariationIndex *int   `json:"variation_index"`
			Reason         struct {
				Kind      string `json:"kind"`
				ErrorKind string `json:"errorKind"`
			} `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "fallback", resp.Value)
		assert.Nil(t, resp.VariationIndex)
		assert.Equal(t, string(ldreason.EvalReasonError), resp.Reason.Kind)
		assert.Equal(t, string(ldreason.EvalErrorFlagNotFound), resp.Reason.ErrorKind)
	})

	t.Run("Should serve the default with WRONG_TYPE on a type mismatch", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "string-flag",
			"type": "bool",
			"default": false,
			"context": {"key": "user-1"}
		}`)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Value  bool `json:"value"`
			Reason struct {
				ErrorKind string `json:"errorKind"`
			} `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.Value)
		assert.Equal(t, string(ldreason.EvalErrorWrongType), resp.Reason.ErrorKind)
	})

	t.Run("Should default to json evaluation when type is omitted", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "string-flag",
			"context": {"key": "user-1"}
		}`)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"green"`)
	})

	t.Run("Should reject a request without flag_key", func(t *testing.T) {
		rr := postEvaluate(t, api, `{"context": {"key": "user-1"}}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_INPUT")
	})

	t.Run("Should reject a request without context", func(t *testing.T) {
		rr := postEvaluate(t, api, `{"flag_key": "bool-flag", "type": "bool"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_INPUT")
	})

	t.Run("Should reject an unknown evaluation type", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "bool-flag",
			"type": "decimal",
			"context": {"key": "user-1"}
		}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should reject a context without a key", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "bool-flag",
			"type": "bool",
			"context": {"kind": "user"}
		}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_CONTEXT")
	})

	t.Run("Should reject a default that does not match the type", func(t *testing.T) {
		rr := postEvaluate(t, api, `{
			"flag_key": "bool-flag",
			"type": "bool",
			"default": "yes",
			"context": {"key": "user-1"}
		}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		rr := postEvaluate(t, api, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_JSON")
	})
}

func TestHandleStatus(t *testing.T) {
	api := newTestAPI(t, simpleFlag("bool-flag", true))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		InstanceID  string `json:"instance_id"`
		Initialized bool   `json:"initialized"`
		DataSource  struct {
			State string `json:"state"`
		} `json:"data_source"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.InstanceID)
	assert.True(t, resp.Initialized)
}

func TestAuthentication(t *testing.T) {
	const apiKey = "super-secret-key"
	hash := evalapi.HashAPIKey(apiKey)

	newAuthedAPI := func(t *testing.T) *evalapi.API {
		t.Helper()
		store := datastore.NewInMemoryDataStore()
		require.NoError(t, store.Init([]interfaces.Collection{
			{Kind: interfaces.DataKindSegments},
			{Kind: interfaces.DataKindFeatures},
		}))
		client, err := bifrost.MakeClient(bifrost.Config{
			Offline:         true,
			PersistentStore: store,
		}, time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		return evalapi.NewAPI(client, hash)
	}

	t.Run("Should reject requests without credentials", func(t *testing.T) {
		api := newAuthedAPI(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_UNAUTHORIZED")
	})

	t.Run("Should reject requests with the wrong key", func(t *testing.T) {
		api := newAuthedAPI(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Should accept requests with the right key", func(t *testing.T) {
		api := newAuthedAPI(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should leave the health endpoint public", func(t *testing.T) {
		api := newAuthedAPI(t)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
