package evalapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/testsupport"
)

// Metrics are global (Prometheus default registry), so these scenarios assert
// deltas rather than absolute values.
func TestRequestMetrics(t *testing.T) {
	api := newTestAPI(t, simpleFlag("bool-flag", true))

	// -------------------------------------------------------------------------
	// Scenario 1: Success Path (200 OK)
	// Focus: Verify standard request counting and latency recording.
	// -------------------------------------------------------------------------
	t.Run("Should record metrics for a successful request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()

		counterLabels := map[string]string{
			"method": "GET",
			"path":   "/health",
			"code":   "200",
		}

		histogramLabels := map[string]string{
			"method": "GET",
			"path":   "/health",
		}

		testsupport.AssertMetricDelta(t, "bifrost_daemon_http_requests_total", counterLabels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusOK, rr.Code)
		})

		testsupport.AssertHistogramRecorded(t, "bifrost_daemon_http_handling_seconds", histogramLabels)
	})

	// -------------------------------------------------------------------------
	// Scenario 2: Unmatched Route (404)
	// Focus: CARDINALITY PROTECTION. Arbitrary paths must not become labels.
	// -------------------------------------------------------------------------
	t.Run("Should collapse unmatched routes into one label", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/no/such/route/12345", nil)
		rr := httptest.NewRecorder()

		counterLabels := map[string]string{
			"method": "GET",
			"path":   "unmatched",
			"code":   "404",
		}

		testsupport.AssertMetricDelta(t, "bifrost_daemon_http_requests_total", counterLabels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	// -------------------------------------------------------------------------
	// Scenario 3: Route Pattern (not raw path) as label
	// Focus: The evaluate endpoint appears under its pattern.
	// -------------------------------------------------------------------------
	t.Run("Should label requests with the route pattern", func(t *testing.T) {
		counterLabels := map[string]string{
			"method": "POST",
			"path":   "/api/v1/evaluate",
			"code":   "200",
		}

		testsupport.AssertMetricDelta(t, "bifrost_daemon_http_requests_total", counterLabels, 1, func() {
			rr := postEvaluate(t, api, `{
				"flag_key": "bool-flag",
				"type": "bool",
				"context": {"key": "user-metrics"}
			}`)
			require.Equal(t, http.StatusOK, rr.Code)
		})
	})
}
