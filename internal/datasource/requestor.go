// Package datasource implements the flag delivery data sources: the FDv2
// streaming and polling synchronizers, the polling initializer, and the
// legacy FDv1 fallback source.
package datasource

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
)

const (
	streamPath  = "/sdk/stream"
	pollPath    = "/sdk/poll"
	fdv1AllPath = "/sdk/latest-all"

	defaultUserAgent = "BifrostGoClient"

	headerEnvironmentID = "X-Launchdarkly-Env-Id"
	headerFDv1Fallback  = "X-Launchdarkly-Fd-Fallback"
)

// EndpointConfig is the shared transport configuration for all data sources
// talking to the flag delivery service.
type EndpointConfig struct {
	// BaseURI is the service origin, without a trailing slash.
	BaseURI string
	// SDKKey authenticates the environment.
	SDKKey string
	// Filter is the optional payload filter key.
	Filter string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

func (c EndpointConfig) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 0}
}

func (c EndpointConfig) endpointURI(path string, params url.Values) string {
	uri := strings.TrimSuffix(c.BaseURI, "/") + path
	if c.Filter != "" {
		params.Set("filter", c.Filter)
	}
	if encoded := params.Encode(); encoded != "" {
		uri += "?" + encoded
	}
	return uri
}

func (c EndpointConfig) decorate(req *http.Request) {
	req.Header.Set("Authorization", c.SDKKey)
	req.Header.Set("User-Agent", defaultUserAgent)
}

// httpStatusError is a non-2xx response from the flag delivery service.
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from flag delivery service", e.code)
}

// isRecoverableStatus classifies a non-2xx status: 400, 408, 429 and all
// 5xx are transient and worth retrying; every other 4xx (notably 401 and
// 403, an invalid SDK key) is permanent.
func isRecoverableStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// shouldRevertToFDv1 reports whether the response carries the header the
// service uses to signal that this environment only speaks the legacy
// protocol.
func shouldRevertToFDv1(resp *http.Response) bool {
	return strings.EqualFold(resp.Header.Get(headerFDv1Fallback), "true")
}

func environmentID(resp *http.Response) string {
	return resp.Header.Get(headerEnvironmentID)
}

func errorResponseInfo(code int) *interfaces.DataSourceErrorInfo {
	return &interfaces.DataSourceErrorInfo{
		Kind:       interfaces.DataSourceErrorKindErrorResponse,
		StatusCode: code,
		Message:    fmt.Sprintf("HTTP error %d", code),
		Time:       time.Now(),
	}
}

func networkErrorInfo(err error) *interfaces.DataSourceErrorInfo {
	return &interfaces.DataSourceErrorInfo{
		Kind:    interfaces.DataSourceErrorKindNetworkError,
		Message: err.Error(),
		Time:    time.Now(),
	}
}

func invalidDataErrorInfo(err error) *interfaces.DataSourceErrorInfo {
	return &interfaces.DataSourceErrorInfo{
		Kind:    interfaces.DataSourceErrorKindInvalidData,
		Message: err.Error(),
		Time:    time.Now(),
	}
}
