package interfaces

import (
	"fmt"
	"time"
)

// DataSourceState is the lifecycle state of the data synchronization
// subsystem as a whole.
type DataSourceState string

const (
	// DataSourceInitializing means no data source has delivered data yet.
	DataSourceInitializing DataSourceState = "INITIALIZING"
	// DataSourceValid means the current data source is connected and the
	// store is up to date as of its last update.
	DataSourceValid DataSourceState = "VALID"
	// DataSourceInterrupted means the current data source has failed but is
	// expected to recover; evaluation continues against cached data.
	DataSourceInterrupted DataSourceState = "INTERRUPTED"
	// DataSourceOff is terminal: every data source has permanently failed
	// and the SDK will not receive further updates.
	DataSourceOff DataSourceState = "OFF"
)

// DataSourceErrorKind classifies data source failures.
type DataSourceErrorKind string

const (
	// DataSourceErrorKindUnknown is an unclassified failure.
	DataSourceErrorKindUnknown DataSourceErrorKind = "UNKNOWN"
	// DataSourceErrorKindNetworkError is an I/O failure; always recoverable.
	DataSourceErrorKindNetworkError DataSourceErrorKind = "NETWORK_ERROR"
	// DataSourceErrorKindErrorResponse is an HTTP error status from the flag
	// delivery service.
	DataSourceErrorKindErrorResponse DataSourceErrorKind = "ERROR_RESPONSE"
	// DataSourceErrorKindInvalidData means the service sent a malformed
	// payload; recoverable by reconnecting.
	DataSourceErrorKindInvalidData DataSourceErrorKind = "INVALID_DATA"
	// DataSourceErrorKindStoreError means an update could not be written to
	// the data store.
	DataSourceErrorKindStoreError DataSourceErrorKind = "STORE_ERROR"
)

// DataSourceErrorInfo describes the most recent data source failure.
type DataSourceErrorInfo struct {
	Kind DataSourceErrorKind
	// StatusCode is the HTTP status for ERROR_RESPONSE errors, 0 otherwise.
	StatusCode int
	Message    string
	Time       time.Time
}

func (e DataSourceErrorInfo) String() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s(%d)", e.Kind, e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// DataSourceStatus is the externally visible status of the data
// synchronization subsystem.
type DataSourceStatus struct {
	// State is the current lifecycle state.
	State DataSourceState
	// StateSince is when State last changed.
	StateSince time.Time
	// LastError is the most recent failure, if any. It is retained across
	// state changes (a VALID status can still carry the error that caused an
	// earlier interruption).
	LastError DataSourceErrorInfo
}

func (s DataSourceStatus) String() string {
	return fmt.Sprintf("Status(%s,%s,%s)", s.State, s.StateSince.Format(time.RFC3339), s.LastError)
}
