package datasystem

import (
	"context"

	"github.com/rafaeljc/bifrost/interfaces"
)

// Update is one state report from a data source: a state transition,
// optionally carrying a change set to apply and/or an error, plus the
// protocol side signals (environment ID, revert-to-FDv1).
type Update struct {
	// State is the source's lifecycle state as of this update.
	State interfaces.DataSourceState

	// ChangeSet, when non-nil, must be applied to the store before the
	// source's next update is consumed.
	ChangeSet *ChangeSet

	// Err describes the failure behind an INTERRUPTED or OFF state.
	Err *interfaces.DataSourceErrorInfo

	// EnvironmentID is the environment identifier reported by the service,
	// when known.
	EnvironmentID string

	// RevertToFDv1 signals that the service does not support FDv2 for this
	// environment and the coordinator must switch to the legacy fallback
	// source.
	RevertToFDv1 bool
}

// Synchronizer is a long-running data source that continuously delivers
// Updates until its context is cancelled or it fails terminally (an OFF
// update followed by return).
//
// Sync blocks; the coordinator runs it on its own goroutine and consumes the
// channel from a single loop, which is what guarantees change sets are
// applied to the store strictly in order. Implementations must honor context
// cancellation within a bounded time and must not send after returning.
type Synchronizer interface {
	// Name identifies the source in logs and status reports.
	Name() string

	// Sync runs the source until ctx is cancelled or a terminal failure,
	// sending updates on updatesCh.
	Sync(ctx context.Context, updatesCh chan<- Update)

	// Close releases any resources held outside Sync. It is idempotent and
	// safe to call concurrently with Sync.
	Close() error
}

// Initializer is a one-shot data source used to seed the store before any
// synchronizer starts.
type Initializer interface {
	// Name identifies the source in logs.
	Name() string

	// Fetch retrieves one change set, or fails.
	Fetch(ctx context.Context) (*ChangeSet, error)
}
