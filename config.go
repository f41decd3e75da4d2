package bifrost

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/bigsegments"
)

const defaultPollInterval = 30 * time.Second

// Config configures a Client. The zero value is not usable: SDKKey and
// BaseURI are required unless Offline is set.
type Config struct {
	// SDKKey authenticates the environment against the flag delivery
	// service.
	SDKKey string

	// BaseURI is the origin of the flag delivery service, without a
	// trailing slash.
	BaseURI string

	// Filter is the optional payload filter key, limiting the environment's
	// data to one filtered subset.
	Filter string

	// Logger receives all SDK logging. Nil falls back to slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the default HTTP client, mainly for tests and
	// proxy setups.
	HTTPClient *http.Client

	// Offline disables all network activity. Evaluations run against
	// whatever the persistent store holds, or return defaults.
	Offline bool

	// PollingOnly disables streaming; the client synchronizes by periodic
	// polling alone.
	PollingOnly bool

	// PollInterval is the polling cadence for the polling synchronizer
	// (primary in PollingOnly mode, fallback otherwise). Defaults to 30s.
	PollInterval time.Duration

	// PersistentStore, when set, mirrors received data and serves reads
	// until the first sync completes (e.g. a redisstore.DataStore).
	PersistentStore interfaces.DataStore

	// BigSegmentStore enables Big Segment evaluation (e.g. a
	// redisstore.BigSegmentStore).
	BigSegmentStore interfaces.BigSegmentStore

	// BigSegments tunes the Big Segment membership cache and staleness
	// detection; the zero value uses the defaults.
	BigSegments bigsegments.Config

	// EventSink receives evaluation records. Nil discards them.
	EventSink EventSink
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return defaultPollInterval
	}
	return c.PollInterval
}
