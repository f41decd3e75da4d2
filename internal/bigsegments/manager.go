// Package bigsegments manages Big Segment membership queries: an in-memory
// membership cache in front of the configured store, plus a background poll
// of the store's metadata to derive the HEALTHY/STALE status attached to
// evaluations.
package bigsegments

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/ldreason"
)

// Config tunes the membership cache and staleness detection.
type Config struct {
	// MembershipCacheSize is the maximum number of context memberships kept
	// in memory. Defaults to 1000.
	MembershipCacheSize int

	// MembershipCacheTTL bounds how long a cached membership is reused
	// before the store is queried again. Defaults to 5s.
	MembershipCacheTTL time.Duration

	// StatusPollInterval is how often the store's metadata is polled.
	// Defaults to 5s.
	StatusPollInterval time.Duration

	// StaleAfter is the metadata age beyond which the store is reported
	// STALE. Defaults to 2m.
	StaleAfter time.Duration

	// QueryTimeout bounds each individual store query. Defaults to 10s.
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MembershipCacheSize <= 0 {
		c.MembershipCacheSize = 1000
	}
	if c.MembershipCacheTTL <= 0 {
		c.MembershipCacheTTL = 5 * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	return c
}

// Status is the manager's view of the Big Segment store's health.
type Status struct {
	// Available is false when the last metadata poll failed.
	Available bool
	// Stale is true when the store's data is older than the configured
	// threshold.
	Stale bool
}

// Manager wraps a BigSegmentStore with a TTL membership cache and a metadata
// poll loop. It implements the evaluator's Big Segment provider contract.
type Manager struct {
	logger *slog.Logger
	config Config
	store  interfaces.BigSegmentStore

	memberships otter.Cache[string, interfaces.BigSegmentMembership]

	mu        sync.Mutex
	status    Status
	polled    bool
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a Manager for the given store.
func NewManager(logger *slog.Logger, cfg Config, store interfaces.BigSegmentStore) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		panic("bigsegments: store cannot be nil")
	}
	cfg = cfg.withDefaults()

	cache, err := otter.MustBuilder[string, interfaces.BigSegmentMembership](cfg.MembershipCacheSize).
		WithTTL(cfg.MembershipCacheTTL).
		Build()
	if err != nil {
		return nil, err
	}

	return &Manager{
		logger:      logger,
		config:      cfg,
		store:       store,
		memberships: cache,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the metadata poll loop. Safe to call once.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.pollLoop(ctx)
	})
}

// Close stops the poll loop and releases the cache.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
		m.memberships.Close()
	})
	return m.store.Close()
}

// Status returns the store health as of the last metadata poll.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// BigSegmentMembership resolves the membership state for one context key,
// serving from the cache when fresh. The returned status reflects both this
// query and the store's polled health.
func (m *Manager) BigSegmentMembership(contextKey string) (interfaces.BigSegmentMembership, ldreason.BigSegmentsStatus) {
	hash := HashForContextKey(contextKey)

	membership, cached := m.memberships.Get(hash)
	if !cached {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.QueryTimeout)
		defer cancel()

		var err error
		membership, err = m.store.GetMembership(ctx, hash)
		if err != nil {
			m.logger.Error("big segment membership query failed",
				slog.String("error", err.Error()))
			return nil, ldreason.BigSegmentsStoreError
		}
		if membership == nil {
			membership = interfaces.BigSegmentMembership{}
		}
		m.memberships.Set(hash, membership)
	}

	m.mu.Lock()
	status, polled := m.status, m.polled
	m.mu.Unlock()
	if !polled {
		// Evaluation raced ahead of the first metadata poll; take one
		// synchronous reading rather than guessing.
		status = m.checkMetadata()
	}

	switch {
	case !status.Available:
		return membership, ldreason.BigSegmentsStoreError
	case status.Stale:
		return membership, ldreason.BigSegmentsStale
	default:
		return membership, ldreason.BigSegmentsHealthy
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.StatusPollInterval)
	defer ticker.Stop()

	// Poll once immediately on startup.
	m.checkMetadata()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkMetadata()
		}
	}
}

func (m *Manager) checkMetadata() Status {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.QueryTimeout)
	defer cancel()

	var status Status
	metadata, err := m.store.GetMetadata(ctx)
	if err != nil {
		m.logger.Warn("big segment store metadata poll failed",
			slog.String("error", err.Error()))
	} else {
		status.Available = true
		status.Stale = metadata.LastUpToDate.IsZero() ||
			time.Since(metadata.LastUpToDate) > m.config.StaleAfter
	}

	m.mu.Lock()
	m.status = status
	m.polled = true
	m.mu.Unlock()
	return status
}

// HashForContextKey produces the keyed-store lookup hash for a context key:
// unpadded URL-safe base64 of the key's SHA-256.
func HashForContextKey(contextKey string) string {
	sum := sha256.Sum256([]byte(contextKey))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
