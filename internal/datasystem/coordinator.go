package datasystem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/broadcast"
)

// DataDestination is the coordinator's view of the data store: apply change
// sets, read the sync cursor, and re-push state after a persistence outage.
type DataDestination interface {
	Apply(cs *ChangeSet, shouldPersist bool) error
	Selector() Selector
	Commit() error
	StatusUpdates() *broadcast.Broadcaster[interfaces.DataStoreStatus]
}

// SynchronizerBuilder constructs a fresh synchronizer for one run attempt.
// Builders rather than instances make up the failover list so that every
// attempt starts from a clean connection state.
type SynchronizerBuilder func() Synchronizer

// CoordinatorConfig configures the data-system coordinator.
type CoordinatorConfig struct {
	// Initializers are run in order before any synchronizer starts. The
	// first one that returns a change set with a defined selector seeds the
	// store and signals readiness.
	Initializers []Initializer

	// Synchronizers is the failover list; index 0 is the primary.
	Synchronizers []SynchronizerBuilder

	// FDv1Fallback, when set, builds the legacy-protocol source that
	// replaces the entire list if the service signals FDv2 incompatibility.
	FDv1Fallback SynchronizerBuilder

	// Offline disables data synchronization entirely; the coordinator
	// reports ready immediately with whatever data the store already holds.
	Offline bool

	// CheckInterval is how often the health conditions below are evaluated
	// against the time spent in the current state.
	CheckInterval time.Duration

	// FallbackAfterInterrupted is how long a source may stay INTERRUPTED
	// before failing over to the next one.
	FallbackAfterInterrupted time.Duration

	// FallbackAfterInitializing is how long a source may stay INITIALIZING
	// without delivering data before failing over.
	FallbackAfterInitializing time.Duration

	// RecoveryAfterValid is how long a non-primary source must stay VALID
	// before the coordinator tries the primary again.
	RecoveryAfterValid time.Duration

	// ShutdownTimeout bounds how long Stop waits for goroutines to finish.
	ShutdownTimeout time.Duration
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.FallbackAfterInterrupted <= 0 {
		c.FallbackAfterInterrupted = time.Minute
	}
	if c.FallbackAfterInitializing <= 0 {
		c.FallbackAfterInitializing = 10 * time.Second
	}
	if c.RecoveryAfterValid <= 0 {
		c.RecoveryAfterValid = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// verdict is the outcome of one synchronizer run attempt.
type verdict int

const (
	// verdictStop ends the loop (shutdown).
	verdictStop verdict = iota
	// verdictFallback moves to the next source in the list.
	verdictFallback
	// verdictRecover returns to the primary source.
	verdictRecover
	// verdictRemove deletes the current source from the list permanently.
	verdictRemove
	// verdictRevertFDv1 replaces the whole list with the legacy fallback.
	verdictRevertFDv1
)

// Coordinator drives the data sources against the store: it runs the
// initializers, then works through the synchronizer failover list, applying
// updates and switching sources based on their health over time.
type Coordinator struct {
	logger *slog.Logger
	cfg    CoordinatorConfig
	dest   DataDestination

	statusBcast *broadcast.Broadcaster[interfaces.DataSourceStatus]

	mu     sync.Mutex
	active Synchronizer
	status interfaces.DataSourceStatus
	envID  string

	readyOnce sync.Once
	readyCh   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Start to begin synchronizing.
func NewCoordinator(logger *slog.Logger, cfg CoordinatorConfig, dest DataDestination) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if dest == nil {
		panic("datasystem: data destination cannot be nil")
	}
	cfg.applyDefaults()

	return &Coordinator{
		logger:      logger,
		cfg:         cfg,
		dest:        dest,
		statusBcast: broadcast.NewBroadcaster[interfaces.DataSourceStatus](),
		status: interfaces.DataSourceStatus{
			State:      interfaces.DataSourceInitializing,
			StateSince: time.Now(),
		},
		readyCh: make(chan struct{}),
	}
}

// Ready is closed once the store holds usable data (or once it is clear no
// data will ever arrive, so callers stop blocking).
func (c *Coordinator) Ready() <-chan struct{} { return c.readyCh }

// Status returns the current data source status.
func (c *Coordinator) Status() interfaces.DataSourceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusUpdates exposes the data source status broadcaster for subscribers.
func (c *Coordinator) StatusUpdates() *broadcast.Broadcaster[interfaces.DataSourceStatus] {
	return c.statusBcast
}

// EnvironmentID returns the environment identifier reported by the service,
// or "" if none has been seen yet.
func (c *Coordinator) EnvironmentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envID
}

// Start launches the coordination goroutines. It returns immediately; use
// Ready to wait for data.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		c.wg.Add(2)
		go c.watchStoreStatus(ctx)
		go c.run(ctx)
	})
}

// Stop shuts down the active source and all coordination goroutines,
// waiting up to the configured timeout. Idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeActive()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.ShutdownTimeout):
			c.logger.Warn("coordinator shutdown timed out",
				slog.String("timeout", c.cfg.ShutdownTimeout.String()))
		}
		c.signalReady()
		c.statusBcast.Close()
	})
}

// run is the main coordination task: initializers first, then the
// synchronizer failover loop.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	if c.cfg.Offline {
		c.logger.Info("offline mode, no data synchronization")
		c.setStatus(interfaces.DataSourceValid, nil)
		c.signalReady()
		return
	}

	c.runInitializers(ctx)
	if ctx.Err() != nil {
		return
	}
	c.runSynchronizerLoop(ctx)
}

func (c *Coordinator) runInitializers(ctx context.Context) {
	for _, init := range c.cfg.Initializers {
		if ctx.Err() != nil {
			return
		}
		cs, err := init.Fetch(ctx)
		if err != nil {
			c.logger.Warn("initializer failed",
				slog.String("initializer", init.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if cs == nil || !cs.Selector().IsDefined() {
			c.logger.Debug("initializer returned no usable basis",
				slog.String("initializer", init.Name()))
			continue
		}
		if err := c.dest.Apply(cs, true); err != nil {
			c.logger.Warn("could not apply initializer data",
				slog.String("initializer", init.Name()),
				slog.String("error", err.Error()))
			continue
		}
		c.logger.Info("store seeded from initializer",
			slog.String("initializer", init.Name()))
		c.signalReady()
		return
	}
}

func (c *Coordinator) runSynchronizerLoop(ctx context.Context) {
	builders := make([]SynchronizerBuilder, len(c.cfg.Synchronizers))
	copy(builders, c.cfg.Synchronizers)
	index := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if len(builders) == 0 {
			c.logger.Error("all data sources failed permanently")
			c.setStatus(interfaces.DataSourceOff, nil)
			c.signalReady()
			return
		}
		if index >= len(builders) {
			index = 0
		}

		result := c.runSynchronizer(ctx, builders[index](), index)
		switch result {
		case verdictStop:
			return
		case verdictFallback:
			c.logger.Warn("data source unhealthy, failing over",
				slog.Int("index", index))
			index++
		case verdictRecover:
			c.logger.Info("secondary source stable, returning to primary")
			index = 0
		case verdictRemove:
			c.logger.Warn("data source failed permanently, removing it",
				slog.Int("index", index))
			builders = append(builders[:index], builders[index+1:]...)
		case verdictRevertFDv1:
			if c.cfg.FDv1Fallback == nil {
				c.logger.Error("service requires the legacy protocol but no fallback source is configured")
				builders = append(builders[:index], builders[index+1:]...)
				continue
			}
			c.logger.Warn("reverting to the legacy flag delivery protocol")
			builders = []SynchronizerBuilder{c.cfg.FDv1Fallback}
			index = 0
		}
	}
}

// runSynchronizer runs one source until shutdown or a transition condition
// fires, and reports what to do next.
func (c *Coordinator) runSynchronizer(ctx context.Context, source Synchronizer, index int) verdict {
	c.logger.Info("starting data source",
		slog.String("synchronizer", source.Name()),
		slog.Int("index", index))

	c.mu.Lock()
	c.active = source
	c.mu.Unlock()
	defer c.closeActive()

	syncCtx, syncCancel := context.WithCancel(ctx)
	defer syncCancel()

	updatesCh := make(chan Update, 16)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		source.Sync(syncCtx, updatesCh)
	}()

	c.setStatus(interfaces.DataSourceInitializing, nil)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return verdictStop

		case <-syncDone:
			// The source stopped on its own without a terminal update.
			// Drain anything still buffered, then drop it from the list.
			for {
				select {
				case update := <-updatesCh:
					if v, decided := c.handleUpdate(update); decided {
						return v
					}
				default:
					return verdictRemove
				}
			}

		case update := <-updatesCh:
			if v, decided := c.handleUpdate(update); decided {
				return v
			}

		case <-ticker.C:
			if v, decided := c.checkHealth(index); decided {
				return v
			}
		}
	}
}

// handleUpdate applies one source update. decided is true when the update
// forces a list transition.
func (c *Coordinator) handleUpdate(update Update) (verdict, bool) {
	if update.EnvironmentID != "" {
		c.mu.Lock()
		c.envID = update.EnvironmentID
		c.mu.Unlock()
	}

	applied := false
	if update.ChangeSet != nil {
		if err := c.dest.Apply(update.ChangeSet, true); err != nil {
			c.logger.Error("could not apply data update", slog.String("error", err.Error()))
			c.setStatus(interfaces.DataSourceInterrupted, &interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindStoreError,
				Message: err.Error(),
				Time:    time.Now(),
			})
			return 0, false
		}
		applied = true
	}

	c.setStatus(update.State, update.Err)

	if applied && update.State == interfaces.DataSourceValid {
		c.signalReady()
	}

	if update.RevertToFDv1 {
		return verdictRevertFDv1, true
	}
	if update.State == interfaces.DataSourceOff {
		return verdictRemove, true
	}
	return 0, false
}

// checkHealth evaluates the time-in-state transition conditions.
func (c *Coordinator) checkHealth(index int) (verdict, bool) {
	c.mu.Lock()
	state := c.status.State
	elapsed := time.Since(c.status.StateSince)
	c.mu.Unlock()

	switch state {
	case interfaces.DataSourceInterrupted:
		if elapsed > c.cfg.FallbackAfterInterrupted {
			return verdictFallback, true
		}
	case interfaces.DataSourceInitializing:
		if elapsed > c.cfg.FallbackAfterInitializing {
			return verdictFallback, true
		}
	case interfaces.DataSourceValid:
		if index > 0 && elapsed > c.cfg.RecoveryAfterValid {
			return verdictRecover, true
		}
	}
	return 0, false
}

// watchStoreStatus triggers a commit whenever the persistent store comes
// back from an outage, re-pushing writes it may have missed.
func (c *Coordinator) watchStoreStatus(ctx context.Context) {
	defer c.wg.Done()

	statusCh := c.dest.StatusUpdates().Subscribe()
	defer c.dest.StatusUpdates().Unsubscribe(statusCh)

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-statusCh:
			if !ok {
				return
			}
			if status.Available && status.Stale {
				c.logger.Info("persistent store recovered, re-pushing in-memory data")
				if err := c.dest.Commit(); err != nil {
					c.logger.Error("could not re-push data to the persistent store",
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (c *Coordinator) setStatus(state interfaces.DataSourceState, errInfo *interfaces.DataSourceErrorInfo) {
	c.mu.Lock()
	if state != c.status.State {
		c.status.State = state
		c.status.StateSince = time.Now()
	}
	if errInfo != nil {
		c.status.LastError = *errInfo
	}
	status := c.status
	c.mu.Unlock()

	c.statusBcast.Broadcast(status)
}

func (c *Coordinator) signalReady() {
	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Coordinator) closeActive() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active != nil {
		if err := active.Close(); err != nil {
			c.logger.Warn("error closing data source", slog.String("error", err.Error()))
		}
	}
}
