// Package bifrost is a feature-flag evaluation client. It keeps a local,
// continuously synchronized copy of flag and segment configurations and
// evaluates them deterministically per request context, without a network
// round trip on the evaluation path.
//
// Construct a Client with MakeClient, evaluate with the typed Variation
// methods, and Close it when done.
package bifrost

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/bigsegments"
	"github.com/rafaeljc/bifrost/internal/broadcast"
	"github.com/rafaeljc/bifrost/internal/datasource"
	"github.com/rafaeljc/bifrost/internal/datastore"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/ldcontext"
	"github.com/rafaeljc/bifrost/ldmodel"
	"github.com/rafaeljc/bifrost/ldreason"
)

// ErrInitializationTimeout is returned by MakeClient when the client did not
// finish initializing within the requested wait time. The client is still usable:
// evaluations fall back to defaults (or persistent-store data) until the
// data sources catch up.
var ErrInitializationTimeout = errors.New("bifrost: timeout waiting for client initialization")

// ErrInitializationFailed is returned by MakeClient when every data source
// failed permanently before any data arrived.
var ErrInitializationFailed = errors.New("bifrost: data sources failed permanently before initialization")

// Client is the feature-flag evaluation client. All methods are safe for
// concurrent use.
type Client struct {
	logger     *slog.Logger
	instanceID string

	store       *datastore.Store
	flags       *storeDataProvider
	coordinator *datasystem.Coordinator
	evaluator   *evaluator.Evaluator
	bigSegments *bigsegments.Manager
	eventSink   EventSink

	closeOnce sync.Once
	stopCh    chan struct{}
}

// MakeClient constructs a Client and blocks up to waitFor for the first full
// data set to arrive. waitFor <= 0 returns immediately without waiting.
// On ErrInitializationTimeout the returned client is non-nil and keeps
// synchronizing in the background.
func MakeClient(cfg Config, waitFor time.Duration) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Offline {
		if cfg.SDKKey == "" {
			return nil, errors.New("bifrost: SDK key is required")
		}
		if cfg.BaseURI == "" {
			return nil, errors.New("bifrost: base URI is required")
		}
	}

	instanceID := uuid.NewString()
	logger = logger.With(slog.String("instance_id", instanceID))

	store := datastore.NewStore(cfg.PersistentStore, logger)

	var bigSegmentManager *bigsegments.Manager
	var bigSegmentProvider evaluator.BigSegmentProvider
	if cfg.BigSegmentStore != nil {
		manager, err := bigsegments.NewManager(logger, cfg.BigSegments, cfg.BigSegmentStore)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("bifrost: configuring big segments: %w", err)
		}
		manager.Start()
		bigSegmentManager = manager
		bigSegmentProvider = manager
	}

	flags := &storeDataProvider{store: store}
	eval := evaluator.New(logger, flags, bigSegmentProvider)

	coordinator := datasystem.NewCoordinator(logger, coordinatorConfig(logger, cfg, store), store)

	sink := cfg.EventSink
	if sink == nil {
		sink = noopEventSink{}
	}

	client := &Client{
		logger:      logger,
		instanceID:  instanceID,
		store:       store,
		flags:       flags,
		coordinator: coordinator,
		evaluator:   eval,
		bigSegments: bigSegmentManager,
		eventSink:   sink,
		stopCh:      make(chan struct{}),
	}

	coordinator.Start()
	go client.watchStatus()

	if waitFor > 0 {
		timer := time.NewTimer(waitFor)
		defer timer.Stop()
		select {
		case <-coordinator.Ready():
			if coordinator.Status().State == interfaces.DataSourceOff && !store.IsInitialized() {
				return client, ErrInitializationFailed
			}
		case <-timer.C:
			return client, ErrInitializationTimeout
		}
	}
	return client, nil
}

// coordinatorConfig assembles the data source fleet: a polling initializer
// for fast startup, streaming as primary with polling as secondary (or
// polling alone), and the FDv1 synchronizer as protocol fallback.
func coordinatorConfig(logger *slog.Logger, cfg Config, store *datastore.Store) datasystem.CoordinatorConfig {
	if cfg.Offline {
		return datasystem.CoordinatorConfig{Offline: true}
	}

	endpoint := datasource.EndpointConfig{
		BaseURI:    cfg.BaseURI,
		SDKKey:     cfg.SDKKey,
		Filter:     cfg.Filter,
		HTTPClient: cfg.HTTPClient,
	}
	selector := store.Selector
	interval := cfg.pollInterval()

	var synchronizers []datasystem.SynchronizerBuilder
	if !cfg.PollingOnly {
		synchronizers = append(synchronizers, func() datasystem.Synchronizer {
			return datasource.NewStreamingSynchronizer(logger, endpoint, selector)
		})
	}
	synchronizers = append(synchronizers, func() datasystem.Synchronizer {
		return datasource.NewPollingSynchronizer(logger, endpoint, selector, interval)
	})

	return datasystem.CoordinatorConfig{
		Initializers: []datasystem.Initializer{
			datasource.NewPollingInitializer(logger, endpoint),
		},
		Synchronizers: synchronizers,
		FDv1Fallback: func() datasystem.Synchronizer {
			return datasource.NewFDv1Synchronizer(logger, endpoint, interval)
		},
	}
}

// Initialized reports whether the client has received a full data set (or,
// when offline or timed out, whether a persistent store can serve reads).
func (c *Client) Initialized() bool {
	select {
	case <-c.coordinator.Ready():
	default:
		return false
	}
	if c.coordinator.Status().State == interfaces.DataSourceOff {
		return c.store.IsInitialized()
	}
	return true
}

// InstanceID returns the unique identifier of this client instance.
func (c *Client) InstanceID() string { return c.instanceID }

// EnvironmentID returns the environment identifier reported by the flag
// delivery service, or "" while unknown.
func (c *Client) EnvironmentID() string { return c.coordinator.EnvironmentID() }

// DataSourceStatus returns the current data synchronization status.
func (c *Client) DataSourceStatus() interfaces.DataSourceStatus {
	return c.coordinator.Status()
}

// DataSourceStatusUpdates exposes the status broadcaster; subscribe to react
// to VALID/INTERRUPTED/OFF transitions.
func (c *Client) DataSourceStatusUpdates() *broadcast.Broadcaster[interfaces.DataSourceStatus] {
	return c.coordinator.StatusUpdates()
}

// FlagTracker exposes the flag-change broadcaster; subscribers receive the
// key of every flag whose configuration changed.
func (c *Client) FlagTracker() *broadcast.Broadcaster[interfaces.FlagChangeEvent] {
	return c.store.FlagChanges()
}

// Close shuts down data synchronization and releases all resources. The
// client must not be used afterwards.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.coordinator.Stop()
		if c.bigSegments != nil {
			err = c.bigSegments.Close()
		}
		if storeErr := c.store.Close(); err == nil {
			err = storeErr
		}
	})
	return err
}

// BoolVariation evaluates a boolean flag.
func (c *Client) BoolVariation(key string, context ldcontext.Context, defaultValue bool) (bool, error) {
	value, _, err := c.BoolVariationDetail(key, context, defaultValue)
	return value, err
}

// BoolVariationDetail is BoolVariation with the full evaluation reason.
func (c *Client) BoolVariationDetail(key string, context ldcontext.Context, defaultValue bool) (bool, ldreason.EvaluationDetail, error) {
	detail := c.evaluate(key, context, defaultValue)
	value, ok := detail.Value.(bool)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue), errWrongType(key, "bool")
	}
	return value, detail, errorFromDetail(key, detail)
}

// IntVariation evaluates an integer flag. Numeric flag values with a
// fractional part are truncated toward zero.
func (c *Client) IntVariation(key string, context ldcontext.Context, defaultValue int) (int, error) {
	value, _, err := c.IntVariationDetail(key, context, defaultValue)
	return value, err
}

// IntVariationDetail is IntVariation with the full evaluation reason.
func (c *Client) IntVariationDetail(key string, context ldcontext.Context, defaultValue int) (int, ldreason.EvaluationDetail, error) {
	detail := c.evaluate(key, context, defaultValue)
	value, ok := intValue(detail.Value)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue), errWrongType(key, "int")
	}
	return value, detail, errorFromDetail(key, detail)
}

// Float64Variation evaluates a numeric flag.
func (c *Client) Float64Variation(key string, context ldcontext.Context, defaultValue float64) (float64, error) {
	value, _, err := c.Float64VariationDetail(key, context, defaultValue)
	return value, err
}

// Float64VariationDetail is Float64Variation with the full evaluation reason.
func (c *Client) Float64VariationDetail(key string, context ldcontext.Context, defaultValue float64) (float64, ldreason.EvaluationDetail, error) {
	detail := c.evaluate(key, context, defaultValue)
	value, ok := floatValue(detail.Value)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue), errWrongType(key, "float64")
	}
	return value, detail, errorFromDetail(key, detail)
}

// StringVariation evaluates a string flag.
func (c *Client) StringVariation(key string, context ldcontext.Context, defaultValue string) (string, error) {
	value, _, err := c.StringVariationDetail(key, context, defaultValue)
	return value, err
}

// StringVariationDetail is StringVariation with the full evaluation reason.
func (c *Client) StringVariationDetail(key string, context ldcontext.Context, defaultValue string) (string, ldreason.EvaluationDetail, error) {
	detail := c.evaluate(key, context, defaultValue)
	value, ok := detail.Value.(string)
	if !ok {
		return defaultValue, c.wrongType(key, detail, defaultValue), errWrongType(key, "string")
	}
	return value, detail, errorFromDetail(key, detail)
}

// JSONVariation evaluates a flag of any value type, returning the raw JSON
// encoding of the resolved value.
func (c *Client) JSONVariation(key string, context ldcontext.Context, defaultValue json.RawMessage) (json.RawMessage, error) {
	value, _, err := c.JSONVariationDetail(key, context, defaultValue)
	return value, err
}

// JSONVariationDetail is JSONVariation with the full evaluation reason.
func (c *Client) JSONVariationDetail(key string, context ldcontext.Context, defaultValue json.RawMessage) (json.RawMessage, ldreason.EvaluationDetail, error) {
	detail := c.evaluate(key, context, defaultValue)
	if detail.VariationIndex == ldreason.NoVariation {
		return defaultValue, detail, errorFromDetail(key, detail)
	}
	data, err := json.Marshal(detail.Value)
	if err != nil {
		return defaultValue, c.wrongType(key, detail, defaultValue), errWrongType(key, "json")
	}
	return data, detail, errorFromDetail(key, detail)
}

// evaluate runs one flag evaluation end to end: store lookup, evaluator
// call, default substitution, event records, and metrics.
func (c *Client) evaluate(key string, context ldcontext.Context, defaultValue any) ldreason.EvaluationDetail {
	start := time.Now()
	defer func() {
		observability.EvalDuration.Observe(time.Since(start).Seconds())
	}()

	detail := c.evaluateDetail(key, context, defaultValue)
	observability.EvalTotal.WithLabelValues(string(detail.Reason.Kind())).Inc()
	return detail
}

func (c *Client) evaluateDetail(key string, context ldcontext.Context, defaultValue any) ldreason.EvaluationDetail {
	if !c.Initialized() && !c.store.IsInitialized() {
		c.logger.Warn("evaluation requested before client initialization; serving default",
			slog.String("flag", key))
		detail := ldreason.NewEvaluationDetailForError(ldreason.EvalErrorClientNotReady, defaultValue)
		c.record(key, context, detail, defaultValue)
		return detail
	}

	flag, found := c.flags.GetFeatureFlag(key)
	if !found {
		c.logger.Warn("unknown feature flag requested; serving default",
			slog.String("flag", key))
		detail := ldreason.NewEvaluationDetailForError(ldreason.EvalErrorFlagNotFound, defaultValue)
		c.record(key, context, detail, defaultValue)
		return detail
	}

	result := c.evaluator.Evaluate(flag, context)
	detail := result.Detail
	if detail.VariationIndex == ldreason.NoVariation {
		detail.Value = defaultValue
	}

	for _, prereq := range result.Prerequisites {
		c.eventSink.RecordEvaluation(EvaluationRecord{
			FlagKey:       prereq.PrerequisiteFlag.Key,
			TargetFlagKey: prereq.TargetFlagKey,
			Context:       prereq.Context,
			Detail:        prereq.Detail,
		})
	}
	c.record(key, context, detail, defaultValue)
	return detail
}

func (c *Client) record(key string, context ldcontext.Context, detail ldreason.EvaluationDetail, defaultValue any) {
	c.eventSink.RecordEvaluation(EvaluationRecord{
		FlagKey:      key,
		Context:      context,
		Detail:       detail,
		DefaultValue: defaultValue,
	})
}

// wrongType rewrites a detail whose value had an unexpected type.
func (c *Client) wrongType(key string, detail ldreason.EvaluationDetail, defaultValue any) ldreason.EvaluationDetail {
	if detail.Reason.Kind() == ldreason.EvalReasonError {
		// Keep the original error; the default value already has the right
		// type.
		return detail
	}
	c.logger.Warn("flag value does not have the requested type; serving default",
		slog.String("flag", key))
	return ldreason.NewEvaluationDetailForError(ldreason.EvalErrorWrongType, defaultValue)
}

// watchStatus mirrors status transitions into the metrics gauges.
func (c *Client) watchStatus() {
	updates := c.coordinator.StatusUpdates().Subscribe()
	defer c.coordinator.StatusUpdates().Unsubscribe(updates)

	observability.SetDataSourceState(string(c.coordinator.Status().State))
	for {
		select {
		case <-c.stopCh:
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			observability.SetDataSourceState(string(status.State))
			observability.DataSourceStatusChangesTotal.WithLabelValues(string(status.State)).Inc()
			c.updateStoreMetrics()
		}
	}
}

func (c *Client) updateStoreMetrics() {
	for _, kind := range interfaces.AllDataKinds() {
		items, err := c.store.GetAll(kind)
		if err != nil {
			continue
		}
		observability.StoreItemsCount.WithLabelValues(kind.String()).Set(float64(len(items)))
	}
}

// storeDataProvider adapts the data store to the evaluator's read interface,
// hiding tombstones and type mismatches.
type storeDataProvider struct {
	store *datastore.Store
}

var _ evaluator.DataProvider = (*storeDataProvider)(nil)

func (p *storeDataProvider) GetFeatureFlag(key string) (*ldmodel.FeatureFlag, bool) {
	desc, err := p.store.Get(interfaces.DataKindFeatures, key)
	if err != nil || desc.Version < 0 || desc.IsDeleted() {
		return nil, false
	}
	flag, ok := desc.Item.(*ldmodel.FeatureFlag)
	return flag, ok
}

func (p *storeDataProvider) GetSegment(key string) (*ldmodel.Segment, bool) {
	desc, err := p.store.Get(interfaces.DataKindSegments, key)
	if err != nil || desc.Version < 0 || desc.IsDeleted() {
		return nil, false
	}
	segment, ok := desc.Item.(*ldmodel.Segment)
	return segment, ok
}

func intValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func floatValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func errWrongType(key, want string) error {
	return fmt.Errorf("bifrost: flag %q value is not a %s", key, want)
}

// errorFromDetail surfaces evaluation errors as Go errors alongside the
// default value. The error is informational: the typed value returned with
// it is always usable.
func errorFromDetail(key string, detail ldreason.EvaluationDetail) error {
	if detail.Reason.Kind() != ldreason.EvalReasonError {
		return nil
	}
	return fmt.Errorf("bifrost: evaluating flag %q: %s", key, detail.Reason.ErrorKind())
}
