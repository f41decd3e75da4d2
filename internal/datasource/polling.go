package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/internal/fdv2proto"
)

const defaultPollInterval = 30 * time.Second

// pollResult is the outcome of one conditional GET against the polling
// endpoint.
type pollResult struct {
	changeSet     *datasystem.ChangeSet
	environmentID string
	revertToFDv1  bool
}

// poller performs conditional polls and caches the ETag between them.
type poller struct {
	cfg  EndpointConfig
	etag string
}

// poll fetches the current payload. A 304 yields the no-changes sentinel.
func (p *poller) poll(ctx context.Context, selector datasystem.Selector) (pollResult, error) {
	params := url.Values{}
	if selector.IsDefined() {
		params.Set("selector", selector.State())
	}
	uri := p.cfg.endpointURI(pollPath, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return pollResult{}, err
	}
	p.cfg.decorate(req)
	if p.etag != "" {
		req.Header.Set("If-None-Match", p.etag)
	}

	resp, err := p.cfg.client().Do(req)
	if err != nil {
		return pollResult{}, err
	}
	defer resp.Body.Close()

	if shouldRevertToFDv1(resp) {
		return pollResult{revertToFDv1: true}, nil
	}

	if resp.StatusCode == http.StatusNotModified {
		return pollResult{changeSet: datasystem.NoChanges(), environmentID: environmentID(resp)}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pollResult{}, &httpStatusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pollResult{}, err
	}
	cs, err := parsePollingPayload(body)
	if err != nil {
		return pollResult{}, err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		p.etag = etag
	}
	return pollResult{changeSet: cs, environmentID: environmentID(resp)}, nil
}

// parsePollingPayload folds the array-of-events response body into one
// change set. The body has the same event shapes as the stream, batched and
// terminated by a payload-transferred event.
func parsePollingPayload(body []byte) (*datasystem.ChangeSet, error) {
	var events []fdv2proto.PollingEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("invalid polling payload: %w", err)
	}

	builder := datasystem.NewChangeSetBuilder()
	for _, ev := range events {
		if ev.Event == fdv2proto.EventServerIntent {
			var intent fdv2proto.ServerIntent
			if err := json.Unmarshal(ev.Data, &intent); err != nil {
				return nil, fmt.Errorf("malformed server-intent event: %w", err)
			}
			code, err := fdv2proto.IntentCodeFromWire(intent.Payload.Code)
			if err != nil {
				return nil, err
			}
			if code == datasystem.IntentTransferNone {
				return datasystem.NoChanges(), nil
			}
			builder.Start(code)
			continue
		}
		cs, err := fdv2proto.ApplyToBuilder(builder, ev.Event, ev.Data)
		if err != nil {
			return nil, err
		}
		if cs != nil {
			return cs, nil
		}
	}
	return nil, fmt.Errorf("polling payload ended without a payload-transferred event")
}

// PollingSynchronizer fetches the full payload on a fixed interval using
// conditional requests. It is the lower-fidelity alternative to streaming,
// typically used behind restrictive proxies.
type PollingSynchronizer struct {
	logger   *slog.Logger
	poller   poller
	selector func() datasystem.Selector
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

var _ datasystem.Synchronizer = (*PollingSynchronizer)(nil)

// NewPollingSynchronizer creates a polling synchronizer. An interval below
// one second falls back to the default.
func NewPollingSynchronizer(logger *slog.Logger, cfg EndpointConfig, selector func() datasystem.Selector, interval time.Duration) *PollingSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURI == "" {
		panic("datasource: base URI cannot be empty")
	}
	if selector == nil {
		panic("datasource: selector func cannot be nil")
	}
	if interval < time.Second {
		interval = defaultPollInterval
	}

	return &PollingSynchronizer{
		logger:   logger,
		poller:   poller{cfg: cfg},
		selector: selector,
		interval: interval,
	}
}

func (p *PollingSynchronizer) Name() string { return "polling" }

// Sync polls until ctx is cancelled, Close is called, or a permanent
// failure occurs. The first poll happens immediately.
func (p *PollingSynchronizer) Sync(ctx context.Context, updatesCh chan<- datasystem.Update) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if terminal := p.pollOnce(ctx, updatesCh); terminal {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := p.pollOnce(ctx, updatesCh); terminal {
				return
			}
		}
	}
}

// Close unblocks a running Sync. Idempotent.
func (p *PollingSynchronizer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func (p *PollingSynchronizer) pollOnce(ctx context.Context, updatesCh chan<- datasystem.Update) (terminal bool) {
	result, err := p.poller.poll(ctx, p.selector())
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		return p.reportPollError(ctx, updatesCh, err)
	}

	if result.revertToFDv1 {
		p.logger.Warn("service requested fallback to legacy flag delivery protocol")
		send(ctx, updatesCh, datasystem.Update{
			State:        interfaces.DataSourceInterrupted,
			RevertToFDv1: true,
		})
		return true
	}

	send(ctx, updatesCh, datasystem.Update{
		State:         interfaces.DataSourceValid,
		ChangeSet:     result.changeSet,
		EnvironmentID: result.environmentID,
	})
	return false
}

func (p *PollingSynchronizer) reportPollError(ctx context.Context, updatesCh chan<- datasystem.Update, err error) (terminal bool) {
	if statusErr, ok := err.(*httpStatusError); ok {
		errInfo := errorResponseInfo(statusErr.code)
		if !isRecoverableStatus(statusErr.code) {
			p.logger.Error("poll request rejected permanently", slog.Int("status", statusErr.code))
			send(ctx, updatesCh, datasystem.Update{
				State: interfaces.DataSourceOff,
				Err:   errInfo,
			})
			return true
		}
		send(ctx, updatesCh, datasystem.Update{
			State: interfaces.DataSourceInterrupted,
			Err:   errInfo,
		})
		return false
	}

	p.logger.Warn("poll failed", slog.String("error", err.Error()))
	send(ctx, updatesCh, datasystem.Update{
		State: interfaces.DataSourceInterrupted,
		Err:   networkErrorInfo(err),
	})
	return false
}

// PollingInitializer performs a single fetch to seed the store before any
// synchronizer starts.
type PollingInitializer struct {
	logger *slog.Logger
	poller poller
}

var _ datasystem.Initializer = (*PollingInitializer)(nil)

// NewPollingInitializer creates a one-shot polling initializer.
func NewPollingInitializer(logger *slog.Logger, cfg EndpointConfig) *PollingInitializer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURI == "" {
		panic("datasource: base URI cannot be empty")
	}

	return &PollingInitializer{logger: logger, poller: poller{cfg: cfg}}
}

func (p *PollingInitializer) Name() string { return "polling-initializer" }

// Fetch performs one unconditioned poll and returns its change set.
func (p *PollingInitializer) Fetch(ctx context.Context) (*datasystem.ChangeSet, error) {
	result, err := p.poller.poll(ctx, datasystem.NoSelector())
	if err != nil {
		return nil, err
	}
	if result.revertToFDv1 {
		return nil, fmt.Errorf("service does not support flag delivery v2 for this environment")
	}
	return result.changeSet, nil
}
