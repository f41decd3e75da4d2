package datasource

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/ldmodel"
)

// FDv1Synchronizer is the legacy-protocol fallback source. It polls the
// full flag/segment payload endpoint and synthesizes each response into a
// single full-transfer change set carrying no selector, since the legacy
// protocol has no sync cursor.
type FDv1Synchronizer struct {
	logger   *slog.Logger
	cfg      EndpointConfig
	interval time.Duration
	etag     string

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

var _ datasystem.Synchronizer = (*FDv1Synchronizer)(nil)

// NewFDv1Synchronizer creates the legacy fallback synchronizer.
func NewFDv1Synchronizer(logger *slog.Logger, cfg EndpointConfig, interval time.Duration) *FDv1Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURI == "" {
		panic("datasource: base URI cannot be empty")
	}
	if interval < time.Second {
		interval = defaultPollInterval
	}

	return &FDv1Synchronizer{logger: logger, cfg: cfg, interval: interval}
}

func (f *FDv1Synchronizer) Name() string { return "fdv1-fallback" }

// Sync polls until ctx is cancelled, Close is called, or a permanent
// failure occurs.
func (f *FDv1Synchronizer) Sync(ctx context.Context, updatesCh chan<- datasystem.Update) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.cancel = cancel
	f.mu.Unlock()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	if terminal := f.fetchOnce(ctx, updatesCh); terminal {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := f.fetchOnce(ctx, updatesCh); terminal {
				return
			}
		}
	}
}

// Close unblocks a running Sync. Idempotent.
func (f *FDv1Synchronizer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (f *FDv1Synchronizer) fetchOnce(ctx context.Context, updatesCh chan<- datasystem.Update) (terminal bool) {
	cs, err := f.fetchAllData(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if statusErr, ok := err.(*httpStatusError); ok {
			errInfo := errorResponseInfo(statusErr.code)
			if !isRecoverableStatus(statusErr.code) {
				f.logger.Error("legacy poll rejected permanently", slog.Int("status", statusErr.code))
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
		f.logger.Warn("legacy poll failed", slog.String("error", err.Error()))
		send(ctx, updatesCh, datasystem.Update{
			State: interfaces.DataSourceInterrupted,
			Err:   networkErrorInfo(err),
		})
		return false
	}

	send(ctx, updatesCh, datasystem.Update{
		State:     interfaces.DataSourceValid,
		ChangeSet: cs,
	})
	return false
}

func (f *FDv1Synchronizer) fetchAllData(ctx context.Context) (*datasystem.ChangeSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.endpointURI(fdv1AllPath, url.Values{}), nil)
	if err != nil {
		return nil, err
	}
	f.cfg.decorate(req)
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}

	resp, err := f.cfg.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return datasystem.NoChanges(), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	all, err := ldmodel.UnmarshalFDv1AllData(body)
	if err != nil {
		return nil, err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		f.etag = etag
	}

	builder := datasystem.NewChangeSetBuilder()
	builder.Start(datasystem.IntentTransferFull)
	for key, segment := range all.Segments {
		segment := segment
		builder.AddPut(interfaces.DataKindSegments, key, segment.Version, &segment)
	}
	for key, flag := range all.Flags {
		flag := flag
		builder.AddPut(interfaces.DataKindFeatures, key, flag.Version, &flag)
	}
	return builder.Finish(datasystem.NoSelector())
}
