package datasource

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/internal/fdv2proto"
)

const (
	streamInitialRetryDelay = time.Second
	streamMaxRetryDelay     = 30 * time.Second
	streamReadChunkSize     = 4096
)

// StreamingSynchronizer keeps a server-sent-event connection open to the
// flag delivery service and converts the protocol events into change-set
// updates. Recoverable failures reconnect with exponential backoff;
// permanent failures emit a terminal OFF update and stop.
type StreamingSynchronizer struct {
	logger   *slog.Logger
	cfg      EndpointConfig
	selector func() datasystem.Selector

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

var _ datasystem.Synchronizer = (*StreamingSynchronizer)(nil)

// NewStreamingSynchronizer creates a streaming synchronizer. selector is
// consulted on each connection attempt to resume from the store's current
// sync position.
func NewStreamingSynchronizer(logger *slog.Logger, cfg EndpointConfig, selector func() datasystem.Selector) *StreamingSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURI == "" {
		panic("datasource: base URI cannot be empty")
	}
	if selector == nil {
		panic("datasource: selector func cannot be nil")
	}

	return &StreamingSynchronizer{
		logger:   logger,
		cfg:      cfg,
		selector: selector,
	}
}

func (s *StreamingSynchronizer) Name() string { return "streaming" }

// Sync runs the connect/read/reconnect loop until ctx is cancelled, Close
// is called, or a permanent failure occurs.
func (s *StreamingSynchronizer) Sync(ctx context.Context, updatesCh chan<- datasystem.Update) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = streamInitialRetryDelay
	retry.MaxInterval = streamMaxRetryDelay
	retry.MaxElapsedTime = 0 // retry forever

	for {
		receivedData, terminal := s.connectAndRead(ctx, updatesCh)
		if terminal || ctx.Err() != nil {
			return
		}
		if receivedData {
			retry.Reset()
		}

		delay := retry.NextBackOff()
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("delay", delay.String()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Close unblocks a running Sync. Idempotent.
func (s *StreamingSynchronizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// connectAndRead performs one connection attempt and consumes the stream
// until it breaks. It reports whether any change set was delivered (used to
// reset the reconnect backoff) and whether the failure is terminal.
func (s *StreamingSynchronizer) connectAndRead(ctx context.Context, updatesCh chan<- datasystem.Update) (receivedData bool, terminal bool) {
	params := url.Values{}
	if sel := s.selector(); sel.IsDefined() {
		params.Set("basis", sel.State())
	}
	uri := s.cfg.endpointURI(streamPath, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		send(ctx, updatesCh, datasystem.Update{
			State: interfaces.DataSourceInterrupted,
			Err:   networkErrorInfo(err),
		})
		return false, false
	}
	s.cfg.decorate(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cfg.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		send(ctx, updatesCh, datasystem.Update{
			State: interfaces.DataSourceInterrupted,
			Err:   networkErrorInfo(err),
		})
		return false, false
	}
	defer resp.Body.Close()

	if shouldRevertToFDv1(resp) {
		s.logger.Warn("service requested fallback to legacy flag delivery protocol")
		send(ctx, updatesCh, datasystem.Update{
			State:        interfaces.DataSourceInterrupted,
			RevertToFDv1: true,
		})
		return false, true
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errInfo := errorResponseInfo(resp.StatusCode)
		if isRecoverableStatus(resp.StatusCode) {
			send(ctx, updatesCh, datasystem.Update{
				State: interfaces.DataSourceInterrupted,
				Err:   errInfo,
			})
			return false, false
		}
		s.logger.Error("stream request rejected permanently",
			slog.Int("status", resp.StatusCode))
		send(ctx, updatesCh, datasystem.Update{
			State: interfaces.DataSourceOff,
			Err:   errInfo,
		})
		return false, true
	}

	envID := environmentID(resp)
	builder := datasystem.NewChangeSetBuilder()
	var parser fdv2proto.SSEParser
	buf := make([]byte, streamReadChunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		for _, ev := range parser.Feed(buf[:n]) {
			delivered, fatal := s.handleEvent(ctx, updatesCh, builder, envID, ev)
			if fatal {
				return receivedData, false
			}
			if delivered {
				receivedData = true
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return receivedData, true
			}
			send(ctx, updatesCh, datasystem.Update{
				State: interfaces.DataSourceInterrupted,
				Err:   networkErrorInfo(readErr),
			})
			return receivedData, false
		}
	}
}

// handleEvent processes a single stream event. delivered is true when an
// update carrying data was sent; fatal is true when the connection must be
// dropped and reopened (malformed payload).
func (s *StreamingSynchronizer) handleEvent(ctx context.Context, updatesCh chan<- datasystem.Update, builder *datasystem.ChangeSetBuilder, envID string, ev fdv2proto.SSEEvent) (delivered bool, fatal bool) {
	switch fdv2proto.EventName(ev.Name) {
	case fdv2proto.EventGoodbye:
		var goodbye fdv2proto.Goodbye
		if err := json.Unmarshal([]byte(ev.Data), &goodbye); err == nil && !goodbye.Silent {
			s.logger.Warn("server closing stream",
				slog.String("reason", goodbye.Reason),
				slog.Bool("catastrophe", goodbye.Catastrophe))
		}
		return false, false

	case fdv2proto.EventError:
		// A server-side fault invalidated the in-progress payload. Discard
		// accumulated changes but keep the intent; the server retransmits on
		// this same connection.
		var protocolErr fdv2proto.ErrorEvent
		if err := json.Unmarshal([]byte(ev.Data), &protocolErr); err == nil {
			s.logger.Warn("payload error from server, discarding partial transfer",
				slog.String("reason", protocolErr.Reason))
		}
		builder.Reset()
		return false, false

	case fdv2proto.EventServerIntent:
		var intent fdv2proto.ServerIntent
		if err := json.Unmarshal([]byte(ev.Data), &intent); err != nil {
			s.sendInvalidData(ctx, updatesCh, err)
			return false, true
		}
		code, err := fdv2proto.IntentCodeFromWire(intent.Payload.Code)
		if err != nil {
			s.sendInvalidData(ctx, updatesCh, err)
			return false, true
		}
		if code == datasystem.IntentTransferNone {
			// Already up to date: report ready and wait for deltas.
			send(ctx, updatesCh, datasystem.Update{
				State:         interfaces.DataSourceValid,
				ChangeSet:     datasystem.ExpectChanges(),
				EnvironmentID: envID,
			})
			return true, false
		}
		builder.Start(code)
		return false, false

	default:
		cs, err := fdv2proto.ApplyToBuilder(builder, fdv2proto.EventName(ev.Name), []byte(ev.Data))
		if err != nil {
			s.sendInvalidData(ctx, updatesCh, err)
			return false, true
		}
		if cs == nil {
			return false, false
		}
		send(ctx, updatesCh, datasystem.Update{
			State:         interfaces.DataSourceValid,
			ChangeSet:     cs,
			EnvironmentID: envID,
		})
		return true, false
	}
}

func (s *StreamingSynchronizer) sendInvalidData(ctx context.Context, updatesCh chan<- datasystem.Update, err error) {
	s.logger.Warn("malformed stream payload, reconnecting", slog.String("error", err.Error()))
	send(ctx, updatesCh, datasystem.Update{
		State: interfaces.DataSourceInterrupted,
		Err:   invalidDataErrorInfo(err),
	})
}

// send delivers an update unless the context is cancelled first.
func send(ctx context.Context, updatesCh chan<- datasystem.Update, update datasystem.Update) {
	select {
	case updatesCh <- update:
	case <-ctx.Done():
	}
}
