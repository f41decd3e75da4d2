// Package fdv2proto defines the wire-level event types of the flag
// delivery v2 protocol and a parser for its server-sent-event stream.
package fdv2proto

import (
	"encoding/json"
	"fmt"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/internal/datasystem"
	"github.com/rafaeljc/bifrost/ldmodel"
)

// EventName identifies a protocol event as carried in the SSE event field
// (streaming) or in the "event" property of a polling payload entry.
type EventName string

const (
	EventServerIntent       EventName = "server-intent"
	EventPutObject          EventName = "put-object"
	EventDeleteObject       EventName = "delete-object"
	EventPayloadTransferred EventName = "payload-transferred"
	EventGoodbye            EventName = "goodbye"
	EventError              EventName = "error"
	EventHeartbeat          EventName = "heartbeat"
)

// Object kind strings as sent on the wire.
const (
	objectKindFlag    = "flag"
	objectKindSegment = "segment"
)

// ServerIntent tells the client what kind of transfer the server is about
// to perform for the payload.
type ServerIntent struct {
	Payload Payload `json:"payload"`
}

// Payload carries the transfer intent code for one payload.
type Payload struct {
	ID     string `json:"id"`
	Target int    `json:"target"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// PutObject upserts a single flag or segment.
type PutObject struct {
	Kind    string          `json:"kind"`
	Key     string          `json:"key"`
	Version int             `json:"version"`
	Object  json.RawMessage `json:"object"`
}

// DeleteObject removes a single flag or segment.
type DeleteObject struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Version int    `json:"version"`
}

// PayloadTransferred marks the end of a transfer and carries the selector
// to resume from.
type PayloadTransferred struct {
	State   string `json:"state"`
	Version int    `json:"version"`
}

// Goodbye announces that the server is about to drop the connection.
type Goodbye struct {
	Reason      string `json:"reason"`
	Silent      bool   `json:"silent"`
	Catastrophe bool   `json:"catastrophe"`
}

// ErrorEvent reports a server-side fault affecting the in-progress payload.
// The client discards accumulated changes and awaits a retransmission on
// the same connection.
type ErrorEvent struct {
	PayloadID string `json:"payloadId"`
	Reason    string `json:"reason"`
}

// DataKindForObject maps a wire kind string to the store's data kind.
func DataKindForObject(kind string) (interfaces.DataKind, bool) {
	switch kind {
	case objectKindFlag:
		return interfaces.DataKindFeatures, true
	case objectKindSegment:
		return interfaces.DataKindSegments, true
	default:
		return 0, false
	}
}

// IntentCodeFromWire validates a server-intent code string.
func IntentCodeFromWire(code string) (datasystem.IntentCode, error) {
	switch ic := datasystem.IntentCode(code); ic {
	case datasystem.IntentTransferFull, datasystem.IntentTransferChanges, datasystem.IntentTransferNone:
		return ic, nil
	default:
		return "", fmt.Errorf("unrecognized server intent code %q", code)
	}
}

// DecodeObject deserializes a put-object payload into the model type for
// its kind. Unknown kinds return (nil, false, nil) so callers can skip
// objects added in future protocol revisions.
func DecodeObject(put PutObject) (any, bool, error) {
	switch put.Kind {
	case objectKindFlag:
		flag, err := ldmodel.UnmarshalFeatureFlag(put.Object)
		if err != nil {
			return nil, true, fmt.Errorf("put-object flag %q: %w", put.Key, err)
		}
		return &flag, true, nil
	case objectKindSegment:
		segment, err := ldmodel.UnmarshalSegment(put.Object)
		if err != nil {
			return nil, true, fmt.Errorf("put-object segment %q: %w", put.Key, err)
		}
		return &segment, true, nil
	default:
		return nil, false, nil
	}
}

// PollingEvent is one entry of the polling endpoint's array-of-events
// response body. The shape mirrors the streaming events with the event
// name inlined.
type PollingEvent struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ApplyToBuilder folds a single protocol event into an in-progress
// change-set session. It returns a finished change-set when the event is
// payload-transferred, or nil when the session is still open.
func ApplyToBuilder(builder *datasystem.ChangeSetBuilder, name EventName, data []byte) (*datasystem.ChangeSet, error) {
	switch name {
	case EventServerIntent:
		var intent ServerIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			return nil, fmt.Errorf("malformed server-intent event: %w", err)
		}
		code, err := IntentCodeFromWire(intent.Payload.Code)
		if err != nil {
			return nil, err
		}
		builder.Start(code)
		return nil, nil

	case EventPutObject:
		var put PutObject
		if err := json.Unmarshal(data, &put); err != nil {
			return nil, fmt.Errorf("malformed put-object event: %w", err)
		}
		kind, known := DataKindForObject(put.Kind)
		if !known {
			return nil, nil
		}
		object, _, err := DecodeObject(put)
		if err != nil {
			return nil, err
		}
		builder.AddPut(kind, put.Key, put.Version, object)
		return nil, nil

	case EventDeleteObject:
		var del DeleteObject
		if err := json.Unmarshal(data, &del); err != nil {
			return nil, fmt.Errorf("malformed delete-object event: %w", err)
		}
		kind, known := DataKindForObject(del.Kind)
		if !known {
			return nil, nil
		}
		builder.AddDelete(kind, del.Key, del.Version)
		return nil, nil

	case EventPayloadTransferred:
		var transferred PayloadTransferred
		if err := json.Unmarshal(data, &transferred); err != nil {
			return nil, fmt.Errorf("malformed payload-transferred event: %w", err)
		}
		return builder.Finish(datasystem.NewSelector(transferred.State, transferred.Version))

	case EventHeartbeat:
		return nil, nil

	default:
		// Unknown event names are skipped for forward compatibility.
		return nil, nil
	}
}
