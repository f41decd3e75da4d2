package interfaces

import (
	"context"
	"io"
	"time"
)

// BigSegmentStoreMetadata describes the freshness of a Big Segment store.
type BigSegmentStoreMetadata struct {
	// LastUpToDate is when the store's data was last synchronized. The zero
	// value means the store has never been synchronized.
	LastUpToDate time.Time
}

// BigSegmentMembership is the queried membership state of one context hash:
// segment ref → true (explicitly included) or false (explicitly excluded).
// A ref absent from the map is neither, and segment rules decide instead.
type BigSegmentMembership map[string]bool

// CheckMembership returns the inclusion state for a segment ref, and whether
// the store had an explicit answer for it.
func (m BigSegmentMembership) CheckMembership(segmentRef string) (included bool, ok bool) {
	included, ok = m[segmentRef]
	return
}

// BigSegmentStore is the external keyed store backing segments whose
// membership is too large to ship inline. It is consumed, not implemented, by
// the SDK core; adapter packages provide concrete stores.
type BigSegmentStore interface {
	io.Closer

	// GetMetadata returns the store's synchronization metadata. The SDK polls
	// this to derive the HEALTHY/STALE status attached to evaluations.
	GetMetadata(ctx context.Context) (BigSegmentStoreMetadata, error)

	// GetMembership returns the membership state for one context hash.
	// A nil map with a nil error means the context has no explicit
	// memberships.
	GetMembership(ctx context.Context, contextHash string) (BigSegmentMembership, error)
}
