package datasystem

import (
	"errors"

	"github.com/rafaeljc/bifrost/interfaces"
)

// IntentCode is the transfer intent announced by the server before it sends
// data: how the accompanying changes relate to what the client already has.
type IntentCode string

const (
	// IntentTransferFull means the changes are a complete data set replacing
	// everything currently stored.
	IntentTransferFull IntentCode = "xfer-full"
	// IntentTransferChanges means the changes are an incremental delta on
	// top of the current data.
	IntentTransferChanges IntentCode = "xfer-changes"
	// IntentTransferNone means the client is already up to date and no data
	// follows.
	IntentTransferNone IntentCode = "xfer-none"
)

// ChangeAction distinguishes puts from deletes within a change set.
type ChangeAction int

const (
	// ChangePut inserts or updates an item.
	ChangePut ChangeAction = iota
	// ChangeDelete tombstones an item.
	ChangeDelete
)

// Change is a single put or delete operation.
type Change struct {
	Action  ChangeAction
	Kind    interfaces.DataKind
	Key     string
	Version int
	// Object is the decoded item for puts (*ldmodel.FeatureFlag or
	// *ldmodel.Segment); nil for deletes.
	Object any
}

// ChangeSet is an atomically applicable bundle of changes, sealed by a
// ChangeSetBuilder. Apply it to the store as a unit: either every operation
// takes effect (subject to version gating) and the selector advances, or
// nothing does.
type ChangeSet struct {
	intent   IntentCode
	changes  []Change
	selector Selector
}

// IntentCode returns the transfer intent the server announced for this set.
func (c *ChangeSet) IntentCode() IntentCode { return c.intent }

// Changes returns the operations in arrival order.
func (c *ChangeSet) Changes() []Change { return c.changes }

// Selector returns the sync position to record after applying this set.
func (c *ChangeSet) Selector() Selector { return c.selector }

// NoChanges returns the sentinel change set meaning "nothing changed" (for
// example an HTTP 304 on a poll). Applying it must not alter store contents
// or selector.
func NoChanges() *ChangeSet {
	return &ChangeSet{intent: IntentTransferNone}
}

// ExpectChanges returns a zero-payload change set signalling "already up to
// date, incremental pushes will follow". It differs from NoChanges only in
// intent, so status reporting can distinguish the streaming wait state.
func ExpectChanges() *ChangeSet {
	return &ChangeSet{intent: IntentTransferChanges}
}

// ErrNoIntent is returned by ChangeSetBuilder.Finish when no server-intent
// was received before the payload-transferred event.
var ErrNoIntent = errors.New("changeset: finish called before start")

// ChangeSetBuilder accumulates put/delete operations from a data source into
// one atomically applicable ChangeSet.
//
// The builder mirrors the protocol session: Start on server-intent, AddPut /
// AddDelete on data events, Reset when the server signals a payload error
// mid-transfer (discard data, keep intent), and Finish on
// payload-transferred.
type ChangeSetBuilder struct {
	intent  *IntentCode
	changes []Change
}

// NewChangeSetBuilder returns an empty builder with no active intent.
func NewChangeSetBuilder() *ChangeSetBuilder {
	return &ChangeSetBuilder{}
}

// Start begins a new change set with the given intent, discarding any
// accumulated operations.
func (b *ChangeSetBuilder) Start(intent IntentCode) {
	b.intent = &intent
	b.changes = nil
}

// HasIntent reports whether Start has been called for the current session.
func (b *ChangeSetBuilder) HasIntent() bool { return b.intent != nil }

// AddPut records an insert/update of an item.
func (b *ChangeSetBuilder) AddPut(kind interfaces.DataKind, key string, version int, object any) {
	b.changes = append(b.changes, Change{
		Action:  ChangePut,
		Kind:    kind,
		Key:     key,
		Version: version,
		Object:  object,
	})
}

// AddDelete records a deletion of an item.
func (b *ChangeSetBuilder) AddDelete(kind interfaces.DataKind, key string, version int) {
	b.changes = append(b.changes, Change{
		Action:  ChangeDelete,
		Kind:    kind,
		Key:     key,
		Version: version,
	})
}

// Reset discards accumulated operations but keeps the current intent. Used
// when the server sends a protocol-level error event mid-stream: the
// in-flight payload is invalid but the session continues.
func (b *ChangeSetBuilder) Reset() {
	b.changes = nil
}

// Finish seals the accumulated operations into an immutable ChangeSet tagged
// with the given selector, and clears the builder for the next session. It
// fails if Start was never called.
func (b *ChangeSetBuilder) Finish(selector Selector) (*ChangeSet, error) {
	if b.intent == nil {
		return nil, ErrNoIntent
	}
	cs := &ChangeSet{
		intent:   *b.intent,
		changes:  b.changes,
		selector: selector,
	}
	b.intent = nil
	b.changes = nil
	return cs, nil
}
