// Package ldcontext defines the evaluation context: the subject (user,
// device, service, ...) that feature flags are evaluated against.
//
// Contexts are immutable value types constructed only through the factory
// functions and builders in this package, which validate and normalize their
// inputs. An invalid context is still a usable value; it simply carries a
// non-nil Err and fails evaluation with a USER_NOT_SPECIFIED error instead of
// panicking somewhere downstream.
package ldcontext

import (
	"fmt"
	"sort"
	"strings"
)

// Context is the subject of a flag evaluation. It is either single-kind (one
// kind, one key, optional attributes) or multi-kind (an ordered set of
// single-kind contexts with distinct kinds).
type Context struct {
	defined           bool
	err               error
	kind              Kind
	key               string
	fullyQualifiedKey string
	name              string
	hasName           bool
	anonymous         bool
	attributes        map[string]any
	privateAttrs      []Reference
	multiContexts     []Context
}

// New creates a single-kind Context of the default kind ("user") with the
// given key and no other attributes.
func New(key string) Context {
	return NewWithKind(DefaultKind, key)
}

// NewWithKind creates a single-kind Context with the given kind and key and
// no other attributes.
func NewWithKind(kind Kind, key string) Context {
	return NewBuilder(key).Kind(kind).Build()
}

// NewMulti creates a multi-kind Context from the given single-kind contexts.
//
// Every input must be a valid single-kind context and all kinds must be
// distinct; otherwise the result is invalid. A single input collapses to that
// context unchanged rather than producing a one-element multi-kind wrapper.
func NewMulti(contexts ...Context) Context {
	if len(contexts) == 0 {
		return errContext(fmt.Errorf("multi-kind context must contain at least one context"))
	}
	if len(contexts) == 1 {
		return contexts[0]
	}
	seen := make(map[Kind]struct{}, len(contexts))
	for _, c := range contexts {
		if !c.defined || c.err != nil {
			return errContext(fmt.Errorf("multi-kind context contained an invalid context: %w", c.errOrUndefined()))
		}
		if c.Multiple() {
			return errContext(fmt.Errorf("multi-kind context cannot contain another multi-kind context"))
		}
		if _, dup := seen[c.kind]; dup {
			return errContext(fmt.Errorf("multi-kind context contained two contexts of kind %q", c.kind))
		}
		seen[c.kind] = struct{}{}
	}

	// Children are stored sorted by kind so that the fully-qualified key is
	// canonical regardless of construction order.
	sorted := make([]Context, len(contexts))
	copy(sorted, contexts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].kind < sorted[j].kind })

	parts := make([]string, len(sorted))
	for i, c := range sorted {
		parts[i] = string(c.kind) + ":" + escapeKeyForFQKey(c.key)
	}
	return Context{
		defined:           true,
		kind:              kindMulti,
		multiContexts:     sorted,
		fullyQualifiedKey: strings.Join(parts, ":"),
	}
}

func errContext(err error) Context {
	return Context{defined: true, err: err}
}

func (c Context) errOrUndefined() error {
	if !c.defined {
		return fmt.Errorf("uninitialized context")
	}
	return c.err
}

// IsDefined reports whether the Context was produced by a constructor, as
// opposed to being an empty struct value. A defined context may still be
// invalid; see Err.
func (c Context) IsDefined() bool { return c.defined }

// Err returns nil if the context is valid. Evaluating against an invalid
// context yields a USER_NOT_SPECIFIED error detail.
func (c Context) Err() error { return c.errOrUndefined() }

// Kind returns the context kind, or "multi" for a multi-kind context.
func (c Context) Kind() Kind { return c.kind }

// Key returns the context key. For a multi-kind context it returns "".
func (c Context) Key() string { return c.key }

// FullyQualifiedKey returns the canonical key that uniquely identifies this
// context across kinds: the bare key for the default kind, "kind:key" for
// other kinds, and a kind-sorted concatenation for multi-kind contexts.
// Keys are escaped so that ":" and "%" inside a key cannot collide with the
// separators.
func (c Context) FullyQualifiedKey() string { return c.fullyQualifiedKey }

// Name returns the context's name attribute and whether it was set.
func (c Context) Name() (string, bool) { return c.name, c.hasName }

// Anonymous reports whether the context was marked anonymous.
func (c Context) Anonymous() bool { return c.anonymous }

// Multiple reports whether this is a multi-kind context.
func (c Context) Multiple() bool { return c.kind == kindMulti }

// IndividualContextCount returns the number of single-kind contexts this
// context contains (1 for a valid single-kind context).
func (c Context) IndividualContextCount() int {
	if c.Multiple() {
		return len(c.multiContexts)
	}
	if c.defined && c.err == nil {
		return 1
	}
	return 0
}

// IndividualContextByKind returns the single-kind context of the given kind,
// if present. An empty kind means DefaultKind. For a single-kind context this
// returns the context itself when the kind matches.
func (c Context) IndividualContextByKind(kind Kind) (Context, bool) {
	if kind == "" {
		kind = DefaultKind
	}
	if c.Multiple() {
		for _, mc := range c.multiContexts {
			if mc.kind == kind {
				return mc, true
			}
		}
		return Context{}, false
	}
	if c.defined && c.err == nil && c.kind == kind {
		return c, true
	}
	return Context{}, false
}

// IndividualContexts returns all single-kind contexts contained in this
// context.
func (c Context) IndividualContexts() []Context {
	if c.Multiple() {
		out := make([]Context, len(c.multiContexts))
		copy(out, c.multiContexts)
		return out
	}
	if c.defined && c.err == nil {
		return []Context{c}
	}
	return nil
}

// PrivateAttributes returns the attribute references marked private on this
// context.
func (c Context) PrivateAttributes() []Reference {
	out := make([]Reference, len(c.privateAttrs))
	copy(out, c.privateAttrs)
	return out
}

// GetValue looks up a top-level attribute by name. Built-in attributes
// ("key", "kind", "name", "anonymous") are addressable alongside custom
// attributes. For a multi-kind context only "kind" is addressable; use
// IndividualContextByKind for anything else.
func (c Context) GetValue(attr string) (any, bool) {
	if c.Multiple() {
		if attr == "kind" {
			return string(c.kind), true
		}
		return nil, false
	}
	switch attr {
	case "key":
		return c.key, true
	case "kind":
		return string(c.kind), true
	case "name":
		if c.hasName {
			return c.name, true
		}
		return nil, false
	case "anonymous":
		return c.anonymous, true
	}
	v, ok := c.attributes[attr]
	return v, ok
}

// GetValueForRef looks up an attribute by parsed reference, descending into
// nested object attributes for multi-component paths.
func (c Context) GetValueForRef(ref Reference) (any, bool) {
	if !ref.IsDefined() {
		return nil, false
	}
	if ref.Depth() == 1 {
		return c.GetValue(ref.Component(0))
	}
	// Built-in attributes are scalars, so a multi-component path can only
	// resolve through a custom attribute.
	value, ok := c.attributes[ref.Component(0)]
	if !ok {
		return nil, false
	}
	for i := 1; i < ref.Depth(); i++ {
		obj, isObj := value.(map[string]any)
		if !isObj {
			return nil, false
		}
		value, ok = obj[ref.Component(i)]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// String returns the fully-qualified key, for logging.
func (c Context) String() string {
	if c.err != nil {
		return "(invalid context: " + c.err.Error() + ")"
	}
	return c.fullyQualifiedKey
}

// escapeKeyForFQKey escapes "%" and ":" so keys cannot collide with the
// fully-qualified key separator.
func escapeKeyForFQKey(key string) string {
	key = strings.ReplaceAll(key, "%", "%25")
	return strings.ReplaceAll(key, ":", "%3A")
}

func makeFQKey(kind Kind, key string) string {
	if kind == DefaultKind {
		return key
	}
	return string(kind) + ":" + escapeKeyForFQKey(key)
}
