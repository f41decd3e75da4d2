package ldcontext

import "fmt"

// Builder assembles a single-kind Context. The zero value is not usable;
// obtain one from NewBuilder.
//
// Builders are not safe for concurrent use. Build may be called more than
// once; each call returns an independent immutable Context.
type Builder struct {
	kind         Kind
	key          string
	name         string
	hasName      bool
	anonymous    bool
	attributes   map[string]any
	privateAttrs []Reference
}

// NewBuilder creates a Builder for a context of the default kind with the
// given key.
func NewBuilder(key string) *Builder {
	return &Builder{kind: DefaultKind, key: key}
}

// Kind sets the context kind. An empty kind resets to DefaultKind.
func (b *Builder) Kind(kind Kind) *Builder {
	if kind == "" {
		kind = DefaultKind
	}
	b.kind = kind
	return b
}

// Key replaces the context key.
func (b *Builder) Key(key string) *Builder {
	b.key = key
	return b
}

// Name sets the context's name attribute, used both for display and as a
// targetable attribute.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	b.hasName = true
	return b
}

// Anonymous marks the context as anonymous. Anonymous contexts are still
// bucketed deterministically by key.
func (b *Builder) Anonymous(anonymous bool) *Builder {
	b.anonymous = anonymous
	return b
}

// SetValue sets a custom attribute. Values should be JSON-compatible types
// (string, bool, numbers, []any, map[string]any); nested maps are addressable
// via slash-delimited attribute references in rules.
//
// The built-in attribute names "key", "kind", "name", and "anonymous" cannot
// be set through SetValue and are silently ignored, matching the factory
// validation rules.
func (b *Builder) SetValue(attr string, value any) *Builder {
	switch attr {
	case "", "key", "kind", "name", "anonymous":
		return b
	}
	if b.attributes == nil {
		b.attributes = make(map[string]any)
	}
	b.attributes[attr] = value
	return b
}

// Private marks attribute references as private, excluding them from
// analytics event payloads. Invalid references are kept (they simply match
// nothing) so callers can detect them via Context.PrivateAttributes.
func (b *Builder) Private(refs ...string) *Builder {
	for _, r := range refs {
		b.privateAttrs = append(b.privateAttrs, NewRef(r))
	}
	return b
}

// PrivateRef is like Private for already-parsed references.
func (b *Builder) PrivateRef(refs ...Reference) *Builder {
	b.privateAttrs = append(b.privateAttrs, refs...)
	return b
}

// Build validates the accumulated state and returns an immutable Context.
// Validation failures produce a defined-but-invalid Context whose Err
// describes the problem.
func (b *Builder) Build() Context {
	kind, err := validateKind(b.kind)
	if err != nil {
		return errContext(err)
	}
	if b.key == "" {
		return errContext(fmt.Errorf("context key cannot be empty"))
	}

	c := Context{
		defined:           true,
		kind:              kind,
		key:               b.key,
		fullyQualifiedKey: makeFQKey(kind, b.key),
		name:              b.name,
		hasName:           b.hasName,
		anonymous:         b.anonymous,
	}
	if len(b.attributes) > 0 {
		attrs := make(map[string]any, len(b.attributes))
		for k, v := range b.attributes {
			attrs[k] = v
		}
		c.attributes = attrs
	}
	if len(b.privateAttrs) > 0 {
		c.privateAttrs = make([]Reference, len(b.privateAttrs))
		copy(c.privateAttrs, b.privateAttrs)
	}
	return c
}
