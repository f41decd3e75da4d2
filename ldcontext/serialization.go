package ldcontext

import (
	"encoding/json"
	"fmt"
)

// contextMeta carries the "_meta" envelope of the JSON representation.
type contextMeta struct {
	PrivateAttributes []string `json:"privateAttributes,omitempty"`
}

// MarshalJSON serializes the context in its canonical JSON representation:
// a flat object with "kind" and "key" for single-kind contexts, or an object
// keyed by kind (plus "kind":"multi") for multi-kind contexts.
func (c Context) MarshalJSON() ([]byte, error) {
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("cannot serialize invalid context: %w", err)
	}

	if c.Multiple() {
		out := make(map[string]json.RawMessage, len(c.multiContexts)+1)
		out["kind"] = json.RawMessage(`"multi"`)
		for _, mc := range c.multiContexts {
			data, err := mc.marshalSingle(false)
			if err != nil {
				return nil, err
			}
			out[string(mc.kind)] = data
		}
		return json.Marshal(out)
	}
	return c.marshalSingle(true)
}

func (c Context) marshalSingle(includeKind bool) (json.RawMessage, error) {
	out := make(map[string]any, len(c.attributes)+4)
	for k, v := range c.attributes {
		out[k] = v
	}
	if includeKind {
		out["kind"] = string(c.kind)
	}
	out["key"] = c.key
	if c.hasName {
		out["name"] = c.name
	}
	if c.anonymous {
		out["anonymous"] = true
	}
	if len(c.privateAttrs) > 0 {
		refs := make([]string, len(c.privateAttrs))
		for i, r := range c.privateAttrs {
			refs[i] = r.String()
		}
		out["_meta"] = contextMeta{PrivateAttributes: refs}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the canonical JSON representation. An object without a
// "kind" property is treated as a context of the default kind. Both malformed
// JSON and semantically invalid contexts (such as an empty key) are reported
// as errors.
func (c *Context) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("malformed context JSON: %w", err)
	}

	kind := string(DefaultKind)
	if raw, ok := fields["kind"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return fmt.Errorf("context kind must be a string: %w", err)
		}
	}

	var parsed Context
	if kind == string(kindMulti) {
		parts := make([]Context, 0, len(fields)-1)
		for k, raw := range fields {
			if k == "kind" {
				continue
			}
			part, err := unmarshalSingle(Kind(k), raw)
			if err != nil {
				return err
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			return fmt.Errorf("multi-kind context must contain at least one context")
		}
		parsed = NewMulti(parts...)
	} else {
		var err error
		parsed, err = unmarshalSingle(Kind(kind), data)
		if err != nil {
			return err
		}
	}

	if err := parsed.Err(); err != nil {
		return err
	}
	*c = parsed
	return nil
}

func unmarshalSingle(kind Kind, data json.RawMessage) (Context, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Context{}, fmt.Errorf("malformed context JSON: %w", err)
	}

	var key string
	if raw, ok := fields["key"]; ok {
		if err := json.Unmarshal(raw, &key); err != nil {
			return Context{}, fmt.Errorf("context key must be a string: %w", err)
		}
	}

	b := NewBuilder(key).Kind(kind)
	for name, raw := range fields {
		switch name {
		case "kind", "key":
			// Already consumed.
		case "name":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return Context{}, fmt.Errorf("context name must be a string: %w", err)
			}
			b.Name(s)
		case "anonymous":
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return Context{}, fmt.Errorf("context anonymous must be a boolean: %w", err)
			}
			b.Anonymous(v)
		case "_meta":
			var meta contextMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return Context{}, fmt.Errorf("malformed context _meta: %w", err)
			}
			b.Private(meta.PrivateAttributes...)
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return Context{}, fmt.Errorf("malformed context attribute %q: %w", name, err)
			}
			b.SetValue(name, value)
		}
	}
	built := b.Build()
	if err := built.Err(); err != nil {
		return Context{}, err
	}
	return built, nil
}
