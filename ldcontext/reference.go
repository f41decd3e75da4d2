package ldcontext

import (
	"fmt"
	"strings"
)

// Reference is a parsed, validated attribute path.
//
// A reference is either a plain attribute name ("email") addressing a
// top-level attribute, or a slash-prefixed pointer path ("/address/city")
// addressing a value inside a nested object attribute. Within pointer paths,
// "~1" escapes a literal "/" and "~0" escapes a literal "~", following the
// JSON Pointer convention.
//
// Parsing happens once at construction; evaluation and private-attribute
// matching reuse the cached component list.
type Reference struct {
	raw        string
	components []string
	err        error
}

// NewRef parses an attribute reference from its string form. A leading "/"
// selects pointer-path syntax; anything else is treated as a single literal
// attribute name. Use Err to check validity.
func NewRef(raw string) Reference {
	if raw == "" || raw == "/" {
		return Reference{raw: raw, err: fmt.Errorf("attribute reference cannot be empty")}
	}
	if !strings.HasPrefix(raw, "/") {
		return Reference{raw: raw, components: []string{raw}}
	}
	parts := strings.Split(raw[1:], "/")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return Reference{raw: raw, err: fmt.Errorf("attribute reference contained a double slash or trailing slash: %q", raw)}
		}
		unescaped, err := unescapeRefComponent(p)
		if err != nil {
			return Reference{raw: raw, err: err}
		}
		components = append(components, unescaped)
	}
	return Reference{raw: raw, components: components}
}

// NewLiteralRef constructs a reference that addresses the named top-level
// attribute verbatim, even if the name starts with "/".
func NewLiteralRef(name string) Reference {
	if name == "" {
		return Reference{raw: name, err: fmt.Errorf("attribute reference cannot be empty")}
	}
	return Reference{raw: name, components: []string{name}}
}

// Err returns nil if the reference is valid.
func (r Reference) Err() error { return r.err }

// IsDefined reports whether the reference was constructed (non-zero) and
// parsed without error.
func (r Reference) IsDefined() bool { return r.err == nil && len(r.components) > 0 }

// String returns the original string form of the reference.
func (r Reference) String() string { return r.raw }

// Depth returns the number of path components (0 for an invalid reference).
func (r Reference) Depth() int { return len(r.components) }

// Component returns the path component at the given index, or "" if out of
// range.
func (r Reference) Component(i int) string {
	if i < 0 || i >= len(r.components) {
		return ""
	}
	return r.components[i]
}

func unescapeRefComponent(s string) (string, error) {
	if !strings.Contains(s, "~") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '~' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("attribute reference contained a trailing '~': %q", s)
		}
		switch s[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("attribute reference contained an invalid escape '~%c'", s[i+1])
		}
		i++
	}
	return b.String(), nil
}
