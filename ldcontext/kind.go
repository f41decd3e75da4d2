package ldcontext

import "fmt"

// Kind classifies the subject a Context describes, e.g. "user", "device", or
// "organization". Kinds partition the key namespace: two contexts with the
// same key but different kinds are unrelated.
type Kind string

const (
	// DefaultKind is the kind assumed when none is specified.
	DefaultKind Kind = "user"

	// kindMulti is reserved for multi-kind contexts and cannot be used for a
	// single-kind context.
	kindMulti Kind = "multi"
)

// validateKind enforces the kind charset and the reserved names. An empty
// kind is replaced with DefaultKind.
func validateKind(kind Kind) (Kind, error) {
	if kind == "" {
		return DefaultKind, nil
	}
	switch kind {
	case "kind":
		return "", fmt.Errorf(`"kind" is not a valid context kind`)
	case kindMulti:
		return "", fmt.Errorf(`context kind "multi" is reserved for multi-kind contexts`)
	}
	for _, ch := range string(kind) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '.', ch == '_', ch == '-':
		default:
			return "", fmt.Errorf("context kind contains invalid character %q", ch)
		}
	}
	return kind, nil
}
