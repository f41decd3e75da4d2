package ldmodel

// Operator is the comparison applied between a context attribute and a
// clause's values.
type Operator string

const (
	// OperatorIn matches if the attribute equals any clause value.
	OperatorIn Operator = "in"
	// OperatorStartsWith matches string prefixes.
	OperatorStartsWith Operator = "startsWith"
	// OperatorEndsWith matches string suffixes.
	OperatorEndsWith Operator = "endsWith"
	// OperatorContains matches string containment.
	OperatorContains Operator = "contains"
	// OperatorMatches treats the clause value as a regular expression.
	OperatorMatches Operator = "matches"
	// OperatorLessThan is a numeric comparison.
	OperatorLessThan Operator = "lessThan"
	// OperatorLessThanOrEqual is a numeric comparison.
	OperatorLessThanOrEqual Operator = "lessThanOrEqual"
	// OperatorGreaterThan is a numeric comparison.
	OperatorGreaterThan Operator = "greaterThan"
	// OperatorGreaterThanOrEqual is a numeric comparison.
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	// OperatorBefore compares timestamps (RFC3339 strings or epoch millis).
	OperatorBefore Operator = "before"
	// OperatorAfter compares timestamps (RFC3339 strings or epoch millis).
	OperatorAfter Operator = "after"
	// OperatorSegmentMatch matches if the context belongs to any of the named
	// segments.
	OperatorSegmentMatch Operator = "segmentMatch"
	// OperatorSemVerEqual compares semantic versions.
	OperatorSemVerEqual Operator = "semVerEqual"
	// OperatorSemVerLessThan compares semantic versions.
	OperatorSemVerLessThan Operator = "semVerLessThan"
	// OperatorSemVerGreaterThan compares semantic versions.
	OperatorSemVerGreaterThan Operator = "semVerGreaterThan"
)

// Clause is a single condition inside a rule. The clause matches if the
// resolved attribute value matches ANY of Values (OR within a clause); Negate
// then inverts the result. An unknown Op never matches, so new operators added
// by the service degrade gracefully on older SDKs.
type Clause struct {
	// ContextKind selects which individual context the attribute is read
	// from; empty means the default kind.
	ContextKind string `json:"contextKind,omitempty"`

	// Attribute is an attribute reference path. When ContextKind is empty
	// (legacy data), it is interpreted as a literal top-level attribute name
	// rather than a slash-delimited path.
	Attribute string `json:"attribute"`

	Op     Operator `json:"op"`
	Values []any    `json:"values"`
	Negate bool     `json:"negate,omitempty"`
}
