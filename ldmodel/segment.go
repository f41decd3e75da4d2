package ldmodel

import "fmt"

// Segment is a named, reusable set of contexts referenced from flag rules via
// the segmentMatch operator.
type Segment struct {
	// Key is the unique segment key.
	Key string `json:"key"`

	// Included lists default-kind context keys that are always in the
	// segment, regardless of rules.
	Included []string `json:"included,omitempty"`

	// Excluded lists default-kind context keys that the segment's rules
	// never apply to. Explicit inclusion is checked first and wins.
	Excluded []string `json:"excluded,omitempty"`

	// IncludedContexts and ExcludedContexts are the kind-scoped equivalents
	// of Included/Excluded.
	IncludedContexts []SegmentTarget `json:"includedContexts,omitempty"`
	ExcludedContexts []SegmentTarget `json:"excludedContexts,omitempty"`

	// Rules add contexts to the segment by matching clauses, optionally
	// weighted for partial rollouts.
	Rules []SegmentRule `json:"rules,omitempty"`

	// Salt perturbs the hash used by weighted segment rules.
	Salt string `json:"salt"`

	// Unbounded marks a Big Segment: the membership list is too large to
	// ship inline and must be queried from a Big Segment store.
	Unbounded bool `json:"unbounded,omitempty"`

	// UnboundedContextKind is the context kind whose key is used for Big
	// Segment membership lookups; empty means the default kind.
	UnboundedContextKind string `json:"unboundedContextKind,omitempty"`

	// Generation distinguishes successive exports of a Big Segment's data. A
	// Big Segment with no generation cannot be queried.
	Generation *int `json:"generation,omitempty"`

	// Version increases monotonically with each configuration change.
	Version int `json:"version"`

	// Deleted marks a tombstone entry in full-payload data sets.
	Deleted bool `json:"deleted,omitempty"`

	includeMap map[string]struct{}
	excludeMap map[string]struct{}
}

// BigSegmentRef returns the key under which this segment's membership is
// stored in a Big Segment store, or "" if the segment has no generation and
// therefore cannot be queried.
func (s *Segment) BigSegmentRef() string {
	if s.Generation == nil {
		return ""
	}
	return fmt.Sprintf("%s.g%d", s.Key, *s.Generation)
}

// IncludesKey reports whether the default-kind include list contains key.
func (s *Segment) IncludesKey(key string) bool {
	if s.includeMap != nil {
		_, ok := s.includeMap[key]
		return ok
	}
	return containsString(s.Included, key)
}

// ExcludesKey reports whether the default-kind exclude list contains key.
func (s *Segment) ExcludesKey(key string) bool {
	if s.excludeMap != nil {
		_, ok := s.excludeMap[key]
		return ok
	}
	return containsString(s.Excluded, key)
}

// SegmentTarget is a kind-scoped include or exclude list.
type SegmentTarget struct {
	// ContextKind scopes the list; empty means the default kind.
	ContextKind string   `json:"contextKind,omitempty"`
	Values      []string `json:"values"`

	valuesMap map[string]struct{}
}

// HasValue reports whether the target list contains the given key.
func (t *SegmentTarget) HasValue(key string) bool {
	if t.valuesMap != nil {
		_, ok := t.valuesMap[key]
		return ok
	}
	return containsString(t.Values, key)
}

// SegmentRule adds contexts to a segment by clause matching, optionally
// limited to a deterministic percentage of matches.
type SegmentRule struct {
	ID      string   `json:"id,omitempty"`
	Clauses []Clause `json:"clauses"`

	// Weight, when set, admits only the fraction Weight/100000 of matching
	// contexts, bucketed by BucketBy (default "key") with the segment's salt.
	Weight *int `json:"weight,omitempty"`

	// BucketBy overrides the bucketing attribute for weighted rules.
	BucketBy string `json:"bucketBy,omitempty"`

	// RolloutContextKind selects which individual context supplies the
	// bucketing attribute; empty means the default kind.
	RolloutContextKind string `json:"rolloutContextKind,omitempty"`
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
