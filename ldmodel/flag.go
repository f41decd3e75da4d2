// Package ldmodel defines the flag and segment configuration model as
// delivered by the flag delivery protocols.
//
// The types here are plain data: evaluation logic lives in the evaluator and
// must never mutate a flag or segment after it has been stored. The only
// mutation point is the preprocessing pass (see preprocess.go), which runs
// once at deserialization time to compile target lists into constant-time
// lookup sets.
package ldmodel

// FeatureFlag is the full configuration of one feature flag.
type FeatureFlag struct {
	// Key is the unique flag key.
	Key string `json:"key"`

	// On is the global kill switch. When false, evaluation short-circuits to
	// the off variation.
	On bool `json:"on"`

	// Prerequisites are flags that must evaluate to a specific variation
	// before this flag's own targeting applies.
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`

	// Targets are the legacy default-kind target lists: explicit context keys
	// mapped to a fixed variation.
	Targets []Target `json:"targets,omitempty"`

	// ContextTargets are kind-scoped target lists. An entry of the default
	// kind with empty Values defers to the Targets entry for the same
	// variation, preserving the legacy list order semantics.
	ContextTargets []Target `json:"contextTargets,omitempty"`

	// Rules are evaluated in order; the first rule whose clauses all match
	// decides the variation.
	Rules []FlagRule `json:"rules,omitempty"`

	// Fallthrough decides the variation when the flag is on and no target or
	// rule matched.
	Fallthrough VariationOrRollout `json:"fallthrough"`

	// OffVariation is the variation served when the flag is off or a
	// prerequisite fails. Nil means "serve the caller's default value".
	OffVariation *int `json:"offVariation,omitempty"`

	// Variations are the possible values of the flag.
	Variations []any `json:"variations"`

	// ClientSideAvailability controls exposure to client-side SDKs.
	ClientSideAvailability ClientSideAvailability `json:"clientSideAvailability,omitempty"`

	// Salt perturbs the rollout hash so that bucket assignments are
	// independent across flags.
	Salt string `json:"salt"`

	// TrackEvents enables full analytics events for every evaluation.
	TrackEvents bool `json:"trackEvents,omitempty"`

	// TrackEventsFallthrough enables full analytics events for fallthrough
	// evaluations only.
	TrackEventsFallthrough bool `json:"trackEventsFallthrough,omitempty"`

	// DebugEventsUntilDate, when nonzero, enables debug events until the
	// given epoch-milliseconds timestamp.
	DebugEventsUntilDate uint64 `json:"debugEventsUntilDate,omitempty"`

	// Version increases monotonically with each configuration change. Store
	// updates carrying a version lower than or equal to the stored one are
	// discarded.
	Version int `json:"version"`

	// Deleted marks a tombstone entry in full-payload data sets.
	Deleted bool `json:"deleted,omitempty"`
}

// Prerequisite names another flag and the variation index it must return for
// this flag to proceed past the prerequisite check.
type Prerequisite struct {
	Key       string `json:"key"`
	Variation int    `json:"variation"`
}

// Target maps a list of context keys directly to a variation.
type Target struct {
	// ContextKind scopes the list to one context kind; empty means the
	// default kind.
	ContextKind string `json:"contextKind,omitempty"`
	Variation   int    `json:"variation"`
	Values      []string `json:"values"`

	// valuesMap is built by preprocessing for O(1) membership checks.
	valuesMap map[string]struct{}
}

// HasValue reports whether the target list contains the given key.
func (t *Target) HasValue(key string) bool {
	if t.valuesMap != nil {
		_, ok := t.valuesMap[key]
		return ok
	}
	for _, v := range t.Values {
		if v == key {
			return true
		}
	}
	return false
}

// FlagRule is one targeting rule: a conjunction of clauses plus the variation
// or rollout to serve when they all match.
type FlagRule struct {
	// ID identifies the rule in evaluation reasons; it is stable across rule
	// reordering.
	ID                 string   `json:"id,omitempty"`
	Clauses            []Clause `json:"clauses"`
	VariationOrRollout          // inlined: variation / rollout
	// TrackEvents enables full analytics events for evaluations that matched
	// this rule.
	TrackEvents bool `json:"trackEvents,omitempty"`
}

// VariationOrRollout selects either a fixed variation index or a percentage
// rollout across variations. Exactly one of the fields should be set; a value
// with neither is malformed.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty"`
}

// RolloutKind distinguishes plain percentage rollouts from experiment
// rollouts, which additionally mark served variations as experiment traffic.
type RolloutKind string

const (
	// RolloutKindRollout is a plain percentage rollout.
	RolloutKindRollout RolloutKind = "rollout"
	// RolloutKindExperiment is an experiment allocation; variations that are
	// not marked Untracked report inExperiment in their evaluation reason.
	RolloutKindExperiment RolloutKind = "experiment"
)

// Rollout distributes contexts across weighted variations by deterministic
// bucketing.
type Rollout struct {
	// Kind defaults to RolloutKindRollout when empty.
	Kind RolloutKind `json:"kind,omitempty"`

	// ContextKind selects which individual context supplies the bucketing
	// attribute; empty means the default kind.
	ContextKind string `json:"contextKind,omitempty"`

	// Variations are the buckets, in order; weights are in units of 0.001%
	// (100000 = 100%).
	Variations []WeightedVariation `json:"variations"`

	// BucketBy overrides the attribute used for bucketing (default "key").
	BucketBy string `json:"bucketBy,omitempty"`

	// Seed, when set, replaces the key+salt hash prefix so that experiment
	// assignments can be coordinated across flags.
	Seed *int `json:"seed,omitempty"`
}

// IsExperiment reports whether this rollout is an experiment allocation.
func (r *Rollout) IsExperiment() bool {
	return r.Kind == RolloutKindExperiment
}

// WeightedVariation is one bucket of a rollout.
type WeightedVariation struct {
	Variation int `json:"variation"`
	// Weight is in units of 0.001% of the population.
	Weight int `json:"weight"`
	// Untracked excludes this bucket from experiment analysis.
	Untracked bool `json:"untracked,omitempty"`
}

// ClientSideAvailability controls which client-side SDK types may receive
// this flag.
type ClientSideAvailability struct {
	UsingMobileKey     bool `json:"usingMobileKey,omitempty"`
	UsingEnvironmentID bool `json:"usingEnvironmentId,omitempty"`
}
