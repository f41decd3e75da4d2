package ldmodel

// Preprocessing compiles list-shaped model data into set-shaped lookups once,
// at deserialization time, so that evaluation stays allocation-free on the
// hot path. Lists below this size are left alone: a linear scan over a
// handful of entries beats a map lookup and the map would only waste memory.
const preprocessSetThreshold = 5

// PreprocessFlag builds the internal lookup structures of a flag in place.
// It must be called once after decoding and never after the flag has been
// handed to the store.
func PreprocessFlag(f *FeatureFlag) {
	for i := range f.Targets {
		f.Targets[i].valuesMap = makeSet(f.Targets[i].Values)
	}
	for i := range f.ContextTargets {
		f.ContextTargets[i].valuesMap = makeSet(f.ContextTargets[i].Values)
	}
}

// PreprocessSegment builds the internal lookup structures of a segment in
// place, under the same contract as PreprocessFlag.
func PreprocessSegment(s *Segment) {
	s.includeMap = makeSet(s.Included)
	s.excludeMap = makeSet(s.Excluded)
	for i := range s.IncludedContexts {
		s.IncludedContexts[i].valuesMap = makeSet(s.IncludedContexts[i].Values)
	}
	for i := range s.ExcludedContexts {
		s.ExcludedContexts[i].valuesMap = makeSet(s.ExcludedContexts[i].Values)
	}
}

func makeSet(values []string) map[string]struct{} {
	if len(values) < preprocessSetThreshold {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
