package evaluator

import (
	"crypto/sha1" // the bucketing scheme is defined in terms of SHA-1; not a security use
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/rafaeljc/bifrost/ldcontext"
)

// bucketScale is the divisor that maps the first 15 hex digits of the hash
// onto [0,1): 0xFFFFFFFFFFFFFFF.
const bucketScale = float64(0xFFFFFFFFFFFFFFF)

// computeBucketValue deterministically places a context in [0,1) for
// percentage rollouts and weighted segment rules.
//
// The hash input is "key.salt.value" where value is the context's bucketing
// attribute, or "seed.value" when an experiment seed is set. contextFound is
// false when the multi-kind context has no individual context of the wanted
// kind; the caller uses that to suppress experiment tracking.
func (es *evaluationScope) computeBucketValue(
	isExperiment bool,
	seed *int,
	contextKind string,
	key string,
	attr string,
	salt string,
) (bucketValue float64, contextFound bool, err error) {
	kind := ldcontext.Kind(contextKind)
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual, ok := es.context.IndividualContextByKind(kind)
	if !ok {
		return 0, false, nil
	}

	// Experiments always bucket by key, ignoring any BucketBy override.
	if isExperiment || attr == "" {
		attr = "key"
	}
	ref := bucketAttrRef(contextKind, attr)
	if ref.Err() != nil {
		return 0, true, fmt.Errorf("invalid bucketBy attribute %q: %w", attr, ref.Err())
	}

	value, _ := individual.GetValueForRef(ref)
	hashable, ok := hashableValue(value)
	if !ok {
		// An absent or non-hashable attribute places the context in bucket 0.
		return 0, true, nil
	}

	var input string
	if seed != nil {
		input = fmt.Sprintf("%d.%s", *seed, hashable)
	} else {
		input = fmt.Sprintf("%s.%s.%s", key, salt, hashable)
	}

	sum := sha1.Sum([]byte(input))
	hexDigest := hex.EncodeToString(sum[:])
	intVal, err := strconv.ParseInt(hexDigest[:15], 16, 64)
	if err != nil {
		return 0, true, err
	}
	return float64(intVal) / bucketScale, true, nil
}

// bucketAttrRef interprets the bucketing attribute the same way clause
// attributes are: data without a context kind predates attribute references
// and names a literal top-level attribute.
func bucketAttrRef(contextKind string, attr string) ldcontext.Reference {
	if contextKind == "" {
		return ldcontext.NewLiteralRef(attr)
	}
	return ldcontext.NewRef(attr)
}

// hashableValue renders an attribute value as hash input. Only strings and
// integral numbers participate in bucketing.
func hashableValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return "", false
	default:
		return "", false
	}
}
