package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/ldcontext"
)

func newTestScope(t *testing.T, context ldcontext.Context) *evaluationScope {
	t.Helper()
	return &evaluationScope{
		owner:   New(nil, &testData{}, nil),
		context: context,
	}
}

// The bucket values below are the published cross-SDK fixtures for the
// "{key}.{salt}.{value}" SHA-1 scheme; every SDK must reproduce them
// bit-for-bit.
func TestComputeBucketValueMatchesCrossSDKFixtures(t *testing.T) {
	tests := []struct {
		key      string
		expected float64
	}{
		{"userKeyA", 0.42157587},
		{"userKeyB", 0.67084865},
		{"userKeyC", 0.10343106},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			es := newTestScope(t, ldcontext.New(tc.key))
			bucket, found, err := es.computeBucketValue(false, nil, "", "hashKey", "", "saltyA")
			require.NoError(t, err)
			assert.True(t, found)
			assert.InDelta(t, tc.expected, bucket, 1e-7)
		})
	}
}

func TestComputeBucketValueIsDeterministic(t *testing.T) {
	es := newTestScope(t, ldcontext.New("userKeyA"))

	first, _, err := es.computeBucketValue(false, nil, "", "hashKey", "", "saltyA")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, _, err := es.computeBucketValue(false, nil, "", "hashKey", "", "saltyA")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeBucketValueByIntegerAttribute(t *testing.T) {
	ctx := ldcontext.NewBuilder("userKeyD").SetValue("intAttr", 33333).Build()
	require.NoError(t, ctx.Err())

	es := newTestScope(t, ctx)
	bucket, found, err := es.computeBucketValue(false, nil, "", "hashKey", "intAttr", "saltyA")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.54771423, bucket, 1e-7)
}

func TestComputeBucketValueByFloatAttributeIsNotHashable(t *testing.T) {
	ctx := ldcontext.NewBuilder("userKeyE").SetValue("floatAttr", 999.999).Build()

	es := newTestScope(t, ctx)
	bucket, found, err := es.computeBucketValue(false, nil, "", "hashKey", "floatAttr", "saltyA")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, bucket, "non-integral numbers land in bucket 0")
}

func TestComputeBucketValueByIntegralFloatAttribute(t *testing.T) {
	// JSON decoding produces float64; whole numbers hash like ints.
	ctx := ldcontext.NewBuilder("userKeyF").SetValue("wholeAttr", float64(33333)).Build()

	es := newTestScope(t, ctx)
	bucket, _, err := es.computeBucketValue(false, nil, "", "hashKey", "wholeAttr", "saltyA")
	require.NoError(t, err)
	assert.InDelta(t, 0.54771423, bucket, 1e-7)
}

func TestComputeBucketValueWithSeedReplacesKeyAndSalt(t *testing.T) {
	seed := 61
	es := newTestScope(t, ldcontext.New("userKeyA"))

	seeded, _, err := es.computeBucketValue(true, &seed, "", "hashKey", "", "saltyA")
	require.NoError(t, err)
	assert.InDelta(t, 0.09801207, seeded, 1e-7)

	unseeded, _, err := es.computeBucketValue(false, nil, "", "hashKey", "", "saltyA")
	require.NoError(t, err)
	assert.NotEqual(t, unseeded, seeded)
}

func TestComputeBucketValueMissingContextKind(t *testing.T) {
	es := newTestScope(t, ldcontext.NewWithKind("org", "orgKeyA"))

	bucket, found, err := es.computeBucketValue(false, nil, "user", "hashKey", "", "saltyA")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, bucket)
}

func TestComputeBucketValueExperimentIgnoresBucketBy(t *testing.T) {
	ctx := ldcontext.NewBuilder("userKeyA").SetValue("attr1", "whatever").Build()
	es := newTestScope(t, ctx)

	byKey, _, err := es.computeBucketValue(false, nil, "", "hashKey", "", "saltyA")
	require.NoError(t, err)
	experiment, _, err := es.computeBucketValue(true, nil, "", "hashKey", "attr1", "saltyA")
	require.NoError(t, err)
	assert.Equal(t, byKey, experiment)
}

func TestComputeBucketValueInvalidBucketByIsAnError(t *testing.T) {
	es := newTestScope(t, ldcontext.NewWithKind("org", "orgKeyA"))

	_, _, err := es.computeBucketValue(false, nil, "org", "hashKey", "/attr/", "saltyA")
	assert.Error(t, err)
}
