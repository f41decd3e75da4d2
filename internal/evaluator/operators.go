package evaluator

import (
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/rafaeljc/bifrost/ldmodel"
)

// operatorMatch applies one clause operator to a single context value and a
// single clause value. Unknown operators and type mismatches never match.
func operatorMatch(op ldmodel.Operator, contextValue, clauseValue any) bool {
	switch op {
	case ldmodel.OperatorIn:
		return valuesEqual(contextValue, clauseValue)

	case ldmodel.OperatorStartsWith:
		return stringMatch(contextValue, clauseValue, strings.HasPrefix)
	case ldmodel.OperatorEndsWith:
		return stringMatch(contextValue, clauseValue, strings.HasSuffix)
	case ldmodel.OperatorContains:
		return stringMatch(contextValue, clauseValue, strings.Contains)

	case ldmodel.OperatorMatches:
		return regexMatch(contextValue, clauseValue)

	case ldmodel.OperatorLessThan:
		return numericMatch(contextValue, clauseValue, func(a, b float64) bool { return a < b })
	case ldmodel.OperatorLessThanOrEqual:
		return numericMatch(contextValue, clauseValue, func(a, b float64) bool { return a <= b })
	case ldmodel.OperatorGreaterThan:
		return numericMatch(contextValue, clauseValue, func(a, b float64) bool { return a > b })
	case ldmodel.OperatorGreaterThanOrEqual:
		return numericMatch(contextValue, clauseValue, func(a, b float64) bool { return a >= b })

	case ldmodel.OperatorBefore:
		return timeMatch(contextValue, clauseValue, func(a, b time.Time) bool { return a.Before(b) })
	case ldmodel.OperatorAfter:
		return timeMatch(contextValue, clauseValue, func(a, b time.Time) bool { return a.After(b) })

	case ldmodel.OperatorSemVerEqual:
		return semVerMatch(contextValue, clauseValue, func(a, b *semver.Version) bool { return a.Equal(b) })
	case ldmodel.OperatorSemVerLessThan:
		return semVerMatch(contextValue, clauseValue, func(a, b *semver.Version) bool { return a.LessThan(b) })
	case ldmodel.OperatorSemVerGreaterThan:
		return semVerMatch(contextValue, clauseValue, func(a, b *semver.Version) bool { return a.GreaterThan(b) })

	default:
		return false
	}
}

// valuesEqual is the equality used by the "in" operator: strings, booleans
// and numbers compare by value, with ints and floats interchangeable.
func valuesEqual(a, b any) bool {
	if af, aok := numericValue(a); aok {
		bf, bok := numericValue(b)
		return bok && af == bf
	}
	return a == b
}

func stringMatch(contextValue, clauseValue any, f func(s, substr string) bool) bool {
	cs, ok1 := contextValue.(string)
	vs, ok2 := clauseValue.(string)
	return ok1 && ok2 && f(cs, vs)
}

// regexMatch treats the clause value as an unanchored regular expression. A
// pattern that does not compile never matches.
func regexMatch(contextValue, clauseValue any) bool {
	cs, ok1 := contextValue.(string)
	pattern, ok2 := clauseValue.(string)
	if !ok1 || !ok2 {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(cs)
}

func numericMatch(contextValue, clauseValue any, f func(a, b float64) bool) bool {
	a, ok1 := numericValue(contextValue)
	b, ok2 := numericValue(clauseValue)
	return ok1 && ok2 && f(a, b)
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func timeMatch(contextValue, clauseValue any, f func(a, b time.Time) bool) bool {
	a, ok1 := timeValue(contextValue)
	b, ok2 := timeValue(clauseValue)
	return ok1 && ok2 && f(a, b)
}

// timeValue accepts RFC3339 strings or numeric epoch-milliseconds.
func timeValue(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		if ms, ok := numericValue(value); ok {
			return time.UnixMilli(int64(ms)), true
		}
		return time.Time{}, false
	}
}

func semVerMatch(contextValue, clauseValue any, f func(a, b *semver.Version) bool) bool {
	cs, ok1 := contextValue.(string)
	vs, ok2 := clauseValue.(string)
	if !ok1 || !ok2 {
		return false
	}
	a, ok1 := parseSemVer(cs)
	b, ok2 := parseSemVer(vs)
	return ok1 && ok2 && f(a, b)
}

// parseSemVer parses a semantic version, tolerating missing minor or patch
// components ("2" and "2.1" normalize to "2.0.0" and "2.1.0") but nothing
// looser than that.
func parseSemVer(s string) (*semver.Version, bool) {
	if v, err := semver.StrictNewVersion(s); err == nil {
		return v, true
	}
	core, suffix := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		core, suffix = s[:i], s[i:]
	}
	for i := 0; i < 2; i++ {
		core += ".0"
		if v, err := semver.StrictNewVersion(core + suffix); err == nil {
			return v, true
		}
	}
	return nil, false
}
