// Package ldreason defines the outcome types produced by flag evaluation:
// the evaluation detail (value + variation index) and the machine-readable
// reason explaining how that value was chosen.
package ldreason

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EvalReasonKind identifies the category of an evaluation reason.
type EvalReasonKind string

const (
	// EvalReasonOff means the flag was globally disabled.
	EvalReasonOff EvalReasonKind = "OFF"
	// EvalReasonFallthrough means no target or rule matched; the flag's
	// default rollout/variation was used.
	EvalReasonFallthrough EvalReasonKind = "FALLTHROUGH"
	// EvalReasonTargetMatch means the context key was found in an explicit
	// target list.
	EvalReasonTargetMatch EvalReasonKind = "TARGET_MATCH"
	// EvalReasonRuleMatch means the context matched one of the flag's rules.
	EvalReasonRuleMatch EvalReasonKind = "RULE_MATCH"
	// EvalReasonPrerequisiteFailed means a prerequisite flag did not return
	// the required variation, so the flag served its off value.
	EvalReasonPrerequisiteFailed EvalReasonKind = "PREREQUISITE_FAILED"
	// EvalReasonError means the evaluation could not be completed; the
	// default value was returned. See EvalErrorKind for the cause.
	EvalReasonError EvalReasonKind = "ERROR"
)

// EvalErrorKind identifies the cause of an ERROR evaluation reason.
type EvalErrorKind string

const (
	// EvalErrorClientNotReady means the client has not finished initializing
	// and no cached data was available.
	EvalErrorClientNotReady EvalErrorKind = "CLIENT_NOT_READY"
	// EvalErrorFlagNotFound means the requested flag key does not exist.
	EvalErrorFlagNotFound EvalErrorKind = "FLAG_NOT_FOUND"
	// EvalErrorMalformedFlag means the flag configuration is internally
	// inconsistent (e.g. a rule references a nonexistent variation index).
	EvalErrorMalformedFlag EvalErrorKind = "MALFORMED_FLAG"
	// EvalErrorUserNotSpecified means the evaluation context was missing or
	// invalid.
	EvalErrorUserNotSpecified EvalErrorKind = "USER_NOT_SPECIFIED"
	// EvalErrorWrongType means the flag's resolved value did not have the
	// type the typed variation method expects.
	EvalErrorWrongType EvalErrorKind = "WRONG_TYPE"
	// EvalErrorException means an unexpected internal error was recovered
	// during evaluation.
	EvalErrorException EvalErrorKind = "EXCEPTION"
)

// BigSegmentsStatus describes the health of the Big Segment store at the
// moment a Big Segment was queried during evaluation.
type BigSegmentsStatus string

const (
	// BigSegmentsHealthy means the store was queried and its data is current.
	BigSegmentsHealthy BigSegmentsStatus = "HEALTHY"
	// BigSegmentsStale means the store was queried but its data has not been
	// refreshed within the configured staleness window.
	BigSegmentsStale BigSegmentsStatus = "STALE"
	// BigSegmentsNotConfigured means a Big Segment was referenced but no
	// store is configured, so membership could not be determined.
	BigSegmentsNotConfigured BigSegmentsStatus = "NOT_CONFIGURED"
	// BigSegmentsStoreError means the store query failed.
	BigSegmentsStoreError BigSegmentsStatus = "STORE_ERROR"
)

// EvaluationReason explains why an evaluation produced a particular variation.
// Construct instances with the NewEvalReason* functions; the zero value is
// not a valid reason.
type EvaluationReason struct {
	kind              EvalReasonKind
	ruleIndex         int
	ruleID            string
	prerequisiteKey   string
	errorKind         EvalErrorKind
	inExperiment      bool
	bigSegmentsStatus BigSegmentsStatus
}

// NewEvalReasonOff returns an OFF reason.
func NewEvalReasonOff() EvaluationReason {
	return EvaluationReason{kind: EvalReasonOff, ruleIndex: -1}
}

// NewEvalReasonFallthrough returns a FALLTHROUGH reason.
func NewEvalReasonFallthrough() EvaluationReason {
	return EvaluationReason{kind: EvalReasonFallthrough, ruleIndex: -1}
}

// NewEvalReasonFallthroughExperiment returns a FALLTHROUGH reason with the
// inExperiment indicator set as given.
func NewEvalReasonFallthroughExperiment(inExperiment bool) EvaluationReason {
	return EvaluationReason{kind: EvalReasonFallthrough, ruleIndex: -1, inExperiment: inExperiment}
}

// NewEvalReasonTargetMatch returns a TARGET_MATCH reason.
func NewEvalReasonTargetMatch() EvaluationReason {
	return EvaluationReason{kind: EvalReasonTargetMatch, ruleIndex: -1}
}

// NewEvalReasonRuleMatch returns a RULE_MATCH reason identifying the rule by
// position and ID.
func NewEvalReasonRuleMatch(ruleIndex int, ruleID string) EvaluationReason {
	return EvaluationReason{kind: EvalReasonRuleMatch, ruleIndex: ruleIndex, ruleID: ruleID}
}

// NewEvalReasonRuleMatchExperiment is like NewEvalReasonRuleMatch with the
// inExperiment indicator set as given.
func NewEvalReasonRuleMatchExperiment(ruleIndex int, ruleID string, inExperiment bool) EvaluationReason {
	return EvaluationReason{kind: EvalReasonRuleMatch, ruleIndex: ruleIndex, ruleID: ruleID, inExperiment: inExperiment}
}

// NewEvalReasonPrerequisiteFailed returns a PREREQUISITE_FAILED reason naming
// the prerequisite flag that did not pass.
func NewEvalReasonPrerequisiteFailed(prereqKey string) EvaluationReason {
	return EvaluationReason{kind: EvalReasonPrerequisiteFailed, ruleIndex: -1, prerequisiteKey: prereqKey}
}

// NewEvalReasonError returns an ERROR reason with the given cause.
func NewEvalReasonError(errorKind EvalErrorKind) EvaluationReason {
	return EvaluationReason{kind: EvalReasonError, ruleIndex: -1, errorKind: errorKind}
}

// Kind returns the category of the reason.
func (r EvaluationReason) Kind() EvalReasonKind { return r.kind }

// RuleIndex returns the index of the matched rule for RULE_MATCH reasons, or
// -1 otherwise.
func (r EvaluationReason) RuleIndex() int {
	if r.kind == EvalReasonRuleMatch {
		return r.ruleIndex
	}
	return -1
}

// RuleID returns the ID of the matched rule, or "" if not applicable.
func (r EvaluationReason) RuleID() string { return r.ruleID }

// PrerequisiteKey returns the failed prerequisite flag key, or "" if not
// applicable.
func (r EvaluationReason) PrerequisiteKey() string { return r.prerequisiteKey }

// ErrorKind returns the cause for ERROR reasons, or "" otherwise.
func (r EvaluationReason) ErrorKind() EvalErrorKind { return r.errorKind }

// InExperiment reports whether the variation was served as part of an
// experiment rollout.
func (r EvaluationReason) InExperiment() bool { return r.inExperiment }

// BigSegmentsStatus returns the Big Segment store status recorded during this
// evaluation, or "" if no Big Segment was queried.
func (r EvaluationReason) BigSegmentsStatus() BigSegmentsStatus { return r.bigSegmentsStatus }

// WithBigSegmentsStatus returns a copy of the reason carrying the given Big
// Segment store status.
func (r EvaluationReason) WithBigSegmentsStatus(status BigSegmentsStatus) EvaluationReason {
	r.bigSegmentsStatus = status
	return r
}

// String returns a compact human-readable representation, e.g.
// "RULE_MATCH(1,rule-id)" or "ERROR(FLAG_NOT_FOUND)".
func (r EvaluationReason) String() string {
	switch r.kind {
	case EvalReasonRuleMatch:
		return fmt.Sprintf("%s(%d,%s)", r.kind, r.ruleIndex, r.ruleID)
	case EvalReasonPrerequisiteFailed:
		return fmt.Sprintf("%s(%s)", r.kind, r.prerequisiteKey)
	case EvalReasonError:
		return fmt.Sprintf("%s(%s)", r.kind, r.errorKind)
	default:
		return string(r.kind)
	}
}

// MarshalJSON serializes the reason in the cross-SDK wire format: only the
// fields relevant to the reason kind are emitted.
func (r EvaluationReason) MarshalJSON() ([]byte, error) {
	fields := map[string]any{"kind": r.kind}
	switch r.kind {
	case EvalReasonRuleMatch:
		fields["ruleIndex"] = r.ruleIndex
		if r.ruleID != "" {
			fields["ruleId"] = r.ruleID
		}
	case EvalReasonPrerequisiteFailed:
		fields["prerequisiteKey"] = r.prerequisiteKey
	case EvalReasonError:
		fields["errorKind"] = r.errorKind
	}
	if r.inExperiment {
		fields["inExperiment"] = true
	}
	if r.bigSegmentsStatus != "" {
		fields["bigSegmentsStatus"] = r.bigSegmentsStatus
	}
	return json.Marshal(fields)
}

// UnmarshalJSON parses the wire format produced by MarshalJSON.
func (r *EvaluationReason) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind              EvalReasonKind    `json:"kind"`
		RuleIndex         *int              `json:"ruleIndex"`
		RuleID            string            `json:"ruleId"`
		PrerequisiteKey   string            `json:"prerequisiteKey"`
		ErrorKind         EvalErrorKind     `json:"errorKind"`
		InExperiment      bool              `json:"inExperiment"`
		BigSegmentsStatus BigSegmentsStatus `json:"bigSegmentsStatus"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.kind = raw.Kind
	r.ruleIndex = -1
	if raw.RuleIndex != nil {
		r.ruleIndex = *raw.RuleIndex
	}
	r.ruleID = raw.RuleID
	r.prerequisiteKey = raw.PrerequisiteKey
	r.errorKind = raw.ErrorKind
	r.inExperiment = raw.InExperiment
	r.bigSegmentsStatus = raw.BigSegmentsStatus
	return nil
}

var nullJSON = []byte("null")

// ensure the custom marshalers stay in sync
var _ json.Marshaler = EvaluationReason{}
var _ json.Unmarshaler = (*EvaluationReason)(nil)

func isJSONNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), nullJSON)
}
