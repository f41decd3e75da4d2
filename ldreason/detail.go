package ldreason

import "encoding/json"

// NoVariation is the VariationIndex value meaning "no variation was selected"
// (the default value was served, or the flag's off variation is unset).
const NoVariation = -1

// EvaluationDetail is the full result of evaluating a flag: the value served,
// the index of the variation it came from (or NoVariation), and the reason.
type EvaluationDetail struct {
	// Value is the flag value that was served. It is nil when the flag is off
	// with no off variation, or when an error occurred before the caller
	// substituted its default.
	Value any

	// VariationIndex is the position of Value in the flag's variation list,
	// or NoVariation when no variation applies.
	VariationIndex int

	// Reason explains how the value was chosen.
	Reason EvaluationReason
}

// NewEvaluationDetail constructs a detail for a successfully selected
// variation.
func NewEvaluationDetail(value any, variationIndex int, reason EvaluationReason) EvaluationDetail {
	return EvaluationDetail{Value: value, VariationIndex: variationIndex, Reason: reason}
}

// NewEvaluationDetailForError constructs an ERROR detail carrying the given
// fallback value.
func NewEvaluationDetailForError(errorKind EvalErrorKind, value any) EvaluationDetail {
	return EvaluationDetail{Value: value, VariationIndex: NoVariation, Reason: NewEvalReasonError(errorKind)}
}

// IsDefaultValue reports whether the detail represents the caller's default
// value rather than a variation from the flag.
func (d EvaluationDetail) IsDefaultValue() bool {
	return d.VariationIndex == NoVariation
}

type detailJSON struct {
	Value          any              `json:"value"`
	VariationIndex *int             `json:"variationIndex"`
	Reason         EvaluationReason `json:"reason"`
}

// MarshalJSON emits variationIndex as null when no variation applies.
func (d EvaluationDetail) MarshalJSON() ([]byte, error) {
	out := detailJSON{Value: d.Value, Reason: d.Reason}
	if d.VariationIndex != NoVariation {
		idx := d.VariationIndex
		out.VariationIndex = &idx
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire format produced by MarshalJSON.
func (d *EvaluationDetail) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		*d = EvaluationDetail{VariationIndex: NoVariation}
		return nil
	}
	var in detailJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Value = in.Value
	d.VariationIndex = NoVariation
	if in.VariationIndex != nil {
		d.VariationIndex = *in.VariationIndex
	}
	d.Reason = in.Reason
	return nil
}
