package bifrost

import (
	"github.com/rafaeljc/bifrost/ldcontext"
	"github.com/rafaeljc/bifrost/ldreason"
)

// EvaluationRecord describes one completed flag evaluation, including the
// prerequisite evaluations performed along the way.
type EvaluationRecord struct {
	// FlagKey is the evaluated flag.
	FlagKey string
	// TargetFlagKey is set when this record is a prerequisite evaluation: it
	// names the flag whose prerequisite list triggered it.
	TargetFlagKey string
	// Context is the evaluation context.
	Context ldcontext.Context
	// Detail is the evaluation outcome.
	Detail ldreason.EvaluationDetail
	// DefaultValue is the caller's default, for top-level evaluations.
	DefaultValue any
}

// EventSink receives evaluation records for analytics processing. The SDK
// calls it synchronously on the evaluation path, so implementations must be
// fast and non-blocking; buffering and batching are the sink's concern.
type EventSink interface {
	RecordEvaluation(record EvaluationRecord)
}

// noopEventSink discards all records.
type noopEventSink struct{}

func (noopEventSink) RecordEvaluation(EvaluationRecord) {}
