// Package evaluator implements deterministic feature flag evaluation:
// prerequisite resolution, individual targeting, rule matching, percentage
// rollouts and segment membership, producing an evaluation detail with a
// machine-readable reason.
//
// Evaluation never mutates the flag, segment or context inputs, never
// performs I/O beyond the injected providers, and never fails: every error
// path degrades to an ERROR reason on the returned detail.
package evaluator

import (
	"fmt"
	"log/slog"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/ldcontext"
	"github.com/rafaeljc/bifrost/ldmodel"
	"github.com/rafaeljc/bifrost/ldreason"
)

// DataProvider supplies flag and segment configurations, typically backed by
// the data store. A nil flag/segment with found=true is never returned.
type DataProvider interface {
	GetFeatureFlag(key string) (*ldmodel.FeatureFlag, bool)
	GetSegment(key string) (*ldmodel.Segment, bool)
}

// BigSegmentProvider resolves Big Segment membership for one context key and
// reports the health of the underlying store alongside it.
type BigSegmentProvider interface {
	BigSegmentMembership(contextKey string) (interfaces.BigSegmentMembership, ldreason.BigSegmentsStatus)
}

// PrerequisiteEvent records one prerequisite flag evaluation performed while
// evaluating a parent flag. These are surfaced for analytics regardless of
// whether the prerequisite passed.
type PrerequisiteEvent struct {
	// TargetFlagKey is the flag whose prerequisite list was being checked.
	TargetFlagKey string
	// PrerequisiteFlag is the flag that was evaluated as a prerequisite.
	PrerequisiteFlag *ldmodel.FeatureFlag
	// Context is the evaluation context.
	Context ldcontext.Context
	// Detail is the prerequisite's own evaluation result.
	Detail ldreason.EvaluationDetail
}

// Result is the outcome of one flag evaluation.
type Result struct {
	Detail        ldreason.EvaluationDetail
	Prerequisites []PrerequisiteEvent
}

// Evaluator evaluates feature flags against contexts. It is safe for
// concurrent use; all per-evaluation state lives on the stack.
type Evaluator struct {
	logger      *slog.Logger
	data        DataProvider
	bigSegments BigSegmentProvider
}

// New creates an Evaluator. bigSegments may be nil when Big Segments are not
// configured; evaluations touching an unbounded segment then report the
// NOT_CONFIGURED status.
func New(logger *slog.Logger, data DataProvider, bigSegments BigSegmentProvider) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if data == nil {
		panic("evaluator: data provider cannot be nil")
	}

	return &Evaluator{
		logger:      logger,
		data:        data,
		bigSegments: bigSegments,
	}
}

// Evaluate evaluates one flag for one context. The returned detail carries a
// nil value and NoVariation index when the flag resolves to "serve the
// caller's default". A nil flag reports FLAG_NOT_FOUND.
func (e *Evaluator) Evaluate(flag *ldmodel.FeatureFlag, context ldcontext.Context) (result Result) {
	if flag == nil {
		return Result{Detail: ldreason.NewEvaluationDetailForError(ldreason.EvalErrorFlagNotFound, nil)}
	}
	if err := context.Err(); err != nil {
		return Result{Detail: ldreason.NewEvaluationDetailForError(ldreason.EvalErrorUserNotSpecified, nil)}
	}

	scope := evaluationScope{owner: e, context: context}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered panic during flag evaluation",
				slog.String("flag", flag.Key),
				slog.Any("panic", r))
			result = Result{
				Detail:        ldreason.NewEvaluationDetailForError(ldreason.EvalErrorException, nil),
				Prerequisites: scope.prereqEvents,
			}
		}
	}()

	detail := scope.evaluateFlag(flag)
	if scope.bigSegmentsStatus != "" {
		detail.Reason = detail.Reason.WithBigSegmentsStatus(scope.bigSegmentsStatus)
	}
	return Result{Detail: detail, Prerequisites: scope.prereqEvents}
}

// evaluationScope is the per-evaluation scratch state: prerequisite and
// segment recursion chains, collected prerequisite events, and Big Segment
// query results.
type evaluationScope struct {
	owner   *Evaluator
	context ldcontext.Context

	prereqEvents []PrerequisiteEvent
	prereqChain  []string
	segmentChain []string

	bigSegmentsStatus     ldreason.BigSegmentsStatus
	bigSegmentMemberships map[string]interfaces.BigSegmentMembership
}

func (es *evaluationScope) evaluateFlag(flag *ldmodel.FeatureFlag) ldreason.EvaluationDetail {
	if !flag.On {
		return es.offValue(flag, ldreason.NewEvalReasonOff())
	}

	failedPrereq, ok, err := es.checkPrerequisites(flag)
	if err != nil {
		return es.malformed(flag, err)
	}
	if !ok {
		return es.offValue(flag, ldreason.NewEvalReasonPrerequisiteFailed(failedPrereq))
	}

	if variation, matched := es.targetMatchVariation(flag); matched {
		return es.variationValue(flag, variation, ldreason.NewEvalReasonTargetMatch())
	}

	for i := range flag.Rules {
		rule := &flag.Rules[i]
		matched, err := es.ruleMatchesContext(rule)
		if err != nil {
			return es.malformed(flag, err)
		}
		if matched {
			index, id := i, rule.ID
			return es.variationOrRolloutValue(flag, &rule.VariationOrRollout,
				func(inExperiment bool) ldreason.EvaluationReason {
					return ldreason.NewEvalReasonRuleMatchExperiment(index, id, inExperiment)
				})
		}
	}

	return es.variationOrRolloutValue(flag, &flag.Fallthrough,
		ldreason.NewEvalReasonFallthroughExperiment)
}

// checkPrerequisites evaluates the flag's prerequisites depth first. ok is
// false when one failed, with failedKey naming it; err reports a
// configuration fault (a prerequisite cycle).
func (es *evaluationScope) checkPrerequisites(flag *ldmodel.FeatureFlag) (failedKey string, ok bool, err error) {
	if len(flag.Prerequisites) == 0 {
		return "", true, nil
	}

	es.prereqChain = append(es.prereqChain, flag.Key)
	defer func() { es.prereqChain = es.prereqChain[:len(es.prereqChain)-1] }()

	for _, prereq := range flag.Prerequisites {
		for _, inChain := range es.prereqChain {
			if prereq.Key == inChain {
				return "", false, fmt.Errorf("prerequisite cycle detected at flag %q", prereq.Key)
			}
		}

		prereqFlag, found := es.owner.data.GetFeatureFlag(prereq.Key)
		if !found {
			return prereq.Key, false, nil
		}

		detail := es.evaluateFlag(prereqFlag)
		es.prereqEvents = append(es.prereqEvents, PrerequisiteEvent{
			TargetFlagKey:    flag.Key,
			PrerequisiteFlag: prereqFlag,
			Context:          es.context,
			Detail:           detail,
		})

		if detail.Reason.Kind() == ldreason.EvalReasonError &&
			detail.Reason.ErrorKind() == ldreason.EvalErrorMalformedFlag {
			return "", false, fmt.Errorf("prerequisite flag %q is malformed", prereq.Key)
		}

		// An off prerequisite never passes, even if its off variation happens
		// to be the required one.
		if !prereqFlag.On || detail.VariationIndex != prereq.Variation {
			return prereq.Key, false, nil
		}
	}
	return "", true, nil
}

// targetMatchVariation checks the individual targeting lists. ContextTargets
// entries of the default kind with no values defer to the legacy Targets
// list for the same variation, preserving its position in the order.
func (es *evaluationScope) targetMatchVariation(flag *ldmodel.FeatureFlag) (int, bool) {
	if len(flag.ContextTargets) == 0 {
		defaultContext, ok := es.context.IndividualContextByKind(ldcontext.DefaultKind)
		if !ok {
			return 0, false
		}
		for i := range flag.Targets {
			if flag.Targets[i].HasValue(defaultContext.Key()) {
				return flag.Targets[i].Variation, true
			}
		}
		return 0, false
	}

	for i := range flag.ContextTargets {
		target := &flag.ContextTargets[i]
		kind := ldcontext.Kind(target.ContextKind)
		if kind == "" {
			kind = ldcontext.DefaultKind
		}

		if kind == ldcontext.DefaultKind && len(target.Values) == 0 {
			defaultContext, ok := es.context.IndividualContextByKind(ldcontext.DefaultKind)
			if !ok {
				continue
			}
			for j := range flag.Targets {
				legacy := &flag.Targets[j]
				if legacy.Variation == target.Variation && legacy.HasValue(defaultContext.Key()) {
					return target.Variation, true
				}
			}
			continue
		}

		if individual, ok := es.context.IndividualContextByKind(kind); ok && target.HasValue(individual.Key()) {
			return target.Variation, true
		}
	}
	return 0, false
}

func (es *evaluationScope) ruleMatchesContext(rule *ldmodel.FlagRule) (bool, error) {
	if len(rule.Clauses) == 0 {
		return false, nil
	}
	for i := range rule.Clauses {
		matched, err := es.clauseMatchesContext(&rule.Clauses[i])
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func (es *evaluationScope) clauseMatchesContext(clause *ldmodel.Clause) (bool, error) {
	if clause.Op == ldmodel.OperatorSegmentMatch {
		return es.clauseMatchesSegments(clause)
	}
	return es.clauseMatchesContextAttributes(clause)
}

func (es *evaluationScope) clauseMatchesContextAttributes(clause *ldmodel.Clause) (bool, error) {
	if clause.Attribute == "" {
		return false, fmt.Errorf("rule clause has no attribute")
	}
	ref := clauseAttrRef(clause)
	if ref.Err() != nil {
		return false, fmt.Errorf("invalid attribute reference %q: %w", clause.Attribute, ref.Err())
	}

	// A clause on "kind" applies across every individual context rather
	// than selecting one by kind.
	if ref.Depth() == 1 && ref.Component(0) == "kind" {
		return maybeNegate(clause.Negate, es.matchAnyContextKind(clause)), nil
	}

	kind := ldcontext.Kind(clause.ContextKind)
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual, ok := es.context.IndividualContextByKind(kind)
	if !ok {
		// No context of the clause's kind: a non-match that Negate does not
		// invert, so negated clauses cannot match absent contexts.
		return false, nil
	}

	value, ok := individual.GetValueForRef(ref)
	if !ok {
		return false, nil
	}

	if elements, isSlice := value.([]any); isSlice {
		for _, element := range elements {
			if anyClauseValueMatches(clause, element) {
				return maybeNegate(clause.Negate, true), nil
			}
		}
		return maybeNegate(clause.Negate, false), nil
	}
	return maybeNegate(clause.Negate, anyClauseValueMatches(clause, value)), nil
}

func (es *evaluationScope) matchAnyContextKind(clause *ldmodel.Clause) bool {
	for _, individual := range es.context.IndividualContexts() {
		if anyClauseValueMatches(clause, string(individual.Kind())) {
			return true
		}
	}
	return false
}

func (es *evaluationScope) clauseMatchesSegments(clause *ldmodel.Clause) (bool, error) {
	for _, value := range clause.Values {
		segmentKey, isString := value.(string)
		if !isString {
			continue
		}
		for _, inChain := range es.segmentChain {
			if segmentKey == inChain {
				return false, fmt.Errorf("segment cycle detected at segment %q", segmentKey)
			}
		}
		segment, found := es.owner.data.GetSegment(segmentKey)
		if !found {
			continue
		}
		contained, err := es.segmentContainsContext(segment)
		if err != nil {
			return false, err
		}
		if contained {
			return maybeNegate(clause.Negate, true), nil
		}
	}
	return maybeNegate(clause.Negate, false), nil
}

func (es *evaluationScope) segmentContainsContext(segment *ldmodel.Segment) (bool, error) {
	if segment.Unbounded {
		return es.bigSegmentContainsContext(segment)
	}

	if defaultContext, ok := es.context.IndividualContextByKind(ldcontext.DefaultKind); ok {
		if segment.IncludesKey(defaultContext.Key()) {
			return true, nil
		}
	}
	for i := range segment.IncludedContexts {
		if es.segmentTargetHasContext(&segment.IncludedContexts[i]) {
			return true, nil
		}
	}
	if defaultContext, ok := es.context.IndividualContextByKind(ldcontext.DefaultKind); ok {
		if segment.ExcludesKey(defaultContext.Key()) {
			return false, nil
		}
	}
	for i := range segment.ExcludedContexts {
		if es.segmentTargetHasContext(&segment.ExcludedContexts[i]) {
			return false, nil
		}
	}

	return es.segmentRulesContainContext(segment)
}

func (es *evaluationScope) segmentTargetHasContext(target *ldmodel.SegmentTarget) bool {
	kind := ldcontext.Kind(target.ContextKind)
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual, ok := es.context.IndividualContextByKind(kind)
	return ok && target.HasValue(individual.Key())
}

func (es *evaluationScope) segmentRulesContainContext(segment *ldmodel.Segment) (bool, error) {
	if len(segment.Rules) == 0 {
		return false, nil
	}

	es.segmentChain = append(es.segmentChain, segment.Key)
	defer func() { es.segmentChain = es.segmentChain[:len(es.segmentChain)-1] }()

	for i := range segment.Rules {
		matched, err := es.segmentRuleMatchesContext(segment, &segment.Rules[i])
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (es *evaluationScope) segmentRuleMatchesContext(segment *ldmodel.Segment, rule *ldmodel.SegmentRule) (bool, error) {
	if len(rule.Clauses) == 0 {
		return false, nil
	}
	for i := range rule.Clauses {
		matched, err := es.clauseMatchesContext(&rule.Clauses[i])
		if err != nil || !matched {
			return false, err
		}
	}

	if rule.Weight == nil {
		return true, nil
	}
	bucket, _, err := es.computeBucketValue(false, nil, rule.RolloutContextKind,
		segment.Key, rule.BucketBy, segment.Salt)
	if err != nil {
		return false, err
	}
	return bucket < float64(*rule.Weight)/100000.0, nil
}

// bigSegmentContainsContext consults the Big Segment store for membership,
// falling back to the segment's rules when the store has no verdict for this
// context.
func (es *evaluationScope) bigSegmentContainsContext(segment *ldmodel.Segment) (bool, error) {
	ref := segment.BigSegmentRef()
	if ref == "" {
		// Not exported yet: a Big Segment without a generation is unusable.
		es.recordBigSegmentsStatus(ldreason.BigSegmentsNotConfigured)
		return false, nil
	}

	kind := ldcontext.Kind(segment.UnboundedContextKind)
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual, ok := es.context.IndividualContextByKind(kind)
	if !ok {
		return false, nil
	}

	if es.owner.bigSegments == nil {
		es.recordBigSegmentsStatus(ldreason.BigSegmentsNotConfigured)
		return false, nil
	}

	membership, cached := es.bigSegmentMemberships[individual.Key()]
	if !cached {
		var status ldreason.BigSegmentsStatus
		membership, status = es.owner.bigSegments.BigSegmentMembership(individual.Key())
		if es.bigSegmentMemberships == nil {
			es.bigSegmentMemberships = make(map[string]interfaces.BigSegmentMembership)
		}
		es.bigSegmentMemberships[individual.Key()] = membership
		es.recordBigSegmentsStatus(status)
	}

	if included, found := membership.CheckMembership(ref); found {
		return included, nil
	}
	return es.segmentRulesContainContext(segment)
}

// recordBigSegmentsStatus keeps the worst status seen across all Big
// Segment queries in this evaluation.
func (es *evaluationScope) recordBigSegmentsStatus(status ldreason.BigSegmentsStatus) {
	if bigSegmentsStatusRank(status) > bigSegmentsStatusRank(es.bigSegmentsStatus) {
		es.bigSegmentsStatus = status
	}
}

func bigSegmentsStatusRank(status ldreason.BigSegmentsStatus) int {
	switch status {
	case ldreason.BigSegmentsHealthy:
		return 1
	case ldreason.BigSegmentsStale:
		return 2
	case ldreason.BigSegmentsNotConfigured:
		return 3
	case ldreason.BigSegmentsStoreError:
		return 4
	default:
		return 0
	}
}

// variationOrRolloutValue resolves a fixed variation or a rollout bucket.
// makeReason receives the experiment flag so rule-match and fallthrough
// reasons can carry inExperiment.
func (es *evaluationScope) variationOrRolloutValue(
	flag *ldmodel.FeatureFlag,
	vr *ldmodel.VariationOrRollout,
	makeReason func(inExperiment bool) ldreason.EvaluationReason,
) ldreason.EvaluationDetail {
	if vr.Variation != nil {
		return es.variationValue(flag, *vr.Variation, makeReason(false))
	}

	if vr.Rollout == nil || len(vr.Rollout.Variations) == 0 {
		return es.malformed(flag, fmt.Errorf("flag has neither a variation nor a rollout"))
	}
	rollout := vr.Rollout
	isExperiment := rollout.IsExperiment()

	bucket, contextFound, err := es.computeBucketValue(isExperiment, rollout.Seed,
		rollout.ContextKind, flag.Key, rollout.BucketBy, flag.Salt)
	if err != nil {
		return es.malformed(flag, err)
	}

	// Weights are cumulative; a rounding shortfall at the top of the range
	// resolves to the last bucket rather than erroring.
	chosen := rollout.Variations[len(rollout.Variations)-1]
	var cumulative float64
	for _, weighted := range rollout.Variations {
		cumulative += float64(weighted.Weight) / 100000.0
		if bucket < cumulative {
			chosen = weighted
			break
		}
	}

	inExperiment := isExperiment && !chosen.Untracked && contextFound
	return es.variationValue(flag, chosen.Variation, makeReason(inExperiment))
}

func (es *evaluationScope) offValue(flag *ldmodel.FeatureFlag, reason ldreason.EvaluationReason) ldreason.EvaluationDetail {
	if flag.OffVariation == nil {
		return ldreason.EvaluationDetail{VariationIndex: ldreason.NoVariation, Reason: reason}
	}
	return es.variationValue(flag, *flag.OffVariation, reason)
}

func (es *evaluationScope) variationValue(flag *ldmodel.FeatureFlag, index int, reason ldreason.EvaluationReason) ldreason.EvaluationDetail {
	if index < 0 || index >= len(flag.Variations) {
		return es.malformed(flag, fmt.Errorf("variation index %d out of range", index))
	}
	return ldreason.NewEvaluationDetail(flag.Variations[index], index, reason)
}

func (es *evaluationScope) malformed(flag *ldmodel.FeatureFlag, err error) ldreason.EvaluationDetail {
	es.owner.logger.Warn("malformed flag configuration",
		slog.String("flag", flag.Key),
		slog.String("error", err.Error()))
	return ldreason.NewEvaluationDetailForError(ldreason.EvalErrorMalformedFlag, nil)
}

func clauseAttrRef(clause *ldmodel.Clause) ldcontext.Reference {
	if clause.ContextKind == "" {
		return ldcontext.NewLiteralRef(clause.Attribute)
	}
	return ldcontext.NewRef(clause.Attribute)
}

func anyClauseValueMatches(clause *ldmodel.Clause, contextValue any) bool {
	for _, clauseValue := range clause.Values {
		if operatorMatch(clause.Op, contextValue, clauseValue) {
			return true
		}
	}
	return false
}

func maybeNegate(negate, result bool) bool {
	if negate {
		return !result
	}
	return result
}
