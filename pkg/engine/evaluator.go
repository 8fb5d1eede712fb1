package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"vantage-hq/warden/pkg/engine/mutate"
	"vantage-hq/warden/pkg/rcp"
)

// Blocked-disposition reasons surfaced to callers. Operators use these
// to distinguish "policy working as intended" from "policy
// misconfigured".
const (
	ReasonGuard         = "guard"
	ReasonLimit         = "limit"
	ReasonGateSuspended = "gate_suspended"
	ReasonMalformed     = "malformed_action"
	ReasonRuleError     = "rule_error"
)

// Evaluator runs the guard/limit/gate/mutation pipeline over action
// batches. It holds no mutable state; a single Evaluator is safe for
// concurrent use across independent batches.
type Evaluator struct {
	logger *slog.Logger
}

// New creates an Evaluator.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger.With("component", "engine")}
}

// Evaluate runs a batch against a policy version set under the given
// context. The version set is first filtered to applicable policies and
// sorted into deterministic evaluation order.
//
// Evaluation never fails for malformed action data; such actions come
// back blocked with a distinct reason. An error is returned only for
// nil inputs or context cancellation.
func (e *Evaluator) Evaluate(ctx context.Context, policies []*rcp.PolicyVersion, batch *rcp.Batch, ectx *rcp.Context) (*rcp.EvaluationResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}
	if ectx == nil {
		return nil, fmt.Errorf("evaluation context cannot be nil")
	}

	applicable := Order(Applicable(policies, batch))

	result := &rcp.EvaluationResult{
		Actions:        make([]*rcp.ActionResult, 0, len(batch.Actions)),
		PolicyVersions: make([]rcp.VersionRef, 0, len(applicable)),
	}
	for _, pv := range applicable {
		result.PolicyVersions = append(result.PolicyVersions, pv.Ref())
	}

	for _, action := range batch.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, e.evaluateAction(action, applicable, ectx))
	}

	result.Aggregate(batch)

	e.logger.Debug("batch evaluated",
		"source", batch.Source,
		"actions", len(batch.Actions),
		"policies", len(applicable),
		"disposition", result.Batch,
	)

	return result, nil
}

// evaluateAction walks the ordered policy set for a single action.
func (e *Evaluator) evaluateAction(action *rcp.ProposedAction, policies []*rcp.PolicyVersion, ectx *rcp.Context) *rcp.ActionResult {
	res := &rcp.ActionResult{ActionID: action.ID}

	// Unparseable or out-of-range data defaults to the most
	// conservative treatment, never a silent allow.
	if reason := action.Malformed(); reason != "" {
		res.Disposition = rcp.DispositionBlocked
		res.Reason = ReasonMalformed
		res.FinalValue = action.CurrentValue
		res.PreMutationValue = action.CurrentValue
		res.Fired = append(res.Fired, rcp.FiredRule{
			RuleID: "malformed",
			Effect: rcp.EffectBlocked,
			Detail: reason,
		})
		return res
	}

	// No-op proposals never trigger risk limits.
	if action.NoOp() {
		res.Disposition = rcp.DispositionAllowed
		res.FinalValue = action.ProposedValue
		res.PreMutationValue = action.ProposedValue
		return res
	}

	value := action.ProposedValue
	preMutation := math.NaN() // set when the first mutation applies
	modified := false

policies:
	for _, pv := range policies {
		policy := pv.Policy
		monitor := policy.Mode == rcp.ModeMonitor

		for _, rule := range policy.EnabledRules() {
			fire := func(effect rcp.RuleEffect, detail string) {
				res.Fired = append(res.Fired, rcp.FiredRule{
					PolicyID:      policy.ID,
					PolicyVersion: pv.Version,
					RuleID:        rule.ID,
					Kind:          rule.Kind,
					Effect:        effect,
					Detail:        detail,
				})
			}

			switch rule.Kind {
			case rcp.KindGate:
				open, err := rule.Gate.Open(scratch(action, value), ectx)
				if err != nil {
					// A gate that cannot be decided is closed.
					open = false
				}
				if open {
					continue
				}
				if rule.Gate.Mode() == rcp.GateSuspend {
					if monitor {
						fire(rcp.EffectObserved, "gate closed, would suspend")
						continue
					}
					fire(rcp.EffectSuspended, "gate closed")
					res.Disposition = rcp.DispositionBlocked
					res.Reason = ReasonGateSuspended
					break policies
				}
				// Closed skip-gate: the policy's remaining rules do not
				// apply to this action; later policies still do.
				fire(rcp.EffectGateClosed, "gate closed, remaining rules skipped")
				continue policies

			case rcp.KindGuard:
				triggered, err := rule.Guard.When.Eval(scratch(action, value), ectx)
				detail := rule.Guard.When.String()
				if err != nil {
					// Undecidable guards trigger conservatively.
					triggered = true
					detail = fmt.Sprintf("undecidable predicate: %v", err)
				}
				if !triggered {
					continue
				}
				if monitor {
					fire(rcp.EffectObserved, "would block: "+detail)
					continue
				}
				fire(rcp.EffectBlocked, detail)
				res.Disposition = rcp.DispositionBlocked
				res.Reason = ReasonGuard
				break policies

			case rcp.KindLimit:
				effect, newValue, detail := applyLimit(rule.Limit, action, value, ectx)
				switch effect {
				case rcp.EffectTruncated:
					if monitor {
						fire(rcp.EffectObserved, "would truncate: "+detail)
						continue
					}
					fire(rcp.EffectTruncated, detail)
					value = newValue
					modified = true
				case rcp.EffectBlocked:
					if monitor {
						fire(rcp.EffectObserved, "would block: "+detail)
						continue
					}
					fire(rcp.EffectBlocked, detail)
					res.Disposition = rcp.DispositionBlocked
					res.Reason = ReasonLimit
					break policies
				}

			case rcp.KindMutation:
				mres, err := mutate.Apply(rule.Mutation, action.CurrentValue, value)
				if err != nil {
					// Only possible if a published document drifted past
					// validation; fail closed rather than guess.
					fire(rcp.EffectBlocked, fmt.Sprintf("mutation failed: %v", err))
					res.Disposition = rcp.DispositionBlocked
					res.Reason = ReasonRuleError
					break policies
				}
				if !mres.Changed {
					continue
				}
				if monitor {
					fire(rcp.EffectObserved, "would mutate: "+mres.Detail)
					continue
				}
				if math.IsNaN(preMutation) {
					preMutation = value
				}
				fire(rcp.EffectMutated, mres.Detail)
				value = mres.Value
				modified = true
			}
		}
	}

	if res.Disposition == rcp.DispositionBlocked {
		res.FinalValue = action.CurrentValue
		res.PreMutationValue = action.CurrentValue
		return res
	}

	if modified {
		res.Disposition = rcp.DispositionModified
	} else {
		res.Disposition = rcp.DispositionAllowed
	}
	res.FinalValue = value
	if math.IsNaN(preMutation) {
		preMutation = value
	}
	res.PreMutationValue = preMutation
	return res
}

// applyLimit measures a limit's field against the working value and
// decides the overflow outcome. It returns the effect (zero value when
// the limit is within bounds), the truncated value when applicable, and
// an operator-facing detail string.
func applyLimit(l *rcp.LimitRule, action *rcp.ProposedAction, value float64, ectx *rcp.Context) (rcp.RuleEffect, float64, string) {
	measured, err := l.Field.Resolve(scratch(action, value), ectx)
	if err != nil {
		return rcp.EffectBlocked, value, fmt.Sprintf("unmeasurable limit field: %v", err)
	}
	if measured <= l.Max {
		return "", value, ""
	}

	detail := fmt.Sprintf("%s=%g exceeds max %g", l.Field, measured, l.Max)
	if l.Overflow != rcp.OverflowTruncate {
		return rcp.EffectBlocked, value, detail
	}

	switch l.Field {
	case rcp.FieldProposedValue:
		return rcp.EffectTruncated, l.Max, detail + " (truncated)"
	case rcp.FieldDeltaPct:
		if action.CurrentValue == 0 {
			// No baseline to truncate against.
			return rcp.EffectBlocked, value, detail + " (no baseline, cannot truncate)"
		}
		maxDelta := math.Abs(action.CurrentValue) * l.Max / 100
		truncated := action.CurrentValue + math.Copysign(maxDelta, value-action.CurrentValue)
		return rcp.EffectTruncated, truncated, detail + " (truncated)"
	default:
		// Risk scores and context metrics are facts, not proposals;
		// they cannot be truncated.
		return rcp.EffectBlocked, value, detail + " (field not truncatable)"
	}
}

// scratch returns a copy of the action with the working proposed value,
// so rules later in the pipeline observe upstream truncations and
// mutations.
func scratch(a *rcp.ProposedAction, value float64) *rcp.ProposedAction {
	if value == a.ProposedValue {
		return a
	}
	dup := *a
	dup.ProposedValue = value
	return &dup
}
