package rcp

// Disposition is the per-action outcome of an evaluation.
type Disposition string

const (
	DispositionAllowed  Disposition = "allowed"
	DispositionModified Disposition = "modified"
	DispositionBlocked  Disposition = "blocked"
)

// BatchDisposition aggregates per-action dispositions.
type BatchDisposition string

const (
	BatchAllowed  BatchDisposition = "allowed"
	BatchModified BatchDisposition = "modified"
	BatchBlocked  BatchDisposition = "blocked"
	BatchMixed    BatchDisposition = "mixed"
)

// RuleEffect describes what a fired rule did to an action.
type RuleEffect string

const (
	// EffectBlocked means a guard fired or a limit overflowed with
	// block semantics.
	EffectBlocked RuleEffect = "blocked"

	// EffectTruncated means a limit capped the proposed value.
	EffectTruncated RuleEffect = "truncated"

	// EffectMutated means a mutation transformed the proposed value.
	EffectMutated RuleEffect = "mutated"

	// EffectSuspended means a closed gate suspended the action.
	EffectSuspended RuleEffect = "suspended"

	// EffectGateClosed means a closed gate skipped the policy's
	// remaining rules for the action.
	EffectGateClosed RuleEffect = "gate_closed"

	// EffectObserved means the rule would have acted but its policy is
	// in monitor mode; the action was left untouched.
	EffectObserved RuleEffect = "observed"
)

// FiredRule is one rule that fired during evaluation, in firing order.
type FiredRule struct {
	PolicyID      string     `json:"policy_id"`
	PolicyVersion int        `json:"policy_version"`
	RuleID        string     `json:"rule_id"`
	Kind          RuleKind   `json:"kind"`
	Effect        RuleEffect `json:"effect"`

	// Detail is a short operator-facing explanation, e.g. the predicate
	// that matched or the value a limit truncated to.
	Detail string `json:"detail,omitempty"`
}

// ActionResult is the final outcome for one action.
type ActionResult struct {
	ActionID    string      `json:"action_id"`
	Disposition Disposition `json:"disposition"`

	// FinalValue is the value to apply: the proposed value, possibly
	// truncated or mutated. For blocked actions it equals the current
	// value (no change is executed).
	FinalValue float64 `json:"final_value"`

	// PreMutationValue is the value after guards and limits but before
	// any mutation ran. What-if simulation re-applies alternate
	// mutation parameters from this point without re-deriving blocking
	// decisions.
	PreMutationValue float64 `json:"pre_mutation_value"`

	// Reason explains a blocked disposition ("guard", "limit",
	// "gate_suspended", "malformed_action").
	Reason string `json:"reason,omitempty"`

	// Fired lists the rules that fired for this action, in order.
	Fired []FiredRule `json:"fired,omitempty"`
}

// Blocked reports whether the action ended up blocked.
func (r *ActionResult) Blocked() bool {
	return r.Disposition == DispositionBlocked
}

// Stats summarizes an evaluation.
type Stats struct {
	Allowed  int `json:"allowed"`
	Modified int `json:"modified"`
	Blocked  int `json:"blocked"`

	// TotalRiskCost is the sum of risk scores of allowed and modified
	// actions; blocked actions carry no executed risk.
	TotalRiskCost float64 `json:"total_risk_cost"`
}

// EvaluationResult is the complete outcome of evaluating one batch
// against one policy version set. Two evaluations of identical inputs
// produce identical results, including ordering.
type EvaluationResult struct {
	// Batch is the aggregate disposition.
	Batch BatchDisposition `json:"batch"`

	// Actions holds per-action outcomes in submission order.
	Actions []*ActionResult `json:"actions"`

	// Stats are the summary counters.
	Stats Stats `json:"stats"`

	// PolicyVersions is the exact version set the evaluation observed,
	// in evaluation order.
	PolicyVersions []VersionRef `json:"policy_versions"`
}

// Aggregate recomputes the batch disposition and stats from the
// per-action results.
func (r *EvaluationResult) Aggregate(batch *Batch) {
	r.Stats = Stats{}
	for i, ar := range r.Actions {
		switch ar.Disposition {
		case DispositionAllowed:
			r.Stats.Allowed++
		case DispositionModified:
			r.Stats.Modified++
		case DispositionBlocked:
			r.Stats.Blocked++
		}
		if ar.Disposition != DispositionBlocked && i < len(batch.Actions) {
			r.Stats.TotalRiskCost += batch.Actions[i].RiskScore
		}
	}

	total := len(r.Actions)
	switch {
	case total == 0:
		r.Batch = BatchAllowed
	case r.Stats.Allowed == total:
		r.Batch = BatchAllowed
	case r.Stats.Blocked == total:
		r.Batch = BatchBlocked
	case r.Stats.Blocked == 0:
		r.Batch = BatchModified
	default:
		r.Batch = BatchMixed
	}
}
