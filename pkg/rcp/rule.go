package rcp

import (
	"fmt"
	"math"
	"time"
)

// RuleKind discriminates the closed rule union. Unknown kinds are
// rejected at publish time, never at evaluation time.
type RuleKind string

const (
	// KindGuard blocks an action outright when its predicate is true.
	KindGuard RuleKind = "guard"

	// KindLimit enforces a numeric ceiling with configurable
	// truncate-or-block overflow behavior.
	KindLimit RuleKind = "limit"

	// KindGate conditionally enables the rest of the policy's rules for
	// an action based on context (time, geography, volume).
	KindGate RuleKind = "gate"

	// KindMutation transforms an action's proposed value.
	KindMutation RuleKind = "mutation"
)

// Valid reports whether the kind is part of the closed union.
func (k RuleKind) Valid() bool {
	switch k {
	case KindGuard, KindLimit, KindGate, KindMutation:
		return true
	}
	return false
}

// Rule is one entry in a policy's ordered rule set. Exactly one of the
// kind-specific payloads is set, matching Kind.
type Rule struct {
	// ID uniquely identifies the rule within its policy.
	ID string `yaml:"id" json:"id"`

	// Name is an optional human-readable label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Kind selects the payload.
	Kind RuleKind `yaml:"kind" json:"kind"`

	// Disabled turns the rule off without removing it from the document.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// Authority optionally overrides the authority required to change
	// this rule. It must not be lower than the policy's minimum; such
	// conflicts are rejected at publish time.
	Authority Authority `yaml:"-" json:"authority,omitempty"`

	// AuthorityName is the textual authority level as written in drafts.
	AuthorityName string `yaml:"authority,omitempty" json:"-"`

	Guard    *GuardRule    `yaml:"guard,omitempty" json:"guard,omitempty"`
	Limit    *LimitRule    `yaml:"limit,omitempty" json:"limit,omitempty"`
	Gate     *GateRule     `yaml:"gate,omitempty" json:"gate,omitempty"`
	Mutation *MutationRule `yaml:"mutation,omitempty" json:"mutation,omitempty"`
}

// Enabled reports whether the rule participates in evaluation.
func (r *Rule) Enabled() bool {
	return !r.Disabled
}

// payload returns the populated kind payload, or nil when the document
// is inconsistent (caught by validation).
func (r *Rule) payload() any {
	switch r.Kind {
	case KindGuard:
		if r.Guard != nil {
			return r.Guard
		}
	case KindLimit:
		if r.Limit != nil {
			return r.Limit
		}
	case KindGate:
		if r.Gate != nil {
			return r.Gate
		}
	case KindMutation:
		if r.Mutation != nil {
			return r.Mutation
		}
	}
	return nil
}

// GuardRule blocks the offending action when its condition holds.
type GuardRule struct {
	When Condition `yaml:"when" json:"when"`
}

// OverflowPolicy controls what a limit does when its ceiling is exceeded.
type OverflowPolicy string

const (
	// OverflowTruncate caps the proposed value at the ceiling; the
	// action's disposition becomes at least modified.
	OverflowTruncate OverflowPolicy = "truncate"

	// OverflowBlock blocks the action entirely.
	OverflowBlock OverflowPolicy = "block"
)

// Valid reports whether the overflow policy is known.
func (o OverflowPolicy) Valid() bool {
	return o == OverflowTruncate || o == OverflowBlock
}

// LimitRule enforces a numeric ceiling on one action field.
//
// Percentage fields (FieldDeltaPct) are measured against the action's
// current value, not a running total, so repeated evaluation of an
// unchanged proposal is idempotent.
type LimitRule struct {
	// Field is the measured quantity: proposed_value, delta_pct or
	// risk_score.
	Field Field `yaml:"field" json:"field"`

	// Max is the inclusive ceiling.
	Max float64 `yaml:"max" json:"max"`

	// Overflow is truncate or block. Fields that cannot be truncated
	// (risk_score) always block on overflow.
	Overflow OverflowPolicy `yaml:"overflow" json:"overflow"`
}

// GateMode controls what happens to an action when a gate is closed.
type GateMode string

const (
	// GateSkip skips the policy's remaining rules for the action; the
	// action passes through this policy unaffected.
	GateSkip GateMode = "skip"

	// GateSuspend suspends (blocks) the action while the gate is closed.
	GateSuspend GateMode = "suspend"
)

// Valid reports whether the gate mode is known.
func (m GateMode) Valid() bool {
	return m == GateSkip || m == GateSuspend
}

// GateRule is open only while all of its configured parts hold: the time
// window contains the evaluation timestamp, the batch region is in the
// allowed set, and the generic condition (typically a minimum traffic
// volume metric) is true. Unset parts are ignored.
type GateRule struct {
	Window    *TimeWindow `yaml:"window,omitempty" json:"window,omitempty"`
	Regions   []string    `yaml:"regions,omitempty" json:"regions,omitempty"`
	Condition *Condition  `yaml:"condition,omitempty" json:"condition,omitempty"`

	// OnClosed is skip or suspend. Defaults to skip.
	OnClosed GateMode `yaml:"on_closed,omitempty" json:"on_closed,omitempty"`
}

// Mode returns the configured gate mode, defaulting to GateSkip.
func (g *GateRule) Mode() GateMode {
	if g.OnClosed == "" {
		return GateSkip
	}
	return g.OnClosed
}

// Open evaluates the gate against an action and its context.
func (g *GateRule) Open(a *ProposedAction, ctx *Context) (bool, error) {
	if g.Window != nil && !g.Window.Contains(ctx.EvaluatedAt) {
		return false, nil
	}
	if len(g.Regions) > 0 && !containsString(g.Regions, ctx.Region) {
		return false, nil
	}
	if g.Condition != nil {
		ok, err := g.Condition.Eval(a, ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// TimeWindow is a daily wall-clock window in 24h "HH:MM" notation,
// inclusive of Start and exclusive of End. Windows that wrap midnight
// (Start > End) are supported.
type TimeWindow struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Contains reports whether t falls inside the window.
func (w *TimeWindow) Contains(t time.Time) bool {
	start, errS := minutesOfDay(w.Start)
	end, errE := minutesOfDay(w.End)
	if errS != nil || errE != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// Wraps midnight.
	return now >= start || now < end
}

// Validate checks the window's clock notation.
func (w *TimeWindow) Validate() error {
	if _, err := minutesOfDay(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := minutesOfDay(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func minutesOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MutationOp is the transform applied by a mutation rule.
type MutationOp string

const (
	// OpScale multiplies the proposed value by Factor.
	OpScale MutationOp = "scale"

	// OpOffset adds Delta to the proposed value.
	OpOffset MutationOp = "offset"

	// OpClampDeltaPct limits the proposed value's percentage change
	// relative to the current value to at most MaxDeltaPct.
	OpClampDeltaPct MutationOp = "clamp_delta_pct"

	// OpClampValue bounds the proposed value to [Min, Max].
	OpClampValue MutationOp = "clamp_value"
)

// Valid reports whether the mutation op is known.
func (o MutationOp) Valid() bool {
	switch o {
	case OpScale, OpOffset, OpClampDeltaPct, OpClampValue:
		return true
	}
	return false
}

// MutationRule transforms an action's proposed value. Mutations in a
// policy apply in declared order; each one sees the value produced by
// the previous.
type MutationRule struct {
	Op MutationOp `yaml:"op" json:"op"`

	// Factor is the multiplier for OpScale.
	Factor float64 `yaml:"factor,omitempty" json:"factor,omitempty"`

	// Delta is the additive offset for OpOffset.
	Delta float64 `yaml:"delta,omitempty" json:"delta,omitempty"`

	// MaxDeltaPct is the maximum percentage change for OpClampDeltaPct.
	MaxDeltaPct float64 `yaml:"max_delta_pct,omitempty" json:"max_delta_pct,omitempty"`

	// Min and Max bound the value for OpClampValue. Nil means unbounded
	// on that side.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Field names an addressable numeric quantity of an action or its
// evaluation context.
type Field string

const (
	// FieldRiskScore is the action's risk score in [0,1].
	FieldRiskScore Field = "risk_score"

	// FieldCurrentValue is the action's value before the proposal.
	FieldCurrentValue Field = "current_value"

	// FieldProposedValue is the value the producer wants to apply.
	FieldProposedValue Field = "proposed_value"

	// FieldDeltaPct is the absolute percentage change of the proposed
	// value relative to the current value.
	FieldDeltaPct Field = "delta_pct"
)

// metricPrefix addresses context metrics, e.g. "metric:traffic_volume".
const metricPrefix = "metric:"

// Resolve returns the numeric value of the field for an action in a
// context. Unknown fields and missing metrics return an error.
func (f Field) Resolve(a *ProposedAction, ctx *Context) (float64, error) {
	switch f {
	case FieldRiskScore:
		return a.RiskScore, nil
	case FieldCurrentValue:
		return a.CurrentValue, nil
	case FieldProposedValue:
		return a.ProposedValue, nil
	case FieldDeltaPct:
		return a.DeltaPct(), nil
	}
	if name, ok := cutMetric(string(f)); ok {
		if ctx == nil {
			return 0, fmt.Errorf("metric %q: no context", name)
		}
		v, ok := ctx.Metrics[name]
		if !ok {
			return 0, fmt.Errorf("metric %q not present in context", name)
		}
		return v, nil
	}
	return 0, fmt.Errorf("unknown field %q", f)
}

// Known reports whether the field is addressable (a built-in action
// field or a metric reference).
func (f Field) Known() bool {
	switch f {
	case FieldRiskScore, FieldCurrentValue, FieldProposedValue, FieldDeltaPct:
		return true
	}
	_, ok := cutMetric(string(f))
	return ok
}

func cutMetric(s string) (string, bool) {
	if len(s) > len(metricPrefix) && s[:len(metricPrefix)] == metricPrefix {
		return s[len(metricPrefix):], true
	}
	return "", false
}

// CompareOp is a numeric comparison operator used by conditions.
type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpEQ  CompareOp = "eq"
	OpNE  CompareOp = "ne"
)

// Valid reports whether the operator is known.
func (o CompareOp) Valid() bool {
	switch o {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// Condition is a single numeric predicate over an action field or a
// context metric.
type Condition struct {
	Field Field     `yaml:"field" json:"field"`
	Op    CompareOp `yaml:"op" json:"op"`
	Value float64   `yaml:"value" json:"value"`
}

// Eval evaluates the condition for an action in a context.
func (c *Condition) Eval(a *ProposedAction, ctx *Context) (bool, error) {
	v, err := c.Field.Resolve(a, ctx)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpGT:
		return v > c.Value, nil
	case OpGTE:
		return v >= c.Value, nil
	case OpLT:
		return v < c.Value, nil
	case OpLTE:
		return v <= c.Value, nil
	case OpEQ:
		return v == c.Value, nil
	case OpNE:
		return v != c.Value, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

func (c *Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, trimFloat(c.Value))
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
